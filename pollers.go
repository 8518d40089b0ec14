package panelkit

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/panelkit/basis"
)

// BoardAPI is the slice of the cloud client that pollers and entities consume.
// *basis.Client satisfies it; tests substitute fakes.
type BoardAPI interface {
	DiscoverSwitchboards(ctx context.Context) ([]basis.DiscoveredBoard, error)
	GetSwitchboard(ctx context.Context, serial string) (*basis.Switchboard, error)
	GetEnergyUsage(ctx context.Context, serial string, startTime time.Time) (basis.EnergyUsage, error)
	SetSubcircuitStandby(ctx context.Context, boardSerial, subcircuitSerial string, standby bool) (basis.StandbyResult, error)
}

// LivePoller keeps the freshest full snapshot of one switchboard. A failed
// poll keeps the previous snapshot and only flips the ok flag, so entities
// can keep presenting last known values while marked unavailable.
type LivePoller struct {
	serial   string
	api      BoardAPI
	interval time.Duration

	mu          sync.RWMutex
	data        *basis.Switchboard
	ok          bool
	lastErr     error
	lastSuccess time.Time

	refreshCh chan struct{}
	log       *log.Logger
}

func NewLivePoller(api BoardAPI, serial string, interval time.Duration) *LivePoller {
	return &LivePoller{
		serial:    serial,
		api:       api,
		interval:  interval,
		refreshCh: make(chan struct{}, 1),
		log: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "live: ",
			Level:  log.GetLevel(),
		}),
	}
}

// Refresh fetches one snapshot synchronously. The first call decides whether
// a newly discovered board gets entities at all, so errors propagate.
func (p *LivePoller) Refresh(ctx context.Context) error {
	board, err := p.api.GetSwitchboard(ctx, p.serial)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.ok = false
		p.lastErr = err
		return errors.Wrapf(err, "live poll of %s failed", p.serial)
	}

	p.data = board
	p.ok = true
	p.lastErr = nil
	p.lastSuccess = time.Now()
	return nil
}

// Run polls on the configured cadence until ctx is done. RequestRefresh
// wakes it early without waiting out the interval.
func (p *LivePoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.refreshCh:
		}

		if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("poll failed", "serial", p.serial, "error", err)
		}
	}
}

// RequestRefresh schedules an immediate poll. Never blocks; a refresh
// already pending is good enough.
func (p *LivePoller) RequestRefresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

// Snapshot returns the last good snapshot and whether the most recent poll
// succeeded. The snapshot may be non-nil with ok false: stale but presentable.
func (p *LivePoller) Snapshot() (*basis.Switchboard, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data, p.ok
}

// Subcircuit looks up a circuit by serial in the current snapshot.
func (p *LivePoller) Subcircuit(serial string) *basis.Subcircuit {
	board, _ := p.Snapshot()
	return board.Subcircuit(serial)
}

func (p *LivePoller) LastSuccess() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSuccess
}

func (p *LivePoller) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// EnergyTotals carries the two accumulation windows presented as entities.
type EnergyTotals struct {
	Today basis.EnergyUsage
	Month basis.EnergyUsage
}

// EnergyPoller keeps cumulative energy totals since local midnight and since
// the first of the local month. Window starts are recomputed every poll, so
// totals roll over naturally at midnight and month end.
type EnergyPoller struct {
	serial   string
	api      BoardAPI
	interval time.Duration
	loc      *time.Location
	now      func() time.Time

	mu          sync.RWMutex
	totals      EnergyTotals
	ok          bool
	lastErr     error
	lastSuccess time.Time

	refreshCh chan struct{}
	log       *log.Logger
}

func NewEnergyPoller(api BoardAPI, serial string, interval time.Duration) *EnergyPoller {
	return &EnergyPoller{
		serial:    serial,
		api:       api,
		interval:  interval,
		loc:       time.Local,
		now:       time.Now,
		refreshCh: make(chan struct{}, 1),
		log: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "energy: ",
			Level:  log.GetLevel(),
		}),
	}
}

// Refresh fetches both windows. Partial results are not published: either
// both queries succeed or the poller reports its previous totals degraded.
func (p *EnergyPoller) Refresh(ctx context.Context) error {
	now := p.now().In(p.loc)
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.loc)
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, p.loc)

	today, err := p.api.GetEnergyUsage(ctx, p.serial, startOfDay)
	if err == nil {
		var month basis.EnergyUsage
		month, err = p.api.GetEnergyUsage(ctx, p.serial, startOfMonth)
		if err == nil {
			p.mu.Lock()
			p.totals = EnergyTotals{Today: today, Month: month}
			p.ok = true
			p.lastErr = nil
			p.lastSuccess = time.Now()
			p.mu.Unlock()
			return nil
		}
	}

	p.mu.Lock()
	p.ok = false
	p.lastErr = err
	p.mu.Unlock()
	return errors.Wrapf(err, "energy poll of %s failed", p.serial)
}

func (p *EnergyPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.refreshCh:
		}

		if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("poll failed", "serial", p.serial, "error", err)
		}
	}
}

func (p *EnergyPoller) RequestRefresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

// Totals returns the last published totals and whether the most recent poll
// succeeded.
func (p *EnergyPoller) Totals() (EnergyTotals, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totals, p.ok
}

func (p *EnergyPoller) LastSuccess() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSuccess
}

func (p *EnergyPoller) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}
