package panelkit

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/panelkit/basis"
	"github.com/hubertat/panelkit/mqtt"
	"github.com/hubertat/panelkit/registry"
	"github.com/hubertat/panelkit/session"
)

const defaultName = "panelkit"
const registryFileName = "devices.db"

const (
	defaultDiscoverInterval = 5 * time.Minute
	defaultLiveInterval     = 5 * time.Second
	defaultEnergyInterval   = 5 * time.Minute
)

// PanelKit is the root configuration and runtime. Exported fields come from
// the JSON config file; Init wires the components they describe and Run
// drives them until the context is done.
type PanelKit struct {
	Name string

	ClientID    string
	RedirectURL string
	ApiUrl      string
	StateDir    string

	DiscoverEvery string
	LiveEvery     string
	EnergyEvery   string

	HkPin       string
	HkDirectory string
	HkAddress   string
	HkDebug     bool

	MqttBroker string

	InfluxUrl    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	StatusAddr string

	api        BoardAPI
	session    *session.Session
	registry   *registry.Registry
	hk         *hkRunner
	mqttClient *mqtt.MqttClient
	bridge     *MqttBridge
	influx     *InfluxRecorder
	status     *StatusServer

	discoverInterval time.Duration
	liveInterval     time.Duration
	energyInterval   time.Duration

	boards   map[string]*boardRuntime
	known    map[string]bool
	boardsCh chan []basis.DiscoveredBoard

	version   string
	startedAt time.Time
	rebuilds  int

	mu  sync.Mutex
	log *log.Logger
}

func (pk *PanelKit) Init(version string) error {
	pk.version = version
	pk.startedAt = time.Now()
	pk.boards = map[string]*boardRuntime{}
	pk.known = map[string]bool{}
	pk.boardsCh = make(chan []basis.DiscoveredBoard, 1)
	pk.log = log.NewWithOptions(os.Stderr, log.Options{
		Prefix: defaultName + ": ",
		Level:  log.GetLevel(),
	})

	if len(pk.Name) < 1 {
		pk.Name = defaultName
	}

	var err error
	pk.discoverInterval, err = parseInterval(pk.DiscoverEvery, defaultDiscoverInterval)
	if err != nil {
		return errors.Wrap(err, "bad DiscoverEvery interval")
	}
	pk.liveInterval, err = parseInterval(pk.LiveEvery, defaultLiveInterval)
	if err != nil {
		return errors.Wrap(err, "bad LiveEvery interval")
	}
	pk.energyInterval, err = parseInterval(pk.EnergyEvery, defaultEnergyInterval)
	if err != nil {
		return errors.Wrap(err, "bad EnergyEvery interval")
	}

	if pk.api == nil {
		pk.session, err = pk.NewSession()
		if err != nil {
			return err
		}
		if err := pk.session.Load(); err != nil {
			return errors.Wrap(err, "no usable session")
		}
		client := basis.NewClient(pk.session, version)
		if len(pk.ApiUrl) > 0 {
			client.BaseURL = pk.ApiUrl
		}
		pk.api = client
	}

	pk.registry, err = registry.Open(filepath.Join(pk.stateDir(), registryFileName))
	if err != nil {
		return errors.Wrap(err, "failed to open device registry")
	}

	if len(pk.HkPin) == 8 {
		pk.hk = &hkRunner{
			Pin:       pk.HkPin,
			Directory: pk.HkDirectory,
			Addr:      pk.HkAddress,
			Debug:     pk.HkDebug,
			name:      pk.Name,
			version:   version,
			log: log.NewWithOptions(os.Stderr, log.Options{
				Prefix: "homekit: ",
				Level:  log.GetLevel(),
			}),
		}
	} else if len(pk.HkPin) > 0 {
		pk.log.Warn("HkPin must be 8 digits, HomeKit disabled")
	}

	if len(pk.MqttBroker) > 0 {
		mc, err := mqtt.NewMqttClient(pk.MqttBroker, pk.Name)
		if err != nil {
			return errors.Wrap(err, "failed to create mqtt client")
		}
		pk.mqttClient = mc
		pk.bridge = NewMqttBridge(mc, pk.api)
		if err := mc.Connect([]mqtt.MqttHandler{pk.bridge}); err != nil {
			return errors.Wrap(err, "failed to connect to mqtt broker")
		}
	}

	if len(pk.InfluxUrl) > 0 && len(pk.InfluxToken) > 0 {
		pk.influx = NewInfluxRecorder(pk.InfluxUrl, pk.InfluxToken, pk.InfluxOrg, pk.InfluxBucket)
	}

	if len(pk.StatusAddr) > 0 {
		pk.status = NewStatusServer(pk.StatusAddr, pk)
		if err := pk.status.Start(); err != nil {
			return errors.Wrap(err, "failed to start status server")
		}
	}

	return nil
}

func (pk *PanelKit) stateDir() string {
	if len(pk.StateDir) < 1 {
		return "."
	}
	return pk.StateDir
}

// NewSession builds the cloud session from the configured client id without
// loading a stored token, for the interactive login flow.
func (pk *PanelKit) NewSession() (*session.Session, error) {
	if len(pk.ClientID) < 1 {
		return nil, errors.New("ClientID is required")
	}
	return session.New(pk.ClientID, pk.RedirectURL, pk.stateDir()), nil
}

// Run drives discovery, reconciliation and the sync cadence until ctx is
// done. Reconciliation and entity syncing happen on this goroutine only, so
// a rebuild never interleaves with a sync pass.
func (pk *PanelKit) Run(ctx context.Context) error {
	go pk.runDiscovery(ctx)

	ticker := time.NewTicker(pk.liveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case discovered := <-pk.boardsCh:
			pk.reconcile(ctx, discovered)
		case <-ticker.C:
			pk.syncAll()
		}
	}
}

// syncAll pushes the freshest poller data into every presentation surface.
func (pk *PanelKit) syncAll() {
	for _, runtime := range pk.boards {
		for _, thing := range runtime.things() {
			if err := thing.Sync(); err != nil {
				pk.log.Debug("sync failed", "error", err)
			}
		}
		if pk.influx != nil {
			pk.influx.Record(runtime.device, runtime.live, runtime.energy)
		}
	}

	if pk.bridge != nil {
		pk.bridge.PublishStates()
	}
}

func (pk *PanelKit) Close() (err error) {
	if pk.hk != nil {
		pk.hk.Stop()
	}

	if pk.status != nil {
		err = appendErr(err, pk.status.Close())
	}
	if pk.mqttClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = appendErr(err, pk.mqttClient.Disconnect(ctx))
		cancel()
	}
	if pk.influx != nil {
		err = appendErr(err, pk.influx.Close())
	}
	if pk.registry != nil {
		err = appendErr(err, pk.registry.Close())
	}

	return
}

// StatusSummary implements the status server's overview.
func (pk *PanelKit) StatusSummary() StatusSummary {
	pk.mu.Lock()
	defer pk.mu.Unlock()

	return StatusSummary{
		Name:      pk.Name,
		Version:   pk.version,
		StartedAt: pk.startedAt,
		Uptime:    time.Since(pk.startedAt).Round(time.Second).String(),
		Boards:    len(pk.boards),
		Rebuilds:  pk.rebuilds,
	}
}

// BoardStatuses implements the status server's per-board health view.
func (pk *PanelKit) BoardStatuses() []BoardStatus {
	pk.mu.Lock()
	defer pk.mu.Unlock()

	serials := make([]string, 0, len(pk.boards))
	for serial := range pk.boards {
		serials = append(serials, serial)
	}
	sort.Strings(serials)

	statuses := make([]BoardStatus, 0, len(serials))
	for _, serial := range serials {
		runtime := pk.boards[serial]
		board, liveOk := runtime.live.Snapshot()
		totals, energyOk := runtime.energy.Totals()

		status := BoardStatus{
			Serial:            serial,
			SiteID:            runtime.site,
			Name:              runtime.device.Name,
			Model:             runtime.device.Model,
			Connected:         board.Connected(),
			LiveOk:            liveOk,
			LiveLastSuccess:   timePtr(runtime.live.LastSuccess()),
			LiveError:         errText(runtime.live.LastError()),
			EnergyOk:          energyOk,
			EnergyLastSuccess: timePtr(runtime.energy.LastSuccess()),
			EnergyError:       errText(runtime.energy.LastError()),
		}
		if board != nil {
			status.Subcircuits = len(board.Subcircuits)
			if board.LiveState != nil {
				power := board.LiveState.Power
				status.PowerW = &power
			}
		}
		if !runtime.energy.LastSuccess().IsZero() {
			status.Energy = &BoardEnergy{
				Today: EnergyWindow{ImportKwh: totals.Today.ImportKwh, ExportKwh: totals.Today.ExportKwh},
				Month: EnergyWindow{ImportKwh: totals.Month.ImportKwh, ExportKwh: totals.Month.ExportKwh},
			}
		}
		statuses = append(statuses, status)
	}

	return statuses
}

func parseInterval(value string, fallback time.Duration) (time.Duration, error) {
	if len(value) < 1 {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, errors.Errorf("interval must be positive, got %s", value)
	}
	return parsed, nil
}

func appendErr(err, next error) error {
	if next == nil {
		return err
	}
	if err == nil {
		return next
	}
	return errors.Wrap(err, next.Error())
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
