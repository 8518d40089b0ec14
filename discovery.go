package panelkit

import (
	"context"
	"time"

	"github.com/hubertat/panelkit/basis"
)

// runDiscovery lists the account's switchboards on a fixed cadence, starting
// immediately, and publishes every successful result for reconciliation.
// The reconciler diffs for itself, so unchanged results are cheap no-ops
// there and boards that failed setup get retried on the next pass.
func (pk *PanelKit) runDiscovery(ctx context.Context) {
	ticker := time.NewTicker(pk.discoverInterval)
	defer ticker.Stop()

	for {
		boards, err := pk.api.DiscoverSwitchboards(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			pk.log.Warn("discovery failed", "error", err)
		} else {
			pk.logNewcomers(boards)
			pk.publishDiscovered(boards)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// logNewcomers notes serials seen for the first time in this process. The
// known set only feeds this log line, reconciliation recomputes its own
// diff from the registry every time.
func (pk *PanelKit) logNewcomers(boards []basis.DiscoveredBoard) {
	for _, board := range boards {
		if !pk.known[board.Serial] {
			pk.known[board.Serial] = true
			pk.log.Info("discovered new switchboard",
				"serial", board.Serial, "site", board.SiteID, "connected", board.Connected)
		}
	}
}

// publishDiscovered hands the result to the reconciler, replacing a pending
// one: the reconciler always consumes the freshest set, never a backlog.
func (pk *PanelKit) publishDiscovered(boards []basis.DiscoveredBoard) {
	for {
		select {
		case pk.boardsCh <- boards:
			return
		default:
		}
		select {
		case <-pk.boardsCh:
		default:
		}
	}
}
