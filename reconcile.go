package panelkit

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/hubertat/panelkit/basis"
	"github.com/hubertat/panelkit/registry"
)

// boardRuntime ties one switchboard serial to its pollers and the entities
// built from their snapshots. Pollers live as long as the board stays
// discovered; entities are recreated on every rebuild.
type boardRuntime struct {
	serial string
	site   string
	device registry.Device

	live   *LivePoller
	energy *EnergyPoller
	cancel context.CancelFunc

	board    *BoardAccessory
	circuits []*CircuitAccessory
}

func (rt *boardRuntime) things() []HkThing {
	things := []HkThing{}
	if rt.board != nil {
		things = append(things, rt.board)
	}
	for _, circuit := range rt.circuits {
		things = append(things, circuit)
	}
	return things
}

// reconcile aligns pollers, device records and entities with one published
// discovery result. An unchanged set is a no-op. Any change stops the
// presentation server, applies removals and additions, re-registers every
// current device and rebuilds all entities from scratch, so the presentation
// layer never observes a half-migrated state.
func (pk *PanelKit) reconcile(ctx context.Context, discovered []basis.DiscoveredBoard) {
	discoveredBySerial := map[string]basis.DiscoveredBoard{}
	for _, board := range discovered {
		discoveredBySerial[board.Serial] = board
	}

	registered, err := pk.registry.ListSerials(ctx)
	if err != nil {
		pk.log.Error("cannot reconcile, registry listing failed", "error", err)
		return
	}

	removed := []string{}
	for _, serial := range registered {
		if _, stillThere := discoveredBySerial[serial]; !stillThere {
			removed = append(removed, serial)
		}
	}

	added := []basis.DiscoveredBoard{}
	for _, board := range discovered {
		if _, exists := pk.boards[board.Serial]; !exists {
			added = append(added, board)
		}
	}

	if len(removed) == 0 && len(added) == 0 {
		return
	}

	pk.log.Info("switchboard set changed", "added", len(added), "removed", len(removed))
	if pk.hk != nil {
		pk.hk.Stop()
	}

	for _, serial := range removed {
		pk.dropBoard(ctx, serial)
	}

	for _, board := range added {
		runtime, err := pk.startBoard(ctx, board)
		if err != nil {
			pk.log.Error("switchboard setup failed, will retry after next discovery",
				"serial", board.Serial, "error", err)
			continue
		}
		pk.mu.Lock()
		pk.boards[board.Serial] = runtime
		pk.mu.Unlock()
	}

	pk.rebuild(ctx, discoveredBySerial)
}

// dropBoard stops and forgets one removed switchboard. A missing runtime or
// registry record means the state was already consistent; both are logged
// anomalies, not failures.
func (pk *PanelKit) dropBoard(ctx context.Context, serial string) {
	runtime := pk.boards[serial]
	if runtime != nil {
		runtime.cancel()
		pk.mu.Lock()
		delete(pk.boards, serial)
		pk.mu.Unlock()
	} else {
		pk.log.Warn("registered switchboard had no pollers", "serial", serial)
	}

	if pk.bridge != nil {
		pk.bridge.RetractBoard(serial)
	}
	if pk.influx != nil {
		pk.influx.Forget(serial)
	}

	err := pk.registry.Delete(ctx, serial)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		pk.log.Warn("removed switchboard had no device record", "serial", serial)
	case err != nil:
		pk.log.Error("failed to delete device record", "serial", serial, "error", err)
	default:
		pk.log.Info("forgot switchboard", "serial", serial)
	}
}

// startBoard creates both pollers for a newly discovered switchboard and
// performs their first fetch synchronously. A failed first fetch aborts the
// whole board and leaves nothing running.
func (pk *PanelKit) startBoard(ctx context.Context, discovered basis.DiscoveredBoard) (*boardRuntime, error) {
	live := NewLivePoller(pk.api, discovered.Serial, pk.liveInterval)
	energy := NewEnergyPoller(pk.api, discovered.Serial, pk.energyInterval)

	if err := live.Refresh(ctx); err != nil {
		return nil, err
	}
	if err := energy.Refresh(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	go live.Run(runCtx)
	go energy.Run(runCtx)

	pk.log.Info("switchboard added", "serial", discovered.Serial, "site", discovered.SiteID)

	return &boardRuntime{
		serial: discovered.Serial,
		site:   discovered.SiteID,
		live:   live,
		energy: energy,
		cancel: cancel,
	}, nil
}

// rebuild re-registers every current device from its freshest snapshot,
// recreates all entities and brings the presentation server back up.
func (pk *PanelKit) rebuild(ctx context.Context, discoveredBySerial map[string]basis.DiscoveredBoard) {
	serials := make([]string, 0, len(pk.boards))
	for serial := range pk.boards {
		serials = append(serials, serial)
	}
	sort.Strings(serials)

	things := []HkThing{}
	for _, serial := range serials {
		runtime := pk.boards[serial]
		board, _ := runtime.live.Snapshot()

		site := runtime.site
		if fresh, ok := discoveredBySerial[serial]; ok {
			site = fresh.SiteID
		}
		device := deviceFromSnapshot(serial, site, board)
		if err := pk.registry.Upsert(ctx, device); err != nil {
			pk.log.Error("failed to register device", "serial", serial, "error", err)
		}

		pk.mu.Lock()
		runtime.site = site
		runtime.device = device
		pk.mu.Unlock()

		if err := pk.buildEntities(runtime); err != nil {
			pk.log.Error("failed to build entities", "serial", serial, "error", err)
			continue
		}
		things = append(things, runtime.things()...)

		if pk.bridge != nil {
			if err := pk.bridge.AnnounceBoard(device, runtime.live, runtime.energy); err != nil {
				pk.log.Warn("mqtt announcement incomplete", "serial", serial, "error", err)
			}
		}
	}

	pk.mu.Lock()
	pk.rebuilds++
	pk.mu.Unlock()
	pk.log.Info("entities rebuilt", "boards", len(serials), "accessories", len(things))

	if pk.hk != nil {
		if err := pk.hk.Start(ctx, things); err != nil {
			pk.log.Error("failed to start HomeKit server", "error", err)
		}
	}
}

// buildEntities recreates the accessory set of one board from the current
// snapshot and syncs initial values in. Spare circuits present nothing,
// standby locked circuits come back as meters without a switch.
func (pk *PanelKit) buildEntities(runtime *boardRuntime) error {
	runtime.board = &BoardAccessory{
		Serial:   runtime.serial,
		Name:     runtime.device.Name,
		Model:    runtime.device.Model,
		Firmware: runtime.device.SwVersion,
		Hardware: runtime.device.HwVersion,
	}
	if err := runtime.board.Init(runtime.live, runtime.energy); err != nil {
		return err
	}
	if err := runtime.board.Sync(); err != nil {
		pk.log.Debug("initial sync incomplete", "serial", runtime.serial, "error", err)
	}

	runtime.circuits = nil
	board, _ := runtime.live.Snapshot()
	if board == nil {
		return nil
	}

	for i := range board.Subcircuits {
		sub := &board.Subcircuits[i]
		label := sub.Label()
		if label == spareLabel {
			continue
		}

		circuit := &CircuitAccessory{
			BoardSerial: runtime.serial,
			Serial:      sub.Serial,
			Number:      sub.Number,
			Label:       label,
			Switchable:  sub.Config != nil && !sub.Config.StandbyLocked,
			State:       sub.IsLive(),
		}
		if err := circuit.Init(pk.api, runtime.live); err != nil {
			return err
		}
		if err := circuit.Sync(); err != nil {
			pk.log.Debug("initial sync incomplete",
				"serial", runtime.serial, "subcircuit", sub.Serial, "error", err)
		}
		runtime.circuits = append(runtime.circuits, circuit)
	}

	return nil
}

// deviceFromSnapshot derives the registered device record from a discovery
// row and the board's current snapshot. Unknown models coerce to the default,
// hardware version comes from the first configured subcircuit.
func deviceFromSnapshot(serial, site string, board *basis.Switchboard) registry.Device {
	dev := registry.Device{
		Serial:       serial,
		SiteID:       site,
		Manufacturer: brandName,
		Name:         "Basis Panel " + serial,
		Model:        defaultModel,
		HwVersion:    "Unknown",
	}

	if board == nil {
		return dev
	}

	if board.Model != "" && board.Model != "unknown" {
		dev.Model = board.Model
	}
	dev.SwVersion = board.Version
	for i := range board.Subcircuits {
		if cfg := board.Subcircuits[i].Config; cfg != nil && cfg.Version != "" {
			dev.HwVersion = cfg.Version
			break
		}
	}

	return dev
}
