package panelkit

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubertat/panelkit/basis"
	"github.com/hubertat/panelkit/registry"
)

func testPanelKit(t *testing.T, api BoardAPI) *PanelKit {
	t.Helper()

	reg, err := registry.Open(filepath.Join(t.TempDir(), "devices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	return &PanelKit{
		Name:             "panelkit-test",
		api:              api,
		registry:         reg,
		boards:           map[string]*boardRuntime{},
		known:            map[string]bool{},
		boardsCh:         make(chan []basis.DiscoveredBoard, 1),
		discoverInterval: time.Hour,
		liveInterval:     time.Hour,
		energyInterval:   time.Hour,
		version:          "test",
		startedAt:        time.Now(),
		log:              log.New(io.Discard),
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func discoveredBoards(serials ...string) []basis.DiscoveredBoard {
	boards := []basis.DiscoveredBoard{}
	for _, serial := range serials {
		boards = append(boards, basis.DiscoveredBoard{Serial: serial, SiteID: "site-1", Connected: true})
	}
	return boards
}

func registrySerials(t *testing.T, pk *PanelKit) []string {
	t.Helper()
	serials, err := pk.registry.ListSerials(context.Background())
	require.NoError(t, err)
	return serials
}

func TestReconcileAddsBoards(t *testing.T) {
	ctx := testContext(t)
	api := &fakeAPI{
		boardFn:  func(serial string) (*basis.Switchboard, error) { return testBoard(serial), nil },
		energyFn: testEnergyFn,
	}
	pk := testPanelKit(t, api)

	pk.reconcile(ctx, discoveredBoards("SB100", "SB200"))

	require.Len(t, pk.boards, 2)
	assert.Equal(t, []string{"SB100", "SB200"}, registrySerials(t, pk))
	assert.Equal(t, 1, pk.rebuilds)

	runtime := pk.boards["SB100"]
	require.NotNil(t, runtime)
	require.NotNil(t, runtime.board)
	assert.Equal(t, "Basis Panel SB100", runtime.device.Name)
	assert.Equal(t, "Basis NZ Ltd.", runtime.device.Manufacturer)
	assert.Equal(t, "GEN1", runtime.device.Model)
	assert.Equal(t, "1.4.2", runtime.device.SwVersion)
	assert.Equal(t, "3", runtime.device.HwVersion)
	assert.Equal(t, "site-1", runtime.device.SiteID)

	// spare circuit presents nothing, the labeled one is switchable
	require.Len(t, runtime.circuits, 1)
	assert.Equal(t, "SC1", runtime.circuits[0].Serial)
	assert.True(t, runtime.circuits[0].Switchable)
	assert.True(t, runtime.circuits[0].State)

	statuses := pk.BoardStatuses()
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].LiveOk)
	assert.True(t, statuses[0].EnergyOk)
	assert.True(t, statuses[0].Connected)
	assert.Equal(t, 2, statuses[0].Subcircuits)
	require.NotNil(t, statuses[0].PowerW)
	assert.Equal(t, 1500.0, *statuses[0].PowerW)
	require.NotNil(t, statuses[0].Energy)
	assert.Equal(t, 200.5, statuses[0].Energy.Month.ImportKwh)
	assert.Equal(t, 44.1, statuses[0].Energy.Month.ExportKwh)
}

func TestReconcileUnchangedSetIsNoop(t *testing.T) {
	ctx := testContext(t)
	api := &fakeAPI{
		boardFn:  func(serial string) (*basis.Switchboard, error) { return testBoard(serial), nil },
		energyFn: testEnergyFn,
	}
	pk := testPanelKit(t, api)

	pk.reconcile(ctx, discoveredBoards("SB100", "SB200"))
	require.Equal(t, 1, pk.rebuilds)

	first := pk.boards["SB100"]
	firstAccessory := first.board

	pk.reconcile(ctx, discoveredBoards("SB100", "SB200"))

	assert.Equal(t, 1, pk.rebuilds)
	assert.Same(t, first, pk.boards["SB100"])
	assert.Same(t, firstAccessory, pk.boards["SB100"].board)
}

func TestReconcileRemovesBoard(t *testing.T) {
	ctx := testContext(t)
	api := &fakeAPI{
		boardFn:  func(serial string) (*basis.Switchboard, error) { return testBoard(serial), nil },
		energyFn: testEnergyFn,
	}
	pk := testPanelKit(t, api)

	pk.reconcile(ctx, discoveredBoards("SB100", "SB200"))
	require.Len(t, pk.boards, 2)

	keptPoller := pk.boards["SB100"].live
	keptAccessory := pk.boards["SB100"].board

	pk.reconcile(ctx, discoveredBoards("SB100"))

	require.Len(t, pk.boards, 1)
	assert.Nil(t, pk.boards["SB200"])
	assert.Equal(t, []string{"SB100"}, registrySerials(t, pk))
	assert.Equal(t, 2, pk.rebuilds)

	// pollers of the kept board survive, its entities are fresh
	assert.Same(t, keptPoller, pk.boards["SB100"].live)
	assert.NotSame(t, keptAccessory, pk.boards["SB100"].board)
}

func TestReconcileDropsStaleRegistryRecord(t *testing.T) {
	ctx := testContext(t)
	api := &fakeAPI{
		boardFn:  func(serial string) (*basis.Switchboard, error) { return testBoard(serial), nil },
		energyFn: testEnergyFn,
	}
	pk := testPanelKit(t, api)

	// left over from a previous run, no pollers exist for it
	require.NoError(t, pk.registry.Upsert(ctx, registry.Device{Serial: "SB999", Name: "Basis Panel SB999"}))

	pk.reconcile(ctx, discoveredBoards("SB100"))

	require.Len(t, pk.boards, 1)
	assert.Equal(t, []string{"SB100"}, registrySerials(t, pk))
	assert.Equal(t, 1, pk.rebuilds)
}

func TestReconcileFirstRefreshFailureAbortsBoard(t *testing.T) {
	ctx := testContext(t)
	failing := true
	api := &fakeAPI{
		boardFn: func(serial string) (*basis.Switchboard, error) {
			if serial == "SB200" && failing {
				return nil, errors.New("cloud unreachable")
			}
			return testBoard(serial), nil
		},
		energyFn: testEnergyFn,
	}
	pk := testPanelKit(t, api)

	pk.reconcile(ctx, discoveredBoards("SB100", "SB200"))

	// the healthy board made it, the failing one left no trace
	require.Len(t, pk.boards, 1)
	assert.NotNil(t, pk.boards["SB100"])
	assert.Equal(t, []string{"SB100"}, registrySerials(t, pk))
	assert.Equal(t, 1, pk.rebuilds)

	failing = false
	pk.reconcile(ctx, discoveredBoards("SB100", "SB200"))

	require.Len(t, pk.boards, 2)
	assert.Equal(t, []string{"SB100", "SB200"}, registrySerials(t, pk))
	assert.Equal(t, 2, pk.rebuilds)
}

func TestReconcileEnergyFirstRefreshFailureAbortsBoard(t *testing.T) {
	ctx := testContext(t)
	api := &fakeAPI{
		boardFn: func(serial string) (*basis.Switchboard, error) { return testBoard(serial), nil },
		energyFn: func(serial string, start time.Time) (basis.EnergyUsage, error) {
			if serial == "SB200" {
				return basis.EnergyUsage{}, errors.New("energy query timed out")
			}
			return testEnergyFn(serial, start)
		},
	}
	pk := testPanelKit(t, api)

	pk.reconcile(ctx, discoveredBoards("SB100", "SB200"))

	require.Len(t, pk.boards, 1)
	assert.NotNil(t, pk.boards["SB100"])
	assert.Equal(t, []string{"SB100"}, registrySerials(t, pk))
}

func TestReconcileLockedCircuitIsMeterOnly(t *testing.T) {
	ctx := testContext(t)
	api := &fakeAPI{
		boardFn: func(serial string) (*basis.Switchboard, error) {
			board := testBoard(serial)
			board.Subcircuits[0].Config.StandbyLocked = true
			return board, nil
		},
		energyFn: testEnergyFn,
	}
	pk := testPanelKit(t, api)

	pk.reconcile(ctx, discoveredBoards("SB100"))

	runtime := pk.boards["SB100"]
	require.NotNil(t, runtime)
	require.Len(t, runtime.circuits, 1)
	assert.False(t, runtime.circuits[0].Switchable)
}

func TestReconcileRebuildRefreshesDeviceRecord(t *testing.T) {
	ctx := testContext(t)
	firmware := "1.4.2"
	api := &fakeAPI{
		boardFn: func(serial string) (*basis.Switchboard, error) {
			board := testBoard(serial)
			board.Version = firmware
			return board, nil
		},
		energyFn: testEnergyFn,
	}
	pk := testPanelKit(t, api)

	pk.reconcile(ctx, discoveredBoards("SB100"))

	firmware = "2.0.0"
	require.NoError(t, pk.boards["SB100"].live.Refresh(ctx))
	pk.reconcile(ctx, discoveredBoards("SB100", "SB200"))

	dev, err := pk.registry.Get(ctx, "SB100")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", dev.SwVersion)
}

func TestDeviceFromSnapshot(t *testing.T) {
	t.Run("FullSnapshot", func(t *testing.T) {
		dev := deviceFromSnapshot("SB100", "site-1", testBoard("SB100"))
		assert.Equal(t, "Basis Panel SB100", dev.Name)
		assert.Equal(t, "GEN1", dev.Model)
		assert.Equal(t, "1.4.2", dev.SwVersion)
		assert.Equal(t, "3", dev.HwVersion)
	})

	t.Run("UnknownModelCoerced", func(t *testing.T) {
		board := testBoard("SB100")
		board.Model = "unknown"
		dev := deviceFromSnapshot("SB100", "site-1", board)
		assert.Equal(t, "GEN1", dev.Model)
	})

	t.Run("WithoutSnapshot", func(t *testing.T) {
		dev := deviceFromSnapshot("SB100", "site-1", nil)
		assert.Equal(t, "GEN1", dev.Model)
		assert.Equal(t, "Unknown", dev.HwVersion)
		assert.Empty(t, dev.SwVersion)
	})
}
