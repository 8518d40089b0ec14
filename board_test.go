package panelkit

import (
	"context"
	"testing"
	"time"

	"github.com/brutella/hap/characteristic"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubertat/panelkit/basis"
)

func testEnergyFn(serial string, start time.Time) (basis.EnergyUsage, error) {
	if start.Day() == 1 {
		return basis.EnergyUsage{ImportKwh: 200.5, ExportKwh: 44.1}, nil
	}
	return basis.EnergyUsage{ImportKwh: 8.2, ExportKwh: 2.4}, nil
}

func fixedAugustNow() time.Time {
	return time.Date(2026, time.August, 25, 12, 0, 0, 0, time.Local)
}

func testBoardAccessory(t *testing.T, api *fakeAPI) (*BoardAccessory, *LivePoller, *EnergyPoller) {
	t.Helper()

	live := NewLivePoller(api, "SB100", time.Hour)
	energy := NewEnergyPoller(api, "SB100", time.Hour)
	energy.now = fixedAugustNow

	ba := &BoardAccessory{
		Serial:   "SB100",
		Name:     "Basis Panel SB100",
		Model:    "GEN1",
		Firmware: "1.4.2",
		Hardware: "3",
	}
	require.NoError(t, ba.Init(live, energy))

	return ba, live, energy
}

func TestBoardAccessorySync(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{
		boardFn:  func(serial string) (*basis.Switchboard, error) { return testBoard(serial), nil },
		energyFn: testEnergyFn,
	}
	ba, live, energy := testBoardAccessory(t, api)

	require.NoError(t, live.Refresh(ctx))
	require.NoError(t, energy.Refresh(ctx))
	require.NoError(t, ba.Sync())

	require.NotNil(t, ba.GetHk())
	assert.Equal(t, characteristic.ContactSensorStateContactDetected, ba.contact.ContactSensorState.Value())
	assert.True(t, ba.active.Value())
	assert.Equal(t, characteristic.StatusFaultNoFault, ba.fault.Value())
	assert.Equal(t, "2026-08-25T10:30:00Z", ba.lastSeen.Value())

	assert.Equal(t, 1500.0, ba.meter.PowerConsumption.Value())
	assert.Equal(t, 1500.0, ba.meter.ImportPower.Value())
	assert.Equal(t, 0.0, ba.meter.ExportPower.Value())
	assert.Equal(t, 6.5, ba.meter.ElectricCurrent.Value())

	assert.Equal(t, 8.2, ba.today.TotalConsumption.Value())
	assert.Equal(t, 2.4, ba.today.ExportedEnergy.Value())
	assert.Equal(t, 200.5, ba.month.TotalConsumption.Value())
	assert.Equal(t, 44.1, ba.month.ExportedEnergy.Value())
}

func TestBoardAccessorySyncWithoutSnapshot(t *testing.T) {
	ba, _, _ := testBoardAccessory(t, &fakeAPI{})

	assert.Error(t, ba.Sync())
	assert.False(t, ba.active.Value())
	assert.Equal(t, characteristic.StatusFaultGeneralFault, ba.fault.Value())
}

func TestBoardAccessoryKeepsReadingsWhenPollFails(t *testing.T) {
	ctx := context.Background()
	fail := false
	api := &fakeAPI{
		boardFn: func(serial string) (*basis.Switchboard, error) {
			if fail {
				return nil, errors.New("cloud unreachable")
			}
			return testBoard(serial), nil
		},
	}
	ba, live, _ := testBoardAccessory(t, api)

	require.NoError(t, live.Refresh(ctx))
	require.NoError(t, ba.Sync())

	fail = true
	require.Error(t, live.Refresh(ctx))
	require.NoError(t, ba.Sync())

	assert.False(t, ba.active.Value())
	assert.Equal(t, characteristic.StatusFaultGeneralFault, ba.fault.Value())
	// last good readings stay on display
	assert.Equal(t, 1500.0, ba.meter.PowerConsumption.Value())
}

func TestBoardAccessoryDisconnected(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{
		boardFn: func(serial string) (*basis.Switchboard, error) {
			board := testBoard(serial)
			board.Connectivity.Connected = false
			board.Connectivity.DisconnectReason = "NETWORK_LOST"
			return board, nil
		},
	}
	ba, live, _ := testBoardAccessory(t, api)

	require.NoError(t, live.Refresh(ctx))
	require.NoError(t, ba.Sync())

	assert.Equal(t, characteristic.ContactSensorStateContactNotDetected, ba.contact.ContactSensorState.Value())
	assert.Equal(t, "NETWORK_LOST", ba.reason.Value())
	// the poll itself worked
	assert.True(t, ba.active.Value())
	assert.Equal(t, characteristic.StatusFaultNoFault, ba.fault.Value())
}

func TestBoardAccessoryUniqueId(t *testing.T) {
	first := &BoardAccessory{Serial: "SB100"}
	same := &BoardAccessory{Serial: "SB100"}
	other := &BoardAccessory{Serial: "SB200"}

	assert.Equal(t, first.GetUniqueId(), same.GetUniqueId())
	assert.NotEqual(t, first.GetUniqueId(), other.GetUniqueId())
}
