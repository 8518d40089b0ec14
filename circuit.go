package panelkit

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

const standbyTimeout = 10 * time.Second

// CircuitAccessory presents one labeled subcircuit. Switchable circuits get
// a switch service driving the standby mutation; locked ones are meters only.
// Spare circuits never reach this type, the rebuild skips them.
type CircuitAccessory struct {
	BoardSerial string
	Serial      string
	Number      int
	Label       string
	Switchable  bool
	State       bool

	api  BoardAPI
	live *LivePoller

	hk     *accessory.A
	swc    *service.Switch
	meter  *CircuitMeter
	active *characteristic.StatusActive
	fault  *characteristic.StatusFault

	lock sync.Mutex
}

func (ca *CircuitAccessory) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte("Circuit_" + ca.BoardSerial + "_" + ca.Serial))
	return hash.Sum64()
}

func (ca *CircuitAccessory) Init(api BoardAPI, live *LivePoller) error {
	if api == nil || live == nil {
		return errors.Errorf("cannot init subcircuit %s without api and poller", ca.Serial)
	}
	ca.lock = sync.Mutex{}
	ca.api = api
	ca.live = live

	info := accessory.Info{
		Name:         SubcircuitDisplayName(ca.Number, ca.Label, ""),
		SerialNumber: fmt.Sprintf("circuit:%s:%s", ca.BoardSerial, ca.Serial),
		Manufacturer: brandName,
	}

	ca.active = characteristic.NewStatusActive()
	ca.fault = characteristic.NewStatusFault()
	ca.fault.SetValue(characteristic.StatusFaultGeneralFault)

	ca.meter = NewCircuitMeter()

	if ca.Switchable {
		ca.hk = accessory.New(info, accessory.TypeSwitch)

		ca.swc = service.NewSwitch()
		ca.swc.AddC(ca.active.C)
		ca.swc.AddC(ca.fault.C)
		ca.swc.On.OnValueRemoteUpdate(ca.SetValue)
		ca.hk.AddS(ca.swc.S)
	} else {
		ca.hk = accessory.New(info, accessory.TypeSensor)

		ca.meter.AddC(ca.active.C)
		ca.meter.AddC(ca.fault.C)
	}
	ca.hk.AddS(ca.meter.S)

	return nil
}

// SetValue pushes the requested on/off state to the cloud: off activates
// standby, on releases it. A refresh is requested right after so the
// presented state converges with the acknowledged one.
func (ca *CircuitAccessory) SetValue(on bool) {
	ctx, cancel := context.WithTimeout(context.Background(), standbyTimeout)
	defer cancel()

	_, err := ca.api.SetSubcircuitStandby(ctx, ca.BoardSerial, ca.Serial, !on)
	if err != nil {
		log.Error("failed to set subcircuit standby",
			"board", ca.BoardSerial, "subcircuit", ca.Serial, "on", on, "error", err)
	} else {
		ca.State = on
	}

	ca.live.RequestRefresh()
}

func (ca *CircuitAccessory) Toggle() {
	ca.SetValue(!ca.State)
}

func (ca *CircuitAccessory) Sync() error {
	ca.lock.Lock()
	defer ca.lock.Unlock()

	board, ok := ca.live.Snapshot()
	sub := board.Subcircuit(ca.Serial)

	available := ok && sub != nil
	if ca.Switchable {
		available = available && board.Connected()
	}
	ca.active.SetValue(available)
	if available {
		ca.fault.SetValue(characteristic.StatusFaultNoFault)
	} else {
		ca.fault.SetValue(characteristic.StatusFaultGeneralFault)
	}

	if board == nil {
		return errors.Errorf("subcircuit %s has no snapshot yet", ca.Serial)
	}
	if sub == nil {
		return errors.Errorf("subcircuit %s missing from switchboard %s snapshot", ca.Serial, ca.BoardSerial)
	}

	if sub.LiveState != nil {
		ca.meter.PowerConsumption.SetValue(sub.LiveState.Power)
		ca.meter.ElectricCurrent.SetValue(sub.LiveState.PrimaryCurrent)
		ca.meter.Voltage.SetValue(sub.LiveState.PhaseVoltage)
	}

	if ca.Switchable {
		oldState := ca.State
		ca.State = sub.IsLive()
		if oldState != ca.State {
			ca.swc.On.SetValue(ca.State)
		}
	}

	return nil
}

func (ca *CircuitAccessory) GetHk() *accessory.A {
	return ca.hk
}
