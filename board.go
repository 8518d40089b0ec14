package panelkit

import (
	"hash/fnv"
	"sync"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	"github.com/pkg/errors"
)

// BoardAccessory presents one switchboard: a contact sensor for cloud
// connectivity plus meter services for whole-board power and the two energy
// windows. Readings survive failed polls; only the fault flags change.
type BoardAccessory struct {
	Serial   string
	Name     string
	Model    string
	Firmware string
	Hardware string

	live   *LivePoller
	energy *EnergyPoller

	hk       *accessory.A
	contact  *service.ContactSensor
	active   *characteristic.StatusActive
	fault    *characteristic.StatusFault
	lastSeen *LastSeen
	reason   *DisconnectReason
	meter    *PanelMeter
	today    *EnergyMeter
	month    *EnergyMeter

	lock sync.Mutex
}

func (ba *BoardAccessory) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte("Board_" + ba.Serial))
	return hash.Sum64()
}

func (ba *BoardAccessory) Init(live *LivePoller, energy *EnergyPoller) error {
	if live == nil || energy == nil {
		return errors.Errorf("cannot init switchboard %s without pollers", ba.Serial)
	}
	ba.lock = sync.Mutex{}
	ba.live = live
	ba.energy = energy

	info := accessory.Info{
		Name:         ba.Name,
		SerialNumber: ba.Serial,
		Manufacturer: brandName,
		Model:        ba.Model,
		Firmware:     ba.Firmware,
	}
	ba.hk = accessory.New(info, accessory.TypeSensor)

	if ba.Hardware != "" {
		hw := characteristic.NewHardwareRevision()
		hw.SetValue(ba.Hardware)
		ba.hk.Info.AddC(hw.C)
	}

	ba.contact = service.NewContactSensor()
	ba.contact.ContactSensorState.SetValue(characteristic.ContactSensorStateContactNotDetected)
	ba.active = characteristic.NewStatusActive()
	ba.contact.AddC(ba.active.C)
	ba.fault = characteristic.NewStatusFault()
	ba.fault.SetValue(characteristic.StatusFaultGeneralFault)
	ba.contact.AddC(ba.fault.C)
	ba.lastSeen = NewLastSeen()
	ba.contact.AddC(ba.lastSeen.C)
	ba.reason = NewDisconnectReason()
	ba.contact.AddC(ba.reason.C)
	ba.hk.AddS(ba.contact.S)

	ba.meter = NewPanelMeter()
	ba.hk.AddS(ba.meter.S)

	ba.today = NewEnergyMeter("Energy Today")
	ba.hk.AddS(ba.today.S)
	ba.month = NewEnergyMeter("Energy This Month")
	ba.hk.AddS(ba.month.S)

	return nil
}

func (ba *BoardAccessory) Sync() error {
	ba.lock.Lock()
	defer ba.lock.Unlock()

	board, ok := ba.live.Snapshot()

	ba.active.SetValue(ok)
	if ok {
		ba.fault.SetValue(characteristic.StatusFaultNoFault)
	} else {
		ba.fault.SetValue(characteristic.StatusFaultGeneralFault)
	}

	if board == nil {
		return errors.Errorf("switchboard %s has no snapshot yet", ba.Serial)
	}

	if board.Connected() {
		ba.contact.ContactSensorState.SetValue(characteristic.ContactSensorStateContactDetected)
	} else {
		ba.contact.ContactSensorState.SetValue(characteristic.ContactSensorStateContactNotDetected)
	}
	if board.Connectivity != nil {
		ba.lastSeen.SetValue(board.Connectivity.UpdatedTimestamp)
		ba.reason.SetValue(board.Connectivity.DisconnectReason)
	}

	if board.LiveState != nil {
		ba.meter.PowerConsumption.SetValue(board.LiveState.Power)
		ba.meter.ImportPower.SetValue(board.LiveState.PowerUsage.ImportPower)
		ba.meter.ExportPower.SetValue(board.LiveState.PowerUsage.ExportPower)
		ba.meter.ElectricCurrent.SetValue(board.LiveState.PrimaryCurrent)
	}

	totals, _ := ba.energy.Totals()
	ba.today.TotalConsumption.SetValue(totals.Today.ImportKwh)
	ba.today.ExportedEnergy.SetValue(totals.Today.ExportKwh)
	ba.month.TotalConsumption.SetValue(totals.Month.ImportKwh)
	ba.month.ExportedEnergy.SetValue(totals.Month.ExportKwh)

	return nil
}

func (ba *BoardAccessory) GetHk() *accessory.A {
	return ba.hk
}
