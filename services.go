package panelkit

import (
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
)

const (
	TypePanelMeterService   = "00000101-7061-6E65-6C6B-697400000000"
	TypeCircuitMeterService = "00000102-7061-6E65-6C6B-697400000000"
	TypeEnergyMeterService  = "00000103-7061-6E65-6C6B-697400000000"
)

// PanelMeter bundles the whole-switchboard live readings.
type PanelMeter struct {
	*service.S

	PowerConsumption *PowerConsumption
	ImportPower      *ImportPower
	ExportPower      *ExportPower
	ElectricCurrent  *ElectricCurrent
}

func NewPanelMeter() *PanelMeter {
	s := PanelMeter{}
	s.S = service.New(TypePanelMeterService)

	s.PowerConsumption = NewPowerConsumption()
	s.AddC(s.PowerConsumption.C)

	s.ImportPower = NewImportPower()
	s.AddC(s.ImportPower.C)

	s.ExportPower = NewExportPower()
	s.AddC(s.ExportPower.C)

	s.ElectricCurrent = NewElectricCurrent()
	s.AddC(s.ElectricCurrent.C)

	return &s
}

// CircuitMeter bundles the live readings of one subcircuit.
type CircuitMeter struct {
	*service.S

	PowerConsumption *PowerConsumption
	ElectricCurrent  *ElectricCurrent
	Voltage          *Voltage
}

func NewCircuitMeter() *CircuitMeter {
	s := CircuitMeter{}
	s.S = service.New(TypeCircuitMeterService)

	s.PowerConsumption = NewPowerConsumption()
	s.AddC(s.PowerConsumption.C)

	s.ElectricCurrent = NewElectricCurrent()
	s.AddC(s.ElectricCurrent.C)

	s.Voltage = NewVoltage()
	s.AddC(s.Voltage.C)

	return &s
}

// EnergyMeter reports one accumulation window (today or this month). The
// Name characteristic tells the two instances apart.
type EnergyMeter struct {
	*service.S

	Name             *characteristic.Name
	TotalConsumption *TotalConsumption
	ExportedEnergy   *ExportedEnergy
}

func NewEnergyMeter(name string) *EnergyMeter {
	s := EnergyMeter{}
	s.S = service.New(TypeEnergyMeterService)

	s.Name = characteristic.NewName()
	s.Name.SetValue(name)
	s.AddC(s.Name.C)

	s.TotalConsumption = NewTotalConsumption()
	s.AddC(s.TotalConsumption.C)

	s.ExportedEnergy = NewExportedEnergy()
	s.AddC(s.ExportedEnergy.C)

	return &s
}
