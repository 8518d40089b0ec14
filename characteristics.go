package panelkit

import (
	"github.com/brutella/hap/characteristic"
)

// Power, current, voltage and total energy reuse the Eve characteristic
// UUIDs, so the Eve app picks them up without any extra configuration.
const (
	TypePowerConsumption = "E863F10D-079E-48FF-8F27-9C2605A29F52"
	TypeTotalConsumption = "E863F10C-079E-48FF-8F27-9C2605A29F52"
	TypeVoltage          = "E863F10A-079E-48FF-8F27-9C2605A29F52"
	TypeElectricCurrent  = "E863F126-079E-48FF-8F27-9C2605A29F52"
)

// Readings without an Eve equivalent use a vendor namespace, the suffix
// spells "panelkit" in hex.
const (
	TypeImportPower      = "00000001-7061-6E65-6C6B-697400000000"
	TypeExportPower      = "00000002-7061-6E65-6C6B-697400000000"
	TypeExportedEnergy   = "00000003-7061-6E65-6C6B-697400000000"
	TypeLastSeen         = "00000004-7061-6E65-6C6B-697400000000"
	TypeDisconnectReason = "00000005-7061-6E65-6C6B-697400000000"
)

// PowerConsumption reports momentary power in watts. Negative values mean
// net export.
type PowerConsumption struct {
	*characteristic.Float
}

func NewPowerConsumption() *PowerConsumption {
	c := characteristic.NewFloat(TypePowerConsumption)
	c.Format = characteristic.FormatFloat
	c.Permissions = []string{characteristic.PermissionRead, characteristic.PermissionEvents}
	c.SetValue(0)

	return &PowerConsumption{c}
}

// TotalConsumption reports accumulated imported energy in kWh.
type TotalConsumption struct {
	*characteristic.Float
}

func NewTotalConsumption() *TotalConsumption {
	c := characteristic.NewFloat(TypeTotalConsumption)
	c.Format = characteristic.FormatFloat
	c.Permissions = []string{characteristic.PermissionRead, characteristic.PermissionEvents}
	c.SetValue(0)

	return &TotalConsumption{c}
}

// Voltage reports phase voltage in volts.
type Voltage struct {
	*characteristic.Float
}

func NewVoltage() *Voltage {
	c := characteristic.NewFloat(TypeVoltage)
	c.Format = characteristic.FormatFloat
	c.Permissions = []string{characteristic.PermissionRead, characteristic.PermissionEvents}
	c.SetValue(0)

	return &Voltage{c}
}

// ElectricCurrent reports current in amperes.
type ElectricCurrent struct {
	*characteristic.Float
}

func NewElectricCurrent() *ElectricCurrent {
	c := characteristic.NewFloat(TypeElectricCurrent)
	c.Format = characteristic.FormatFloat
	c.Permissions = []string{characteristic.PermissionRead, characteristic.PermissionEvents}
	c.SetValue(0)

	return &ElectricCurrent{c}
}

// ImportPower reports power drawn from the grid in watts.
type ImportPower struct {
	*characteristic.Float
}

func NewImportPower() *ImportPower {
	c := characteristic.NewFloat(TypeImportPower)
	c.Format = characteristic.FormatFloat
	c.Permissions = []string{characteristic.PermissionRead, characteristic.PermissionEvents}
	c.SetValue(0)

	return &ImportPower{c}
}

// ExportPower reports power pushed to the grid in watts.
type ExportPower struct {
	*characteristic.Float
}

func NewExportPower() *ExportPower {
	c := characteristic.NewFloat(TypeExportPower)
	c.Format = characteristic.FormatFloat
	c.Permissions = []string{characteristic.PermissionRead, characteristic.PermissionEvents}
	c.SetValue(0)

	return &ExportPower{c}
}

// ExportedEnergy reports accumulated exported energy in kWh.
type ExportedEnergy struct {
	*characteristic.Float
}

func NewExportedEnergy() *ExportedEnergy {
	c := characteristic.NewFloat(TypeExportedEnergy)
	c.Format = characteristic.FormatFloat
	c.Permissions = []string{characteristic.PermissionRead, characteristic.PermissionEvents}
	c.SetValue(0)

	return &ExportedEnergy{c}
}

// LastSeen carries the RFC 3339 timestamp of the last connectivity update.
type LastSeen struct {
	*characteristic.String
}

func NewLastSeen() *LastSeen {
	c := characteristic.NewString(TypeLastSeen)
	c.Format = characteristic.FormatString
	c.Permissions = []string{characteristic.PermissionRead, characteristic.PermissionEvents}
	c.SetValue("")

	return &LastSeen{c}
}

// DisconnectReason carries the cloud supplied reason while a switchboard is
// offline, empty otherwise.
type DisconnectReason struct {
	*characteristic.String
}

func NewDisconnectReason() *DisconnectReason {
	c := characteristic.NewString(TypeDisconnectReason)
	c.Format = characteristic.FormatString
	c.Permissions = []string{characteristic.PermissionRead, characteristic.PermissionEvents}
	c.SetValue("")

	return &DisconnectReason{c}
}
