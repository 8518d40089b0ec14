package panelkit

import (
	"fmt"
	"strings"
)

const (
	brandName    = "Basis NZ Ltd."
	defaultModel = "GEN1"

	// spareLabel marks unallocated subcircuit slots; they get no entities.
	spareLabel = "spare"
)

const (
	defaultSensorIcon = "mdi:flash"
	defaultSwitchIcon = "mdi:power-socket"
)

var labelNames = map[string]string{
	"spare":      "Spare",
	"power":      "Power",
	"lights":     "Lights",
	"range":      "Range",
	"oven":       "Oven",
	"hob":        "Hob",
	"airCon":     "Air Conditioning",
	"hvac":       "HVAC",
	"hwc":        "Hot Water Cylinder",
	"ufh":        "Underfloor Heating",
	"evCharger":  "EV Charger",
	"pool":       "Pool",
	"spa":        "Spa",
	"waterPump":  "Water Pump",
	"septicPump": "Septic Pump",
	"alarm":      "Alarm",
	"solar":      "Solar",
}

var labelIcons = map[string]string{
	"spare":      "mdi:help-circle",
	"power":      "mdi:flash",
	"lights":     "mdi:lightbulb",
	"range":      "mdi:stove",
	"oven":       "mdi:stove",
	"hob":        "mdi:pot-steam",
	"airCon":     "mdi:snowflake",
	"hvac":       "mdi:air-conditioner",
	"hwc":        "mdi:water-boiler",
	"ufh":        "mdi:radiator",
	"evCharger":  "mdi:ev-station",
	"pool":       "mdi:pool",
	"spa":        "mdi:hot-tub",
	"waterPump":  "mdi:water-pump",
	"septicPump": "mdi:pump",
	"alarm":      "mdi:alarm-light",
	"solar":      "mdi:solar-power",
}

// LabelName maps a subcircuit config label to its friendly display name.
// Empty labels count as spare; labels outside the known set pass through
// unchanged so newly introduced ones stay recognisable.
func LabelName(label string) string {
	if label == "" {
		label = spareLabel
	}
	if name, ok := labelNames[label]; ok {
		return name
	}
	return label
}

// LabelIcon maps a subcircuit config label to its icon, falling back to the
// given default for labels without one.
func LabelIcon(label, fallback string) string {
	if label == "" {
		label = spareLabel
	}
	if icon, ok := labelIcons[label]; ok {
		return icon
	}
	return fallback
}

// SubcircuitDisplayName builds the presented name for a subcircuit entity,
// zero padded so entities list in breaker order: "[03] Hot Water Cylinder Power".
func SubcircuitDisplayName(number int, label, suffix string) string {
	name := fmt.Sprintf("[%02d] %s", number, LabelName(label))
	if suffix != "" {
		name += " " + suffix
	}
	return strings.TrimSpace(name)
}
