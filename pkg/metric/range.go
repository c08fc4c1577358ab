package metric

import (
	"fmt"
	"math"
	"strings"

	"github.com/nergy-se/enpal/pkg/api/v1/types"
)

// Range is an inclusive plausibility window for a field.
type Range struct {
	Min float64
	Max float64
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Readings outside these windows are glitches from the box and are dropped.
var ranges = map[string]Range{
	FieldGridFrequency:      {Min: 0, Max: 100},
	FieldBatteryTemperature: {Min: -100, Max: 100},
}

// Plausible reports whether v is a believable reading for field.
// Fields without a range are always plausible.
func Plausible(field string, v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	r, ok := ranges[field]
	if !ok {
		return true
	}
	return r.Contains(v)
}

// StorageIcon picks the battery icon for a storage level in percent.
func StorageIcon(v float64) string {
	switch {
	case v >= 100:
		return "mdi:battery"
	case v < 10:
		return "mdi:battery-outline"
	}
	return fmt.Sprintf("mdi:battery-%d", int(math.Floor(v/10))*10)
}

// IsEnergyUnit reports whether unit is a counter that resets at midnight.
func IsEnergyUnit(unit string) bool {
	switch strings.TrimSpace(unit) {
	case "Wh", "kWh":
		return true
	}
	return false
}

// StateClassFor returns total_increasing for energy units and measurement otherwise.
func StateClassFor(unit string) types.StateClass {
	if IsEnergyUnit(unit) {
		return types.StateClassTotalIncreasing
	}
	return types.StateClassMeasurement
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
