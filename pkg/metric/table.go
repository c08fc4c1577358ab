package metric

import (
	"sort"
	"sync"

	"github.com/nergy-se/enpal/pkg/api/v1/types"
)

const (
	MeasurementInverter = "inverter"
	MeasurementIOT      = "iot"
	MeasurementSystem   = "system"

	FieldGridFrequency      = "Frequency.Grid"
	FieldBatteryTemperature = "Temperature.Battery"
	FieldStorageLevel       = "Percent.Storage.Level"
)

type Key struct {
	Measurement string
	Field       string
}

type Metadata struct {
	Name        string
	Icon        string
	DeviceClass types.DeviceClass
}

const (
	iconBolt       = "mdi:lightning-bolt"
	iconHomeBolt   = "mdi:home-lightning-bolt"
	iconThermo     = "mdi:home-thermometer-outline"
	iconTestTube   = "mdi:test-tube-empty"
	iconSolarVar   = "mdi:solar-power-variant"
	iconSolar      = "mdi:solar-power"
	iconBattery    = "mdi:battery"
	iconCharging   = "mdi:battery-charging"
	iconBatteryUp  = "mdi:battery-arrow-up"
	iconBatteryDn  = "mdi:battery-arrow-down"
	iconGridImport = "mdi:transmission-tower-import"
	iconGridExport = "mdi:transmission-tower-export"
)

func inverter(field, icon string, class types.DeviceClass) (Key, Metadata) {
	return Key{MeasurementInverter, field}, Metadata{Name: field, Icon: icon, DeviceClass: class}
}

var builtin = func() map[Key]Metadata {
	m := make(map[Key]Metadata)
	add := func(k Key, md Metadata) { m[k] = md }

	add(inverter("Current.Battery", iconBolt, types.DeviceClassCurrent))
	add(inverter("Current.String.1", iconBolt, types.DeviceClassCurrent))
	add(inverter("Current.String.2", iconBolt, types.DeviceClassCurrent))
	add(inverter(FieldBatteryTemperature, iconThermo, types.DeviceClassTemperature))
	add(inverter(FieldGridFrequency, iconSolarVar, types.DeviceClassFrequency))
	add(inverter("Inverter.System.State", iconTestTube, types.DeviceClassNone))
	for _, code := range []string{"1", "10", "11", "2", "6", "9"} {
		add(inverter("State.ErrorCodes."+code, iconTestTube, types.DeviceClassNone))
	}
	add(inverter("Battery.ChargeLevel.Max", iconTestTube, types.DeviceClassBattery))
	add(inverter("Battery.ChargeLevel.Min", iconTestTube, types.DeviceClassBattery))
	add(inverter("Battery.ChargeLevel.MinOnGrid", iconTestTube, types.DeviceClassBattery))
	add(inverter("Battery.SOH", iconTestTube, types.DeviceClassBattery))
	add(inverter("Energy.Battery.Charge.Level", iconTestTube, types.DeviceClassBattery))
	add(inverter("Energy.Battery.Charge.Level.Absolute", iconTestTube, types.DeviceClassBattery))
	add(inverter("Voltage.Battery", iconTestTube, types.DeviceClassVoltage))
	for _, f := range []string{"Voltage.Phase.A", "Voltage.Phase.B", "Voltage.Phase.C", "Voltage.String.1", "Voltage.String.2"} {
		add(inverter(f, iconBolt, types.DeviceClassVoltage))
	}
	for _, f := range []string{"Power.AC.Phase.A", "Power.AC.Phase.B", "Power.AC.Phase.C", "Power.DC.String.1", "Power.DC.String.2", "Power.DC.Total"} {
		add(inverter(f, iconBolt, types.DeviceClassPower))
	}
	add(inverter("Power.Battery.Charge.Discharge", iconTestTube, types.DeviceClassPower))
	add(inverter("Power.Grid.Export", iconHomeBolt, types.DeviceClassPower))
	add(inverter("Power.House.Total", iconHomeBolt, types.DeviceClassPower))

	// cpu and memory are plain percentages, there is no matching device class.
	m[Key{MeasurementIOT, "Cpu.Load"}] = Metadata{Name: "Cpu.Load", Icon: iconTestTube}
	m[Key{MeasurementIOT, "Memory.Usage"}] = Metadata{Name: "Memory.Usage", Icon: iconTestTube}

	system := []struct {
		field string
		icon  string
		class types.DeviceClass
	}{
		{FieldStorageLevel, iconBattery, types.DeviceClassNone},
		{"Power.Consumption.Total", iconHomeBolt, types.DeviceClassPower},
		{"Power.External.Total", iconHomeBolt, types.DeviceClassPower},
		{"Power.Production.Total", iconSolar, types.DeviceClassPower},
		{"Power.Storage.Total", iconCharging, types.DeviceClassPower},
		{"Energy.Storage.Level", iconTestTube, types.DeviceClassEnergy},
		{"Energy.Consumption.Total.Day", iconHomeBolt, types.DeviceClassEnergy},
		{"Energy.External.Total.In.Day", iconGridImport, types.DeviceClassEnergy},
		{"Energy.External.Total.Out.Day", iconGridExport, types.DeviceClassEnergy},
		{"Energy.Production.Total.Day", iconSolarVar, types.DeviceClassEnergy},
		{"Energy.Storage.Total.In.Day", iconBatteryUp, types.DeviceClassEnergy},
		{"Energy.Storage.Total.Out.Day", iconBatteryDn, types.DeviceClassEnergy},
	}
	for _, s := range system {
		m[Key{MeasurementSystem, s.field}] = Metadata{Name: s.field, Icon: s.icon, DeviceClass: s.class}
	}
	return m
}()

// Table is the lookup from (measurement, field) to display metadata.
// The zero value is not usable, use NewTable.
type Table struct {
	entries map[Key]Metadata
	sync.RWMutex
}

// NewTable returns a table holding the compiled in metrics.
func NewTable() *Table {
	t := &Table{entries: make(map[Key]Metadata, len(builtin))}
	for k, v := range builtin {
		t.entries[k] = v
	}
	return t
}

func (t *Table) Lookup(k Key) (Metadata, bool) {
	t.RLock()
	defer t.RUnlock()
	md, ok := t.entries[k]
	return md, ok
}

// Set adds or replaces an entry.
func (t *Table) Set(k Key, md Metadata) {
	t.Lock()
	t.entries[k] = md
	t.Unlock()
}

// Keys returns all keys sorted by measurement then field.
func (t *Table) Keys() []Key {
	t.RLock()
	keys := make([]Key, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	t.RUnlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Measurement != keys[j].Measurement {
			return keys[i].Measurement < keys[j].Measurement
		}
		return keys[i].Field < keys[j].Field
	})
	return keys
}

func (t *Table) Len() int {
	t.RLock()
	defer t.RUnlock()
	return len(t.entries)
}
