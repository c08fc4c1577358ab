package types

type SourceType string

var SourceTypeInflux = SourceType("influx")
var SourceTypeDummy = SourceType("dummy")

type MQTTMode string

var MQTTModeEmbedded = MQTTMode("embedded")
var MQTTModeExternal = MQTTMode("external")

// DeviceClass is the Home Assistant sensor device class. Empty means none.
type DeviceClass string

const (
	DeviceClassNone        DeviceClass = ""
	DeviceClassCurrent     DeviceClass = "current"
	DeviceClassTemperature DeviceClass = "temperature"
	DeviceClassFrequency   DeviceClass = "frequency"
	DeviceClassBattery     DeviceClass = "battery"
	DeviceClassVoltage     DeviceClass = "voltage"
	DeviceClassPower       DeviceClass = "power"
	DeviceClassEnergy      DeviceClass = "energy"
)

type StateClass string

const (
	StateClassMeasurement     StateClass = "measurement"
	StateClassTotalIncreasing StateClass = "total_increasing"
)

const StatusError = "Error"
