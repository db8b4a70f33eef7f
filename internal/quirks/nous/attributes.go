package nous

import (
	"zigbee-quirks/internal/zcl"
	"zigbee-quirks/internal/zcl/clusters"
)

// Manufacturer-specific attributes of the E6 climate sensor.
const (
	AttrTemperatureUnitConvert uint16 = 0xF409
	AttrMaxTemperature         uint16 = 0xF20A
	AttrMinTemperature         uint16 = 0xF20B
	AttrTemperatureAlarm       uint16 = 0xF40E
	AttrTemperatureSensitivity uint16 = 0xF213
)

// Additional attributes of the SZ-T04.
const (
	AttrMaxHumidity               uint16 = 0xF20C
	AttrMinHumidity               uint16 = 0xF20D
	AttrHumidityAlarm             uint16 = 0xF40F
	AttrTemperatureReportInterval uint16 = 0xF211
	AttrHumidityReportInterval    uint16 = 0xF212
	AttrHumiditySensitivity       uint16 = 0xF214
)

const rw = zcl.AccessRead | zcl.AccessWrite | zcl.AccessReport

// E6Attributes is the MCU cluster attribute table of the E6. Decimal
// attributes hold Decimal1 tenths.
var E6Attributes = zcl.MustMergeAttributes(clusters.TuyaMCU.Attributes, []zcl.AttributeDef{
	{ID: AttrTemperatureUnitConvert, Name: "temperature_unit_convert", Type: zcl.TypeEnum8, Access: rw},
	{ID: AttrMaxTemperature, Name: "max_temperature", Type: zcl.TypeInt16, Access: rw},
	{ID: AttrMinTemperature, Name: "min_temperature", Type: zcl.TypeInt16, Access: rw},
	{ID: AttrTemperatureAlarm, Name: "temperature_alarm", Type: zcl.TypeEnum8, Access: zcl.AccessRead | zcl.AccessReport},
	{ID: AttrTemperatureSensitivity, Name: "temperature_sensitivity", Type: zcl.TypeInt16, Access: rw},
})

// SZT04Attributes extends E6Attributes with the humidity thresholds and
// report intervals.
var SZT04Attributes = zcl.MustMergeAttributes(E6Attributes, []zcl.AttributeDef{
	{ID: AttrMaxHumidity, Name: "max_humidity", Type: zcl.TypeInt16, Access: rw},
	{ID: AttrMinHumidity, Name: "min_humidity", Type: zcl.TypeInt16, Access: rw},
	{ID: AttrHumidityAlarm, Name: "humidity_alarm", Type: zcl.TypeEnum8, Access: zcl.AccessRead | zcl.AccessReport},
	{ID: AttrTemperatureReportInterval, Name: "temperature_report_interval", Type: zcl.TypeInt16, Access: rw},
	{ID: AttrHumidityReportInterval, Name: "humidity_report_interval", Type: zcl.TypeInt16, Access: rw},
	{ID: AttrHumiditySensitivity, Name: "humidity_sensitivity", Type: zcl.TypeInt16, Access: rw},
})

func mcuDef(attrs []zcl.AttributeDef) zcl.ClusterDef {
	def := *clusters.TuyaMCU.DeepCopy()
	def.Attributes = attrs
	return def
}
