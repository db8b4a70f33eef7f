package nous

import (
	"zigbee-quirks/internal/tuya"
	"zigbee-quirks/internal/zcl/clusters"
)

var mcuCluster = clusters.TuyaMCU.ID

// E6DataPoints maps the E6 data points onto the replaced endpoint.
// Humidity is scaled by the humidity cluster itself.
var E6DataPoints = tuya.Mappings{
	1: {ClusterID: clusters.TemperatureMeasurement.ID, Attribute: "measured_value", FromWire: tuya.Scale(10)},
	2: {ClusterID: clusters.RelativeHumidity.ID, Attribute: "measured_value", FromWire: tuya.Integer},
	4: {ClusterID: clusters.PowerConfiguration.ID, Attribute: "battery_percentage_remaining", FromWire: tuya.Scale(2)},
	9: {
		ClusterID: mcuCluster, Attribute: "temperature_unit_convert",
		FromWire: temperatureUnitFromWire, ToWire: temperatureUnitToWire, DPType: tuya.DPTypeEnum,
	},
	10: {
		ClusterID: mcuCluster, Attribute: "max_temperature",
		FromWire: decimal1FromWire, ToWire: decimal1ToWire, DPType: tuya.DPTypeValue,
	},
	11: {
		ClusterID: mcuCluster, Attribute: "min_temperature",
		FromWire: decimal1FromWire, ToWire: decimal1ToWire, DPType: tuya.DPTypeValue,
	},
	14: {ClusterID: mcuCluster, Attribute: "temperature_alarm", FromWire: valueAlarmFromWire},
	19: {
		ClusterID: mcuCluster, Attribute: "temperature_sensitivity",
		FromWire: decimal1FromWire, ToWire: decimal1ToWire, DPType: tuya.DPTypeValue,
	},
}

// SZT04DataPoints adds the humidity thresholds and report intervals.
var SZT04DataPoints = tuya.MustMergeMappings(E6DataPoints, tuya.Mappings{
	12: intDataPoint("max_humidity"),
	13: intDataPoint("min_humidity"),
	15: {ClusterID: mcuCluster, Attribute: "humidity_alarm", FromWire: valueAlarmFromWire},
	17: intDataPoint("temperature_report_interval"),
	18: intDataPoint("humidity_report_interval"),
	20: intDataPoint("humidity_sensitivity"),
})

func intDataPoint(attr string) tuya.Mapping {
	return tuya.Mapping{
		ClusterID: mcuCluster,
		Attribute: attr,
		FromWire:  tuya.Integer,
		ToWire:    tuya.IntegerWire,
		DPType:    tuya.DPTypeValue,
	}
}
