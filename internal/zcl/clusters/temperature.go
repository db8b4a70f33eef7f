package clusters

import "zigbee-quirks/internal/zcl"

// TemperatureMeasurement reports hundredths of a degree Celsius.
var TemperatureMeasurement = zcl.ClusterDef{
	ID:   0x0402,
	Name: "temperature",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "measured_value", Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0001, Name: "min_measured_value", Type: zcl.TypeInt16, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "max_measured_value", Type: zcl.TypeInt16, Access: zcl.AccessRead},
		{ID: 0x0003, Name: "tolerance", Type: zcl.TypeUint16, Access: zcl.AccessRead},
	},
}
