package clusters

import "zigbee-quirks/internal/zcl"

// TuyaMCU is the Tuya manufacturer-specific cluster carrying the data-point
// sub-protocol. Quirks extend its attribute table with device data points.
var TuyaMCU = zcl.ClusterDef{
	ID:   0xEF00,
	Name: "tuya_manufacturer",
	Attributes: []zcl.AttributeDef{
		{ID: 0xEF00, Name: "mcu_version", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "set_data", Direction: zcl.DirectionToServer},
		{ID: 0x03, Name: "query_data", Direction: zcl.DirectionToServer},
		{ID: 0x10, Name: "mcu_version_req", Direction: zcl.DirectionToServer},
		{ID: 0x24, Name: "set_time", Direction: zcl.DirectionToServer},
		{ID: 0x25, Name: "mcu_connection_status_rsp", Direction: zcl.DirectionToServer},
		{ID: 0x01, Name: "get_data", Direction: zcl.DirectionToClient},
		{ID: 0x02, Name: "set_data_response", Direction: zcl.DirectionToClient},
		{ID: 0x06, Name: "active_status_report", Direction: zcl.DirectionToClient},
		{ID: 0x11, Name: "mcu_version_rsp", Direction: zcl.DirectionToClient},
		{ID: 0x24, Name: "set_time_request", Direction: zcl.DirectionToClient},
		{ID: 0x25, Name: "mcu_connection_status", Direction: zcl.DirectionToClient},
	},
}

// Standard returns the cluster definitions the quirk host registers at startup.
func Standard() []zcl.ClusterDef {
	return []zcl.ClusterDef{
		Basic,                  // 0x0000
		PowerConfiguration,     // 0x0001
		Groups,                 // 0x0004
		Scenes,                 // 0x0005
		Time,                   // 0x000A
		OTAUpgrade,             // 0x0019
		TemperatureMeasurement, // 0x0402
		RelativeHumidity,       // 0x0405
		TuyaMCU,                // 0xEF00
	}
}
