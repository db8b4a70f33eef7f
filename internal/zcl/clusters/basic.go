package clusters

import "zigbee-quirks/internal/zcl"

var Basic = zcl.ClusterDef{
	ID:   0x0000,
	Name: "basic",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "zcl_version", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0001, Name: "app_version", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "stack_version", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0003, Name: "hw_version", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0004, Name: "manufacturer", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: 0x0005, Name: "model", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: 0x0006, Name: "date_code", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: 0x0007, Name: "power_source", Type: zcl.TypeEnum8, Access: zcl.AccessRead},
		{ID: 0x4000, Name: "sw_build_id", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "reset_fact_default", Direction: zcl.DirectionToServer},
	},
}
