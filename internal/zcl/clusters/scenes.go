package clusters

import "zigbee-quirks/internal/zcl"

var Scenes = zcl.ClusterDef{
	ID:   0x0005,
	Name: "scenes",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "count", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0001, Name: "current_scene", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "current_group", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: 0x0003, Name: "scene_valid", Type: zcl.TypeBool, Access: zcl.AccessRead},
		{ID: 0x0004, Name: "name_support", Type: zcl.TypeBitmap8, Access: zcl.AccessRead},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "add", Direction: zcl.DirectionToServer},
		{ID: 0x01, Name: "view", Direction: zcl.DirectionToServer},
		{ID: 0x05, Name: "recall", Direction: zcl.DirectionToServer},
		{ID: 0x06, Name: "get_scene_membership", Direction: zcl.DirectionToServer},
	},
}
