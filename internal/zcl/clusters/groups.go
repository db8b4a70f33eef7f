package clusters

import "zigbee-quirks/internal/zcl"

var Groups = zcl.ClusterDef{
	ID:   0x0004,
	Name: "groups",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "name_support", Type: zcl.TypeBitmap8, Access: zcl.AccessRead},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "add", Direction: zcl.DirectionToServer},
		{ID: 0x01, Name: "view", Direction: zcl.DirectionToServer},
		{ID: 0x02, Name: "get_membership", Direction: zcl.DirectionToServer},
		{ID: 0x03, Name: "remove", Direction: zcl.DirectionToServer},
		{ID: 0x04, Name: "remove_all", Direction: zcl.DirectionToServer},
	},
}
