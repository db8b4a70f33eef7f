package clusters

import "zigbee-quirks/internal/zcl"

var OTAUpgrade = zcl.ClusterDef{
	ID:   0x0019,
	Name: "ota",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "upgrade_server_id", Type: zcl.TypeEUI64, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "current_file_version", Type: zcl.TypeUint32, Access: zcl.AccessRead},
		{ID: 0x0006, Name: "image_upgrade_status", Type: zcl.TypeEnum8, Access: zcl.AccessRead},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x01, Name: "query_next_image", Direction: zcl.DirectionToServer},
		{ID: 0x02, Name: "query_next_image_response", Direction: zcl.DirectionToClient},
	},
}
