package clusters

import "zigbee-quirks/internal/zcl"

var Time = zcl.ClusterDef{
	ID:   0x000A,
	Name: "time",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "time", Type: zcl.TypeUTC, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0001, Name: "time_status", Type: zcl.TypeBitmap8, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0002, Name: "time_zone", Type: zcl.TypeInt32, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0007, Name: "local_time", Type: zcl.TypeUint32, Access: zcl.AccessRead},
	},
}
