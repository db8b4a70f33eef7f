package clusters

import "zigbee-quirks/internal/zcl"

// Battery size enum values for the battery_size attribute.
const (
	BatterySizeAA  uint8 = 0x03
	BatterySizeAAA uint8 = 0x04
)

var PowerConfiguration = zcl.ClusterDef{
	ID:   0x0001,
	Name: "power",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "mains_voltage", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: 0x0020, Name: "battery_voltage", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0021, Name: "battery_percentage_remaining", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0031, Name: "battery_size", Type: zcl.TypeEnum8, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0033, Name: "battery_quantity", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0034, Name: "battery_rated_voltage", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessWrite},
	},
}
