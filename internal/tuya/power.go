package tuya

import (
	"zigbee-quirks/internal/quirk"
	"zigbee-quirks/internal/zcl/clusters"
)

// Battery constants shared by Tuya battery-powered sensors.
const (
	batteryRatedVoltage = 15 // 1.5 V in units of 100 mV
)

// NewBatteryPowerConfiguration creates a local power configuration cluster
// for a device running on quantity AAA cells. Size, quantity and rated
// voltage are served as constant attributes.
func NewBatteryPowerConfiguration(ep *quirk.Endpoint, quantity uint8) *quirk.LocalCluster {
	return quirk.NewLocalCluster(ep, clusters.PowerConfiguration, map[uint16]interface{}{
		0x0031: clusters.BatterySizeAAA,
		0x0033: quantity,
		0x0034: uint8(batteryRatedVoltage),
	})
}

// PowerConfiguration2AAA is the cluster factory for sensors with two AAA
// cells.
func PowerConfiguration2AAA(ep *quirk.Endpoint) quirk.Cluster {
	return NewBatteryPowerConfiguration(ep, 2)
}
