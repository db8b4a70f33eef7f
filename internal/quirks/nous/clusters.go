package nous

import (
	"fmt"

	"zigbee-quirks/internal/quirk"
	"zigbee-quirks/internal/tuya"
	"zigbee-quirks/internal/zcl"
	"zigbee-quirks/internal/zcl/clusters"
)

// Device constants consulted by the clusters.
const (
	// ConstRHMultiplier scales raw humidity data points; default 100.
	ConstRHMultiplier = "rh_multiplier"
	// ConstSetTimeOffset is the epoch year of the device's UTC clock; default 1970.
	ConstSetTimeOffset = "set_time_offset"
	// ConstSetTimeLocalOffset is the epoch year of the local clock; defaults
	// to the UTC epoch year.
	ConstSetTimeLocalOffset = "set_time_local_offset"
)

const defaultRHMultiplier = 100

// TemperatureMeasurement is the local temperature cluster fed by DP 1.
func TemperatureMeasurement(ep *quirk.Endpoint) quirk.Cluster {
	return quirk.NewLocalCluster(ep, clusters.TemperatureMeasurement, nil)
}

// RelativeHumidity is a local humidity cluster that scales measured_value
// by the device's humidity multiplier.
type RelativeHumidity struct {
	*quirk.LocalCluster
}

// NewRelativeHumidity is the cluster factory for RelativeHumidity.
func NewRelativeHumidity(ep *quirk.Endpoint) quirk.Cluster {
	return &RelativeHumidity{LocalCluster: quirk.NewLocalCluster(ep, clusters.RelativeHumidity, nil)}
}

// UpdateAttribute stores measured_value multiplied by the multiplier. Other
// attributes are stored unchanged.
func (c *RelativeHumidity) UpdateAttribute(name string, value interface{}) error {
	if name == "measured_value" {
		n, ok := zcl.ToInt64(value)
		if !ok {
			return fmt.Errorf("%s.%s: %w: %T", c.Def().Name, name, quirk.ErrOutOfRange, value)
		}
		value = n * c.Multiplier()
	}
	return c.LocalCluster.UpdateAttribute(name, value)
}

// Multiplier returns the device's rh_multiplier, or 100.
func (c *RelativeHumidity) Multiplier() int64 {
	if ep := c.Endpoint(); ep != nil && ep.Device() != nil {
		if m, ok := ep.Device().IntConstant(ConstRHMultiplier); ok {
			return m
		}
	}
	return defaultRHMultiplier
}

// PowerConfiguration3AAA is the battery cluster of the SZ-T04.
func PowerConfiguration3AAA(ep *quirk.Endpoint) quirk.Cluster {
	return tuya.NewBatteryPowerConfiguration(ep, 3)
}
