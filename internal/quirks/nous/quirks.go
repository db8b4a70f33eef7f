// Package nous declares the quirks for the Nous E6 and SZ-T04 Tuya
// temperature and humidity sensors with clock.
//
// Both devices join as a TS0601 smart plug exposing only the Tuya MCU
// cluster. The quirk turns endpoint 1 into a temperature sensor with local
// temperature, humidity and battery clusters fed from Tuya data points.
package nous

import (
	"fmt"

	"zigbee-quirks/internal/quirk"
	"zigbee-quirks/internal/tuya"
	"zigbee-quirks/internal/zcl"
	"zigbee-quirks/internal/zcl/clusters"
)

var e6Signature = quirk.Signature{
	Models: []quirk.ModelInfo{{Manufacturer: "_TZE200_nnrfa68v", Model: "TS0601"}},
	Endpoints: map[uint8]quirk.EndpointSignature{
		1: {
			ProfileID:  zcl.ProfileHomeAutomation,
			DeviceType: zcl.DeviceTypeSmartPlug,
			InClusters: []uint16{
				clusters.Basic.ID,
				clusters.Groups.ID,
				clusters.Scenes.ID,
				clusters.TuyaMCU.ID,
			},
			OutClusters: []uint16{clusters.OTAUpgrade.ID, clusters.Time.ID},
		},
	},
}

var e6Replacement = quirk.Replacement{
	SkipConfiguration: true,
	Endpoints: map[uint8]quirk.EndpointReplacement{
		1: {
			DeviceType: zcl.DeviceTypeTemperatureSensor,
			InClusters: []quirk.ClusterSpec{
				quirk.Native(clusters.Basic.ID),
				quirk.Native(clusters.Groups.ID),
				quirk.Native(clusters.Scenes.ID),
				quirk.Local(clusters.TemperatureMeasurement.ID, TemperatureMeasurement),
				quirk.Local(clusters.RelativeHumidity.ID, NewRelativeHumidity),
				quirk.Local(clusters.PowerConfiguration.ID, tuya.PowerConfiguration2AAA),
				quirk.Local(clusters.TuyaMCU.ID, E6MCUCluster),
			},
			OutClusters: []uint16{clusters.OTAUpgrade.ID, clusters.Time.ID},
		},
	},
}

// ClimateSensorE6 is the Nous E6 temperature and humidity sensor with clock.
var ClimateSensorE6 = &quirk.Quirk{
	Name:        "nous_climate_sensor_e6",
	Description: "Nous E6 temperature and humidity sensor with clock",
	Signature:   e6Signature,
	Replacement: e6Replacement,
}

// ClimateSensorSZT04 is the Nous SZ-T04. Same topology as the E6 with three
// AAA cells and the extended data-point table.
var ClimateSensorSZT04 = &quirk.Quirk{
	Name:        "nous_climate_sensor_sz_t04",
	Description: "Nous SZ-T04 temperature and humidity sensor with clock",
	Signature: e6Signature.WithModels(
		quirk.ModelInfo{Manufacturer: "_TZE200_locansqn", Model: "TS0601"},
	),
	Replacement: e6Replacement.WithInClusters(1,
		quirk.Native(clusters.Basic.ID),
		quirk.Native(clusters.Groups.ID),
		quirk.Native(clusters.Scenes.ID),
		quirk.Local(clusters.TemperatureMeasurement.ID, TemperatureMeasurement),
		quirk.Local(clusters.RelativeHumidity.ID, NewRelativeHumidity),
		quirk.Local(clusters.PowerConfiguration.ID, PowerConfiguration3AAA),
		quirk.Local(clusters.TuyaMCU.ID, SZT04MCUCluster),
	),
}

// Quirks returns every quirk in this package.
func Quirks() []*quirk.Quirk {
	return []*quirk.Quirk{ClimateSensorE6, ClimateSensorSZT04}
}

// Register adds the Nous quirks to r.
func Register(r *quirk.Registry) error {
	for _, q := range Quirks() {
		if err := r.Register(q); err != nil {
			return fmt.Errorf("register %s: %w", q.Name, err)
		}
	}
	return nil
}
