//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"

	"zigbee-quirks/internal/quirk"
	"zigbee-quirks/internal/store"
	"zigbee-quirks/internal/zcl/clusters"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/zigbee_0xa4c1.../temperature/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a sensor discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	Options           []string `json:"options,omitempty"`
	Device            haDevice `json:"device"`
}

// sensorSpec describes how one state property is exposed.
type sensorSpec struct {
	Property    string
	Suffix      string
	DeviceClass string
	Unit        string
	StateClass  string
	Category    string
	Options     []string
}

// measurementSensors are exposed when the endpoint carries the cluster.
var measurementSensors = map[uint16]sensorSpec{
	clusters.TemperatureMeasurement.ID: {Property: "temperature", Suffix: "Temperature", DeviceClass: "temperature", Unit: "°C", StateClass: "measurement"},
	clusters.RelativeHumidity.ID:       {Property: "humidity", Suffix: "Humidity", DeviceClass: "humidity", Unit: "%", StateClass: "measurement"},
	clusters.PowerConfiguration.ID:     {Property: "battery", Suffix: "Battery", DeviceClass: "battery", Unit: "%", StateClass: "measurement", Category: "diagnostic"},
}

var alarmOptions = []string{"min_alarm_on", "max_alarm_on", "alarm_off"}

// mcuSensors are the Tuya MCU attributes exposed when the cluster declares
// them.
var mcuSensors = map[string]sensorSpec{
	"temperature_unit_convert":    {Suffix: "Display Unit", DeviceClass: "enum", Category: "config", Options: []string{"celsius", "fahrenheit"}},
	"max_temperature":             {Suffix: "Max Temperature", DeviceClass: "temperature", Unit: "°C", Category: "config"},
	"min_temperature":             {Suffix: "Min Temperature", DeviceClass: "temperature", Unit: "°C", Category: "config"},
	"temperature_sensitivity":     {Suffix: "Temperature Sensitivity", Unit: "°C", Category: "config"},
	"temperature_alarm":           {Suffix: "Temperature Alarm", DeviceClass: "enum", Options: alarmOptions},
	"max_humidity":                {Suffix: "Max Humidity", Unit: "%", Category: "config"},
	"min_humidity":                {Suffix: "Min Humidity", Unit: "%", Category: "config"},
	"humidity_sensitivity":        {Suffix: "Humidity Sensitivity", Unit: "%", Category: "config"},
	"humidity_alarm":              {Suffix: "Humidity Alarm", DeviceClass: "enum", Options: alarmOptions},
	"temperature_report_interval": {Suffix: "Temperature Report Interval", Unit: "min", Category: "config"},
	"humidity_report_interval":    {Suffix: "Humidity Report Interval", Unit: "min", Category: "config"},
	"mcu_version":                 {Suffix: "MCU Version", Category: "diagnostic"},
}

// deviceDisplayName returns a display name for the device.
func deviceDisplayName(dev *store.Device) string {
	if dev.FriendlyName != "" {
		return dev.FriendlyName
	}
	if dev.Manufacturer != "" && dev.Model != "" {
		return dev.Manufacturer + " " + dev.Model
	}
	if dev.Model != "" {
		return dev.Model
	}
	return dev.IEEEAddress
}

// deviceIdentifier returns the unique identifier for HA device registry.
func deviceIdentifier(ieee string) string {
	return "zigbee_" + ieee
}

// deviceTopicName returns the topic name for a device (friendly name or IEEE).
func deviceTopicName(dev *store.Device) string {
	if dev.FriendlyName == "" {
		return dev.IEEEAddress
	}
	name := strings.ToLower(dev.FriendlyName)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
}

// buildDiscovery generates sensor discovery messages from the clusters of a
// quirked device.
func buildDiscovery(rec *store.Device, dev *quirk.Device, prefix, discoveryPrefix string) []discoveryMsg {
	if dev == nil {
		return nil
	}

	avail := prefix + "/bridge/state"
	stateTopic := prefix + "/" + deviceTopicName(rec)
	nodeID := deviceIdentifier(rec.IEEEAddress)
	displayName := deviceDisplayName(rec)
	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: rec.Manufacturer,
		Model:        rec.Model,
		Name:         displayName,
	}

	var specs []sensorSpec
	seen := make(map[string]bool)
	add := func(s sensorSpec) {
		if seen[s.Property] {
			return
		}
		seen[s.Property] = true
		specs = append(specs, s)
	}
	for _, ep := range dev.Endpoints() {
		for _, c := range ep.InClusters() {
			if s, ok := measurementSensors[c.ID()]; ok {
				add(s)
				continue
			}
			if c.ID() != clusters.TuyaMCU.ID {
				continue
			}
			for _, attr := range c.Def().Attributes {
				if !attr.IsReadable() {
					continue
				}
				if s, ok := mcuSensors[attr.Name]; ok {
					s.Property = attr.Name
					add(s)
				}
			}
		}
	}

	msgs := make([]discoveryMsg, 0, len(specs))
	for _, s := range specs {
		msgs = append(msgs, buildSensor(discoveryPrefix, nodeID, displayName, stateTopic, avail, haDev, s))
	}
	return msgs
}

func buildSensor(discoveryPrefix, nodeID, displayName, stateTopic, avail string, haDev haDevice, s sensorSpec) discoveryMsg {
	topic := fmt.Sprintf("%s/sensor/%s/%s/config", discoveryPrefix, nodeID, s.Property)
	payload := haDiscovery{
		Name:              displayName + " " + s.Suffix,
		UniqueID:          nodeID + "_" + s.Property,
		StateTopic:        stateTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", s.Property),
		UnitOfMeasurement: s.Unit,
		DeviceClass:       s.DeviceClass,
		StateClass:        s.StateClass,
		EntityCategory:    s.Category,
		Options:           s.Options,
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

// buildRemoveDiscovery turns previously published discovery topics into
// empty retained messages, which removes the entities from HA.
func buildRemoveDiscovery(topics []string) []discoveryMsg {
	msgs := make([]discoveryMsg, 0, len(topics))
	for _, t := range topics {
		msgs = append(msgs, discoveryMsg{Topic: t})
	}
	return msgs
}
