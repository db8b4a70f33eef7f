package store

import (
	"time"

	"zigbee-quirks/internal/quirk"
)

// Device is a paired device as reported by the coordinator's interview,
// plus the name of the quirk it matched.
type Device struct {
	IEEEAddress  string     `json:"ieee_address"`
	ShortAddress uint16     `json:"short_address"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	Model        string     `json:"model,omitempty"`
	FriendlyName string     `json:"friendly_name,omitempty"`
	Endpoints    []Endpoint `json:"endpoints,omitempty"`
	Quirk        string     `json:"quirk,omitempty"`
	PairedAt     time.Time  `json:"paired_at"`
	LastSeen     time.Time  `json:"last_seen"`
}

// Endpoint represents a device endpoint.
type Endpoint struct {
	ID          uint8    `json:"id"`
	ProfileID   uint16   `json:"profile_id"`
	DeviceID    uint16   `json:"device_id"`
	InClusters  []uint16 `json:"in_clusters"`
	OutClusters []uint16 `json:"out_clusters"`
}

// FromInfo builds a record from interview data.
func FromInfo(info quirk.DeviceInfo) *Device {
	dev := &Device{
		IEEEAddress:  info.IEEEAddress,
		ShortAddress: info.ShortAddress,
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
	}
	for _, ep := range info.Endpoints {
		dev.Endpoints = append(dev.Endpoints, Endpoint{
			ID:          ep.ID,
			ProfileID:   ep.ProfileID,
			DeviceID:    ep.DeviceID,
			InClusters:  append([]uint16(nil), ep.InClusters...),
			OutClusters: append([]uint16(nil), ep.OutClusters...),
		})
	}
	return dev
}

// Info returns the interview data the quirk registry matches against.
func (d *Device) Info() quirk.DeviceInfo {
	info := quirk.DeviceInfo{
		IEEEAddress:  d.IEEEAddress,
		ShortAddress: d.ShortAddress,
		Manufacturer: d.Manufacturer,
		Model:        d.Model,
	}
	for _, ep := range d.Endpoints {
		info.Endpoints = append(info.Endpoints, quirk.EndpointInfo{
			ID:          ep.ID,
			ProfileID:   ep.ProfileID,
			DeviceID:    ep.DeviceID,
			InClusters:  append([]uint16(nil), ep.InClusters...),
			OutClusters: append([]uint16(nil), ep.OutClusters...),
		})
	}
	return info
}

// Name returns the friendly name, falling back to the IEEE address.
func (d *Device) Name() string {
	if d.FriendlyName != "" {
		return d.FriendlyName
	}
	return d.IEEEAddress
}
