// Package quirk defines the contract between device quirks and the host that
// loads them: pairing-time signatures, replacement descriptors, local
// clusters and the per-device runtime the quirk's clusters live in.
package quirk

import "slices"

// ModelInfo identifies a device by its Basic cluster manufacturer and model
// strings.
type ModelInfo struct {
	Manufacturer string `json:"manufacturer" yaml:"manufacturer"`
	Model        string `json:"model" yaml:"model"`
}

// EndpointInfo describes one endpoint of a paired device as reported by the
// coordinator's interview.
type EndpointInfo struct {
	ID          uint8    `json:"id"`
	ProfileID   uint16   `json:"profile_id"`
	DeviceID    uint16   `json:"device_id"`
	InClusters  []uint16 `json:"in_clusters"`
	OutClusters []uint16 `json:"out_clusters"`
}

// DeviceInfo is what the host knows about a device before a quirk is applied.
type DeviceInfo struct {
	IEEEAddress  string         `json:"ieee_address"`
	ShortAddress uint16         `json:"short_address"`
	Manufacturer string         `json:"manufacturer"`
	Model        string         `json:"model"`
	Endpoints    []EndpointInfo `json:"endpoints"`
}

// Endpoint returns the endpoint with the given ID, or nil.
func (d DeviceInfo) Endpoint(id uint8) *EndpointInfo {
	for i := range d.Endpoints {
		if d.Endpoints[i].ID == id {
			return &d.Endpoints[i]
		}
	}
	return nil
}

// EndpointSignature is the expected topology of one endpoint.
type EndpointSignature struct {
	ProfileID   uint16   `json:"profile_id"`
	DeviceType  uint16   `json:"device_type"`
	InClusters  []uint16 `json:"in_clusters"`
	OutClusters []uint16 `json:"out_clusters"`
}

// Signature is matched against a freshly interviewed device to decide whether
// a quirk applies.
type Signature struct {
	Models    []ModelInfo                 `json:"models"`
	Endpoints map[uint8]EndpointSignature `json:"endpoints"`
}

// Clone returns a deep copy of the signature.
func (s Signature) Clone() Signature {
	cp := Signature{
		Models:    slices.Clone(s.Models),
		Endpoints: make(map[uint8]EndpointSignature, len(s.Endpoints)),
	}
	for id, ep := range s.Endpoints {
		ep.InClusters = slices.Clone(ep.InClusters)
		ep.OutClusters = slices.Clone(ep.OutClusters)
		cp.Endpoints[id] = ep
	}
	return cp
}

// WithModels returns a copy of the signature matching the given models
// in place of its own model list.
func (s Signature) WithModels(models ...ModelInfo) Signature {
	cp := s.Clone()
	cp.Models = slices.Clone(models)
	return cp
}

// Matches reports whether a device satisfies the signature: its model info is
// listed and every endpoint has the same profile, device type and cluster
// sets. The device must not expose endpoints the signature doesn't name.
func (s Signature) Matches(info DeviceInfo) bool {
	if !slices.Contains(s.Models, ModelInfo{Manufacturer: info.Manufacturer, Model: info.Model}) {
		return false
	}
	if len(info.Endpoints) != len(s.Endpoints) {
		return false
	}
	for id, want := range s.Endpoints {
		got := info.Endpoint(id)
		if got == nil {
			return false
		}
		if got.ProfileID != want.ProfileID || got.DeviceID != want.DeviceType {
			return false
		}
		if !sameClusters(got.InClusters, want.InClusters) || !sameClusters(got.OutClusters, want.OutClusters) {
			return false
		}
	}
	return true
}

func sameClusters(a, b []uint16) bool {
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(slices.Compact(x), slices.Compact(y))
}
