package quirk

import "slices"

// ClusterFactory builds a software-emulated cluster on an endpoint of the
// replaced device.
type ClusterFactory func(ep *Endpoint) Cluster

// ClusterSpec is one input cluster of a replacement endpoint. A spec without
// a factory keeps the device's native cluster for that ID.
type ClusterSpec struct {
	ID  uint16
	New ClusterFactory
}

// Native keeps the device's own implementation of cluster id.
func Native(id uint16) ClusterSpec {
	return ClusterSpec{ID: id}
}

// Local backs cluster id with a software-emulated implementation.
func Local(id uint16, factory ClusterFactory) ClusterSpec {
	return ClusterSpec{ID: id, New: factory}
}

// IsLocal reports whether the entry substitutes a local cluster.
func (c ClusterSpec) IsLocal() bool {
	return c.New != nil
}

// EndpointReplacement describes how one endpoint looks once the quirk is
// applied.
type EndpointReplacement struct {
	ProfileID   uint16
	DeviceType  uint16
	InClusters  []ClusterSpec
	OutClusters []uint16
}

// Replacement is the set of substitutions the host performs on a matched
// device.
type Replacement struct {
	SkipConfiguration bool
	Endpoints         map[uint8]EndpointReplacement
}

// Clone returns a deep copy of the replacement. Factories are shared; they
// are stateless functions.
func (r Replacement) Clone() Replacement {
	cp := Replacement{
		SkipConfiguration: r.SkipConfiguration,
		Endpoints:         make(map[uint8]EndpointReplacement, len(r.Endpoints)),
	}
	for id, ep := range r.Endpoints {
		ep.InClusters = slices.Clone(ep.InClusters)
		ep.OutClusters = slices.Clone(ep.OutClusters)
		cp.Endpoints[id] = ep
	}
	return cp
}

// WithInClusters returns a copy of the replacement whose endpoint ep uses the
// given input clusters.
func (r Replacement) WithInClusters(ep uint8, specs ...ClusterSpec) Replacement {
	cp := r.Clone()
	e := cp.Endpoints[ep]
	e.InClusters = slices.Clone(specs)
	cp.Endpoints[ep] = e
	return cp
}
