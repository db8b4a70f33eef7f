package quirk

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"zigbee-quirks/internal/zcl"
)

// ErrNoMatch is returned when no registered quirk matches a device.
var ErrNoMatch = errors.New("no matching quirk")

// Quirk pairs a signature with the replacement applied to matching devices.
type Quirk struct {
	Name        string
	Description string
	Signature   Signature
	Replacement Replacement
	// Constants are the quirk's device-level defaults; host-side overrides
	// are merged on top when a device is paired.
	Constants Constants
}

// Registry holds the quirks known to the host.
type Registry struct {
	mu       sync.RWMutex
	quirks   []*Quirk
	clusters *zcl.Registry
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. clusters supplies definitions for
// native clusters kept by a replacement.
func NewRegistry(clusters *zcl.Registry, logger *slog.Logger) *Registry {
	return &Registry{
		clusters: clusters,
		logger:   logger,
	}
}

// Register validates and adds a quirk. Validation builds the replaced device
// once and runs every cluster's Validator, so a data-point table pointing at
// a missing cluster or attribute is rejected here rather than at runtime.
func (r *Registry) Register(q *Quirk) error {
	if q.Name == "" {
		return errors.New("quirk: empty name")
	}
	if len(q.Signature.Models) == 0 {
		return fmt.Errorf("quirk %s: signature has no models", q.Name)
	}

	sample := DeviceInfo{
		IEEEAddress:  "validate",
		Manufacturer: q.Signature.Models[0].Manufacturer,
		Model:        q.Signature.Models[0].Model,
	}
	dev, err := r.Apply(q, sample, DeviceOptions{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		return fmt.Errorf("quirk %s: %w", q.Name, err)
	}
	dev.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.quirks {
		if existing.Name == q.Name {
			return fmt.Errorf("quirk %s: already registered", q.Name)
		}
	}
	r.quirks = append(r.quirks, q)
	r.logger.Debug("quirk registered", "name", q.Name, "models", len(q.Signature.Models))
	return nil
}

// MustRegister is Register for quirks declared at startup.
func (r *Registry) MustRegister(q *Quirk) {
	if err := r.Register(q); err != nil {
		panic(err)
	}
}

// All returns the registered quirks in registration order.
func (r *Registry) All() []*Quirk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Quirk, len(r.quirks))
	copy(out, r.quirks)
	return out
}

// Lookup finds a quirk by name.
func (r *Registry) Lookup(name string) *Quirk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, q := range r.quirks {
		if q.Name == name {
			return q
		}
	}
	return nil
}

// Match returns the first quirk whose signature matches the device.
func (r *Registry) Match(info DeviceInfo) (*Quirk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, q := range r.quirks {
		if q.Signature.Matches(info) {
			return q, nil
		}
	}
	return nil, fmt.Errorf("%s %s/%s: %w", info.IEEEAddress, info.Manufacturer, info.Model, ErrNoMatch)
}

// Apply builds the replaced device for a matched quirk. Endpoints the
// replacement doesn't mention keep their native clusters.
func (r *Registry) Apply(q *Quirk, info DeviceInfo, opts DeviceOptions) (*Device, error) {
	dev := newDevice(info, q, opts)

	for id, repl := range q.Replacement.Endpoints {
		ep := NewEndpoint(dev, id)
		ep.ProfileID = repl.ProfileID
		ep.DeviceType = repl.DeviceType
		if sig, ok := q.Signature.Endpoints[id]; ok {
			if ep.ProfileID == 0 {
				ep.ProfileID = sig.ProfileID
			}
			if ep.DeviceType == 0 {
				ep.DeviceType = sig.DeviceType
			}
		}
		for _, spec := range repl.InClusters {
			var c Cluster
			if spec.IsLocal() {
				c = spec.New(ep)
				if c.ID() != spec.ID {
					dev.Close()
					return nil, fmt.Errorf("endpoint %d: factory for 0x%04X built cluster 0x%04X", id, spec.ID, c.ID())
				}
			} else {
				c = NewNativeCluster(ep, r.clusterDef(spec.ID))
			}
			ep.AddCluster(c)
		}
		ep.out = append(ep.out, repl.OutClusters...)
	}

	for _, info := range info.Endpoints {
		if dev.Endpoint(info.ID) != nil {
			continue
		}
		ep := NewEndpoint(dev, info.ID)
		ep.ProfileID = info.ProfileID
		ep.DeviceType = info.DeviceID
		for _, id := range info.InClusters {
			ep.AddCluster(NewNativeCluster(ep, r.clusterDef(id)))
		}
		ep.out = append(ep.out, info.OutClusters...)
	}

	for _, ep := range dev.Endpoints() {
		for _, c := range ep.InClusters() {
			v, ok := c.(Validator)
			if !ok {
				continue
			}
			if err := v.Validate(); err != nil {
				dev.Close()
				return nil, fmt.Errorf("endpoint %d cluster 0x%04X: %w", ep.ID, c.ID(), err)
			}
		}
	}
	return dev, nil
}

func (r *Registry) clusterDef(id uint16) zcl.ClusterDef {
	if r.clusters != nil {
		if def := r.clusters.Get(id); def != nil {
			return *def
		}
	}
	return zcl.ClusterDef{ID: id, Name: fmt.Sprintf("0x%04X", id)}
}
