package quirk

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"zigbee-quirks/internal/zcl"
)

var (
	// ErrUnknownAttribute is returned when an attribute name is not part of
	// the cluster's attribute table.
	ErrUnknownAttribute = errors.New("unknown attribute")
	// ErrOutOfRange is returned when a value does not fit the attribute type.
	ErrOutOfRange = errors.New("value out of range")
	// ErrReadOnly is returned when writing an attribute the device can't accept.
	ErrReadOnly = errors.New("attribute is read-only")
)

// Request is an inbound cluster-specific command delivered by the host.
type Request struct {
	TSN       uint8
	CommandID uint8
	Payload   []byte
}

// Cluster is a cluster instance living on an endpoint of a quirked device.
type Cluster interface {
	ID() uint16
	Def() *zcl.ClusterDef
	Endpoint() *Endpoint
	IsLocal() bool
	UpdateAttribute(name string, value interface{}) error
	Get(name string) (interface{}, bool)
	Snapshot() map[string]interface{}
}

// CommandHandler is implemented by clusters that answer cluster-specific
// commands sent by the device.
type CommandHandler interface {
	HandleClusterRequest(ctx context.Context, req Request) zcl.Status
}

// AttributeWriter is implemented by clusters that translate attribute writes
// into device commands.
type AttributeWriter interface {
	WriteAttribute(ctx context.Context, name string, value interface{}) error
}

// Validator is implemented by clusters whose declarations can be checked once
// the replaced endpoint exists.
type Validator interface {
	Validate() error
}

// LocalCluster keeps attribute values in memory and serves constant
// attributes. Quirk clusters embed it and override UpdateAttribute to adapt
// values before storing them.
type LocalCluster struct {
	def       zcl.ClusterDef
	ep        *Endpoint
	local     bool
	constants map[uint16]interface{}

	mu     sync.RWMutex
	values map[string]interface{}
}

// NewLocalCluster creates a software-emulated cluster. constants maps
// attribute IDs to fixed values returned by Get.
func NewLocalCluster(ep *Endpoint, def zcl.ClusterDef, constants map[uint16]interface{}) *LocalCluster {
	return &LocalCluster{
		def:       *def.DeepCopy(),
		ep:        ep,
		local:     true,
		constants: maps.Clone(constants),
		values:    make(map[string]interface{}),
	}
}

// NewNativeCluster wraps a cluster the physical device implements itself.
// Values reported by the device are cached the same way.
func NewNativeCluster(ep *Endpoint, def zcl.ClusterDef) *LocalCluster {
	c := NewLocalCluster(ep, def, nil)
	c.local = false
	return c
}

func (c *LocalCluster) ID() uint16 { return c.def.ID }
func (c *LocalCluster) Def() *zcl.ClusterDef { return &c.def }
func (c *LocalCluster) Endpoint() *Endpoint { return c.ep }
func (c *LocalCluster) IsLocal() bool { return c.local }

// UpdateAttribute stores value under name after checking it fits the
// attribute's ZCL type, then notifies the device listener.
func (c *LocalCluster) UpdateAttribute(name string, value interface{}) error {
	attr := c.def.FindAttributeByName(name)
	if attr == nil {
		return fmt.Errorf("%s.%s: %w", c.def.Name, name, ErrUnknownAttribute)
	}
	if err := zcl.CheckValue(attr.Type, value); err != nil {
		return fmt.Errorf("%s.%s: %w: %v", c.def.Name, name, ErrOutOfRange, err)
	}

	c.mu.Lock()
	c.values[name] = value
	c.mu.Unlock()

	if c.ep != nil && c.ep.device != nil {
		c.ep.device.attributeUpdated(c.ep.ID, c.def.ID, name, value)
	}
	return nil
}

// Get returns the current value of an attribute. Constant attributes take
// precedence over cached values.
func (c *LocalCluster) Get(name string) (interface{}, bool) {
	if attr := c.def.FindAttributeByName(name); attr != nil {
		if v, ok := c.constants[attr.ID]; ok {
			return v, true
		}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[name]
	return v, ok
}

// Snapshot returns every known attribute value, constants included.
func (c *LocalCluster) Snapshot() map[string]interface{} {
	c.mu.RLock()
	out := make(map[string]interface{}, len(c.values)+len(c.constants))
	for k, v := range c.values {
		out[k] = v
	}
	c.mu.RUnlock()
	for id, v := range c.constants {
		if attr := c.def.FindAttribute(id); attr != nil {
			out[attr.Name] = v
		}
	}
	return out
}
