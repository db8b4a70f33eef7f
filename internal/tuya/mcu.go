package tuya

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"zigbee-quirks/internal/quirk"
	"zigbee-quirks/internal/zcl"
)

// MCUCluster is a local 0xEF00 cluster that decodes data-point commands and
// writes each data point into the attribute its mapping names. Device quirks
// embed it to add their own command handlers.
type MCUCluster struct {
	*quirk.LocalCluster
	mappings Mappings

	mu  sync.Mutex
	seq uint16
}

// NewMCUCluster creates the cluster with the given attribute table and
// data-point mappings.
func NewMCUCluster(ep *quirk.Endpoint, def zcl.ClusterDef, mappings Mappings) *MCUCluster {
	return &MCUCluster{
		LocalCluster: quirk.NewLocalCluster(ep, def, nil),
		mappings:     mappings,
	}
}

// Mappings returns the cluster's data-point table.
func (c *MCUCluster) Mappings() Mappings { return c.mappings }

// HandleClusterRequest dispatches the generic data-point and version
// commands. Anything else is left to the embedding cluster.
func (c *MCUCluster) HandleClusterRequest(_ context.Context, req quirk.Request) zcl.Status {
	switch req.CommandID {
	case CommandGetData, CommandSetDataResponse, CommandActiveStatusReport:
		cmd, err := ParseCommand(req.Payload)
		if err != nil {
			c.reportFailure(fmt.Sprintf("command 0x%02X", req.CommandID), err)
			return zcl.StatusMalformedCommand
		}
		c.HandleDataPoints(cmd.DataPoints)
		return zcl.StatusSuccess

	case CommandMCUVersionResponse:
		v, err := ParseMCUVersion(req.Payload)
		if err != nil {
			c.reportFailure("mcu version", err)
			return zcl.StatusMalformedCommand
		}
		if err := c.UpdateAttribute("mcu_version", v.String()); err != nil {
			c.reportFailure("mcu version", err)
		}
		return zcl.StatusSuccess
	}
	return zcl.StatusUnsupClusterCmd
}

// HandleDataPoints applies each data point in order. A data point that
// can't be applied is reported and skipped. Returns how many were applied.
func (c *MCUCluster) HandleDataPoints(dps []DataPoint) int {
	applied := 0
	for _, dp := range dps {
		if err := c.ApplyDataPoint(dp); err != nil {
			c.reportFailure(fmt.Sprintf("dp %d", dp.ID), err)
			continue
		}
		applied++
	}
	return applied
}

// ApplyDataPoint decodes one data point and updates its target attribute.
func (c *MCUCluster) ApplyDataPoint(dp DataPoint) error {
	m, ok := c.mappings[dp.ID]
	if !ok {
		return fmt.Errorf("dp %d: %w", dp.ID, ErrUnknownDataPoint)
	}
	raw, err := dp.Value()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMapping, err)
	}
	value := raw
	if m.FromWire != nil {
		if value, err = m.FromWire(raw); err != nil {
			if !errors.Is(err, ErrMapping) {
				err = fmt.Errorf("%w: %w", ErrMapping, err)
			}
			return fmt.Errorf("dp %d -> %s: %w", dp.ID, m.Attribute, err)
		}
	}
	target, err := c.target(m)
	if err != nil {
		return fmt.Errorf("dp %d: %w", dp.ID, err)
	}
	if err := target.UpdateAttribute(m.Attribute, value); err != nil {
		return fmt.Errorf("%w: dp %d: %w", ErrMapping, dp.ID, err)
	}
	return nil
}

// WriteAttribute encodes a user-supplied value through the attribute's
// mapping and sends it to the device as a set-data command.
func (c *MCUCluster) WriteAttribute(ctx context.Context, name string, value interface{}) error {
	attr := c.Def().FindAttributeByName(name)
	if attr == nil {
		return fmt.Errorf("%s.%s: %w", c.Def().Name, name, quirk.ErrUnknownAttribute)
	}
	id, m, ok := c.mappings.Lookup(c.ID(), name)
	if !ok || !m.Writable() || !attr.IsWritable() {
		return fmt.Errorf("%s.%s: %w", c.Def().Name, name, quirk.ErrReadOnly)
	}
	wire, err := m.ToWire(value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", c.Def().Name, name, err)
	}
	dp, err := NewDataPoint(id, m.DPType, wire)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMapping, err)
	}
	payload, err := Command{Seq: c.nextSeq(), DataPoints: []DataPoint{dp}}.MarshalBinary()
	if err != nil {
		return err
	}
	ep := c.Endpoint()
	if ep == nil || ep.Device() == nil {
		return fmt.Errorf("%s: cluster is not attached to a device", c.Def().Name)
	}
	return ep.Device().Command(ctx, quirk.CommandRequest{
		Endpoint:  ep.ID,
		ClusterID: c.ID(),
		CommandID: CommandSetData,
		Payload:   payload,
	})
}

// Validate checks that every mapping points at an existing cluster and
// attribute on the device.
func (c *MCUCluster) Validate() error {
	for _, k := range c.mappings.Keys() {
		m := c.mappings[k]
		target, err := c.target(m)
		if err != nil {
			return fmt.Errorf("dp %d: %w", k, err)
		}
		if target.Def().FindAttributeByName(m.Attribute) == nil {
			return fmt.Errorf("dp %d: cluster %s has no attribute %q", k, target.Def().Name, m.Attribute)
		}
	}
	return nil
}

func (c *MCUCluster) target(m Mapping) (quirk.Cluster, error) {
	ep := c.Endpoint()
	if ep == nil {
		return nil, fmt.Errorf("cluster 0x%04X is not attached to an endpoint", c.ID())
	}
	if m.ClusterID == c.ID() && (m.Endpoint == 0 || m.Endpoint == ep.ID) {
		return c, nil
	}
	if m.Endpoint != 0 && m.Endpoint != ep.ID {
		if ep.Device() == nil || ep.Device().Endpoint(m.Endpoint) == nil {
			return nil, fmt.Errorf("no endpoint %d", m.Endpoint)
		}
		ep = ep.Device().Endpoint(m.Endpoint)
	}
	target := ep.Cluster(m.ClusterID)
	if target == nil {
		return nil, fmt.Errorf("no cluster 0x%04X on endpoint %d", m.ClusterID, ep.ID)
	}
	return target, nil
}

func (c *MCUCluster) nextSeq() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

func (c *MCUCluster) reportFailure(source string, err error) {
	if ep := c.Endpoint(); ep != nil && ep.Device() != nil {
		ep.Device().ReportFailure(source, err)
	}
}
