// Package host is the runtime that quirked devices live in. It matches
// interviewed devices against the quirk registry, keeps the paired-device
// registry, routes inbound manufacturer frames into the device's clusters
// and hands outbound commands to the coordinator transport.
package host

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"zigbee-quirks/internal/quirk"
	"zigbee-quirks/internal/store"
	"zigbee-quirks/internal/zcl"
)

var (
	// ErrUnknownDevice is returned for an IEEE address the host has not paired.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrNoTransport is returned when a command is sent before a transport
	// is attached.
	ErrNoTransport = errors.New("no transport attached")
	// ErrUnmatched is returned when an operation needs a quirk but the device
	// didn't match one.
	ErrUnmatched = errors.New("device has no quirk")
	// ErrNoCluster is returned when a frame or write targets an endpoint or
	// cluster the device does not have.
	ErrNoCluster = errors.New("no such endpoint or cluster")
)

// HexBytes is a byte slice carried as a hex string in JSON.
type HexBytes []byte

func (b HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(b))
}

func (b *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	*b = raw
	return nil
}

// Frame is an already-decoded cluster-specific command received from a
// device.
type Frame struct {
	Endpoint  uint8    `json:"endpoint"`
	ClusterID uint16   `json:"cluster"`
	CommandID uint8    `json:"command"`
	TSN       uint8    `json:"tsn"`
	Payload   HexBytes `json:"payload"`
}

// ConstantsSource supplies per-model constant overrides.
type ConstantsSource interface {
	Constants(manufacturer, model string) quirk.Constants
}

// DefaultNamer is optionally implemented by a ConstantsSource that also
// names newly paired devices per model.
type DefaultNamer interface {
	DefaultName(manufacturer, model string) string
}

// Options configures a Host.
type Options struct {
	Registry  *quirk.Registry
	Store     store.Store
	Events    *EventBus
	Overrides ConstantsSource
	Logger    *slog.Logger

	// Device clock and task bounds, passed to every quirked device.
	Now         func() time.Time
	Location    *time.Location
	TaskTimeout time.Duration
}

// AttributeUpdate is the payload of EventAttributeUpdated.
type AttributeUpdate struct {
	IEEE        string      `json:"ieee"`
	Endpoint    uint8       `json:"endpoint"`
	Cluster     uint16      `json:"cluster"`
	ClusterName string      `json:"cluster_name"`
	Attribute   string      `json:"attribute"`
	Value       interface{} `json:"value"`
}

// DataPointError is the payload of EventDataPointError.
type DataPointError struct {
	IEEE   string `json:"ieee"`
	Source string `json:"source"`
	Error  string `json:"error"`
}

// DeviceChange is the payload of the device lifecycle events.
type DeviceChange struct {
	IEEE         string `json:"ieee"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	Quirk        string `json:"quirk,omitempty"`
}

// Host owns the quirked devices.
type Host struct {
	registry  *quirk.Registry
	store     store.Store
	events    *EventBus
	overrides ConstantsSource
	logger    *slog.Logger
	now       func() time.Time
	location  *time.Location
	timeout   time.Duration

	mu      sync.RWMutex
	devices map[string]*quirk.Device
	sender  quirk.Sender
}

// New creates a host. Registry and Store are required.
func New(opts Options) *Host {
	h := &Host{
		registry:  opts.Registry,
		store:     opts.Store,
		events:    opts.Events,
		overrides: opts.Overrides,
		logger:    opts.Logger,
		now:       opts.Now,
		location:  opts.Location,
		timeout:   opts.TaskTimeout,
		devices:   make(map[string]*quirk.Device),
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With("component", "host")
	if h.events == nil {
		h.events = NewEventBus(h.logger)
	}
	return h
}

// Events returns the host event bus.
func (h *Host) Events() *EventBus { return h.events }

// Registry returns the quirk registry.
func (h *Host) Registry() *quirk.Registry { return h.registry }

// SetSender attaches the transport outbound commands are handed to.
func (h *Host) SetSender(s quirk.Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sender = s
}

// Send implements quirk.Sender for the host's devices.
func (h *Host) Send(ctx context.Context, req quirk.CommandRequest) error {
	h.mu.RLock()
	s := h.sender
	h.mu.RUnlock()
	if s == nil {
		return ErrNoTransport
	}
	if err := s.Send(ctx, req); err != nil {
		return fmt.Errorf("send to %s: %w", req.IEEEAddress, err)
	}
	h.events.Emit(Event{Type: EventCommandSent, Data: req})
	return nil
}

// Pair records an interviewed device and applies the first matching quirk.
// A device without a quirk is still recorded; the returned error then wraps
// quirk.ErrNoMatch.
func (h *Host) Pair(info quirk.DeviceInfo) (*quirk.Device, error) {
	if info.IEEEAddress == "" {
		return nil, errors.New("pair: empty ieee address")
	}
	rec := store.FromInfo(info)
	now := time.Now()
	rec.PairedAt = now
	rec.LastSeen = now
	if prev, err := h.store.GetDevice(info.IEEEAddress); err == nil {
		rec.FriendlyName = prev.FriendlyName
		rec.PairedAt = prev.PairedAt
	}
	if rec.FriendlyName == "" {
		if n, ok := h.overrides.(DefaultNamer); ok {
			rec.FriendlyName = n.DefaultName(info.Manufacturer, info.Model)
		}
	}

	q, matchErr := h.registry.Match(info)
	if matchErr == nil {
		rec.Quirk = q.Name
	}
	if err := h.store.SaveDevice(rec); err != nil {
		return nil, fmt.Errorf("save device %s: %w", info.IEEEAddress, err)
	}
	if matchErr != nil {
		h.detach(info.IEEEAddress)
		h.logger.Info("device has no quirk", "ieee", info.IEEEAddress,
			"manufacturer", info.Manufacturer, "model", info.Model)
		h.events.Emit(Event{Type: EventDeviceUnmatched, Data: DeviceChange{
			IEEE: info.IEEEAddress, Manufacturer: info.Manufacturer, Model: info.Model,
		}})
		return nil, matchErr
	}
	return h.attach(q, info)
}

// Restore re-applies quirks to every device in the store. Returns the
// number of quirked devices.
func (h *Host) Restore() (int, error) {
	recs, err := h.store.ListDevices()
	if err != nil {
		return 0, fmt.Errorf("list devices: %w", err)
	}
	n := 0
	for _, rec := range recs {
		info := rec.Info()
		q, err := h.registry.Match(info)
		if err != nil {
			h.logger.Debug("stored device has no quirk", "ieee", rec.IEEEAddress, "model", rec.Model)
			continue
		}
		if rec.Quirk != "" && rec.Quirk != q.Name {
			h.logger.Warn("device now matches a different quirk",
				"ieee", rec.IEEEAddress, "was", rec.Quirk, "now", q.Name)
		}
		if _, err := h.attach(q, info); err != nil {
			h.logger.Error("restore device", "ieee", rec.IEEEAddress, "err", err)
			continue
		}
		n++
	}
	h.logger.Info("devices restored", "stored", len(recs), "quirked", n)
	return n, nil
}

func (h *Host) attach(q *quirk.Quirk, info quirk.DeviceInfo) (*quirk.Device, error) {
	var constants quirk.Constants
	if h.overrides != nil {
		constants = h.overrides.Constants(info.Manufacturer, info.Model)
	}
	dev, err := h.registry.Apply(q, info, quirk.DeviceOptions{
		Sender:      h,
		Listener:    h,
		Logger:      h.logger,
		Constants:   constants,
		TaskTimeout: h.timeout,
		Now:         h.now,
		Location:    h.location,
	})
	if err != nil {
		return nil, fmt.Errorf("apply %s to %s: %w", q.Name, info.IEEEAddress, err)
	}

	h.mu.Lock()
	old := h.devices[info.IEEEAddress]
	h.devices[info.IEEEAddress] = dev
	h.mu.Unlock()
	if old != nil {
		old.Close()
	}

	h.logger.Info("quirk applied", "ieee", info.IEEEAddress, "quirk", q.Name,
		"manufacturer", info.Manufacturer, "model", info.Model)
	h.events.Emit(Event{Type: EventDeviceMatched, Data: DeviceChange{
		IEEE: info.IEEEAddress, Manufacturer: info.Manufacturer, Model: info.Model, Quirk: q.Name,
	}})
	return dev, nil
}

func (h *Host) detach(ieee string) *quirk.Device {
	h.mu.Lock()
	dev := h.devices[ieee]
	delete(h.devices, ieee)
	h.mu.Unlock()
	if dev != nil {
		dev.Close()
	}
	return dev
}

// Remove forgets a device.
func (h *Host) Remove(ieee string) error {
	dev := h.detach(ieee)
	if err := h.store.DeleteDevice(ieee); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("delete device %s: %w", ieee, err)
		}
		if dev == nil {
			return fmt.Errorf("%s: %w", ieee, ErrUnknownDevice)
		}
	}
	h.logger.Info("device removed", "ieee", ieee)
	h.events.Emit(Event{Type: EventDeviceRemoved, Data: DeviceChange{IEEE: ieee}})
	return nil
}

// Rename sets the friendly name used for state topics and display.
func (h *Host) Rename(ieee, name string) error {
	err := h.store.UpdateDevice(ieee, func(d *store.Device) error {
		d.FriendlyName = name
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", ieee, ErrUnknownDevice)
	}
	return err
}

// Device returns the quirked device with the given address.
func (h *Host) Device(ieee string) (*quirk.Device, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	dev, ok := h.devices[ieee]
	return dev, ok
}

// HandleFrame delivers a cluster-specific command to the device's cluster.
func (h *Host) HandleFrame(ctx context.Context, ieee string, f Frame) (zcl.Status, error) {
	dev, ok := h.Device(ieee)
	if !ok {
		if _, err := h.store.GetDevice(ieee); err == nil {
			return zcl.StatusFailure, fmt.Errorf("%s: %w", ieee, ErrUnmatched)
		}
		return zcl.StatusFailure, fmt.Errorf("%s: %w", ieee, ErrUnknownDevice)
	}
	ep := dev.Endpoint(f.Endpoint)
	if ep == nil {
		return zcl.StatusNotFound, fmt.Errorf("%s endpoint %d: %w", ieee, f.Endpoint, ErrNoCluster)
	}
	c := ep.Cluster(f.ClusterID)
	if c == nil {
		return zcl.StatusUnsupClusterCmd, fmt.Errorf("%s endpoint %d cluster 0x%04X: %w", ieee, f.Endpoint, f.ClusterID, ErrNoCluster)
	}
	handler, ok := c.(quirk.CommandHandler)
	if !ok {
		return zcl.StatusUnsupClusterCmd, nil
	}

	status := handler.HandleClusterRequest(ctx, quirk.Request{
		TSN:       f.TSN,
		CommandID: f.CommandID,
		Payload:   f.Payload,
	})
	h.logger.Debug("frame handled", "ieee", ieee, "endpoint", f.Endpoint,
		"cluster", fmt.Sprintf("0x%04X", f.ClusterID), "command", fmt.Sprintf("0x%02X", f.CommandID),
		"status", status)

	if err := h.store.UpdateDevice(ieee, func(d *store.Device) error {
		d.LastSeen = time.Now()
		return nil
	}); err != nil {
		h.logger.Warn("update last seen", "ieee", ieee, "err", err)
	}
	return status, nil
}

// WriteAttribute writes a user-supplied value through the cluster's write
// path.
func (h *Host) WriteAttribute(ctx context.Context, ieee string, endpoint uint8, cluster uint16, attr string, value interface{}) error {
	dev, ok := h.Device(ieee)
	if !ok {
		return fmt.Errorf("%s: %w", ieee, ErrUnknownDevice)
	}
	ep := dev.Endpoint(endpoint)
	if ep == nil {
		return fmt.Errorf("%s endpoint %d: %w", ieee, endpoint, ErrNoCluster)
	}
	c := ep.Cluster(cluster)
	if c == nil {
		return fmt.Errorf("%s endpoint %d cluster 0x%04X: %w", ieee, endpoint, cluster, ErrNoCluster)
	}
	w, ok := c.(quirk.AttributeWriter)
	if !ok {
		return fmt.Errorf("%s.%s: %w", c.Def().Name, attr, quirk.ErrReadOnly)
	}
	return w.WriteAttribute(ctx, attr, value)
}

// ClusterState is a cluster and its current attribute values.
type ClusterState struct {
	ID         uint16                 `json:"id"`
	Name       string                 `json:"name"`
	Local      bool                   `json:"local"`
	Attributes map[string]interface{} `json:"attributes"`
}

// EndpointState is one endpoint of a quirked device.
type EndpointState struct {
	ID          uint8          `json:"id"`
	ProfileID   uint16         `json:"profile_id"`
	DeviceType  uint16         `json:"device_type"`
	InClusters  []ClusterState `json:"in_clusters"`
	OutClusters []uint16       `json:"out_clusters"`
}

// DeviceState is a paired device with the live state of its quirk.
type DeviceState struct {
	*store.Device
	Matched   bool            `json:"matched"`
	Endpoints []EndpointState `json:"replaced_endpoints,omitempty"`
}

// State returns the record and live state of one device.
func (h *Host) State(ieee string) (*DeviceState, error) {
	rec, err := h.store.GetDevice(ieee)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", ieee, ErrUnknownDevice)
		}
		return nil, err
	}
	return h.state(rec), nil
}

// States returns every paired device ordered by IEEE address.
func (h *Host) States() ([]*DeviceState, error) {
	recs, err := h.store.ListDevices()
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].IEEEAddress < recs[j].IEEEAddress })
	out := make([]*DeviceState, 0, len(recs))
	for _, rec := range recs {
		out = append(out, h.state(rec))
	}
	return out, nil
}

func (h *Host) state(rec *store.Device) *DeviceState {
	st := &DeviceState{Device: rec}
	dev, ok := h.Device(rec.IEEEAddress)
	if !ok {
		return st
	}
	st.Matched = true
	for _, ep := range dev.Endpoints() {
		es := EndpointState{
			ID:          ep.ID,
			ProfileID:   ep.ProfileID,
			DeviceType:  ep.DeviceType,
			OutClusters: ep.OutClusters(),
		}
		for _, c := range ep.InClusters() {
			es.InClusters = append(es.InClusters, ClusterState{
				ID:         c.ID(),
				Name:       c.Def().Name,
				Local:      c.IsLocal(),
				Attributes: c.Snapshot(),
			})
		}
		st.Endpoints = append(st.Endpoints, es)
	}
	return st
}

// AttributeUpdated implements quirk.Listener.
func (h *Host) AttributeUpdated(dev *quirk.Device, endpoint uint8, cluster uint16, attr string, value interface{}) {
	name := fmt.Sprintf("0x%04X", cluster)
	if ep := dev.Endpoint(endpoint); ep != nil {
		if c := ep.Cluster(cluster); c != nil {
			name = c.Def().Name
		}
	}
	h.events.Emit(Event{Type: EventAttributeUpdated, Data: AttributeUpdate{
		IEEE:        dev.IEEE(),
		Endpoint:    endpoint,
		Cluster:     cluster,
		ClusterName: name,
		Attribute:   attr,
		Value:       value,
	}})
}

// UpdateFailed implements quirk.Listener.
func (h *Host) UpdateFailed(dev *quirk.Device, source string, err error) {
	h.events.Emit(Event{Type: EventDataPointError, Data: DataPointError{
		IEEE:   dev.IEEE(),
		Source: source,
		Error:  err.Error(),
	}})
}

// Close stops every device's background tasks.
func (h *Host) Close() {
	h.mu.Lock()
	devs := make([]*quirk.Device, 0, len(h.devices))
	for _, d := range h.devices {
		devs = append(devs, d)
	}
	h.devices = make(map[string]*quirk.Device)
	h.mu.Unlock()
	for _, d := range devs {
		d.Close()
	}
}
