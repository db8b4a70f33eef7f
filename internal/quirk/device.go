package quirk

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"zigbee-quirks/internal/zcl"
)

// ErrDeviceClosed is returned when a command is issued on a closed device.
var ErrDeviceClosed = errors.New("device closed")

// CommandRequest is an outbound cluster command handed to the host transport.
type CommandRequest struct {
	IEEEAddress  string `json:"ieee_address"`
	ShortAddress uint16 `json:"short_address"`
	Endpoint     uint8  `json:"endpoint"`
	ClusterID    uint16 `json:"cluster"`
	CommandID    uint8  `json:"command"`
	Payload      []byte `json:"payload"`
	ExpectReply  bool   `json:"expect_reply"`
}

// Sender delivers outbound commands to the device. Implemented by the host.
type Sender interface {
	Send(ctx context.Context, req CommandRequest) error
}

// Listener receives attribute updates and failures from quirked devices.
type Listener interface {
	AttributeUpdated(dev *Device, endpoint uint8, cluster uint16, attr string, value interface{})
	UpdateFailed(dev *Device, source string, err error)
}

// Constants are device-level tunables a quirk's clusters consult, such as a
// humidity multiplier or the epoch year of the device clock.
type Constants map[string]interface{}

// Int returns an integer constant.
func (c Constants) Int(name string) (int64, bool) {
	v, ok := c[name]
	if !ok {
		return 0, false
	}
	return zcl.ToInt64(v)
}

// Merge returns a new set with other's entries taking precedence.
func (c Constants) Merge(other Constants) Constants {
	out := make(Constants, len(c)+len(other))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// DeviceOptions carries the host services a quirked device needs.
type DeviceOptions struct {
	Sender    Sender
	Listener  Listener
	Logger    *slog.Logger
	Constants Constants
	// TaskTimeout bounds fire-and-forget tasks. Zero means 10s.
	TaskTimeout time.Duration
	// Now and Location drive the device clock. Defaults: time.Now, time.Local.
	Now      func() time.Time
	Location *time.Location
}

// Device is a paired device with a quirk applied.
type Device struct {
	info      DeviceInfo
	quirk     *Quirk
	endpoints map[uint8]*Endpoint
	constants Constants
	sender    Sender
	listener  Listener
	logger    *slog.Logger
	now       func() time.Time
	location  *time.Location

	taskTimeout time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
	closed      bool
	wg          sync.WaitGroup
}

func newDevice(info DeviceInfo, q *Quirk, opts DeviceOptions) *Device {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Device{
		info:        info,
		quirk:       q,
		endpoints:   make(map[uint8]*Endpoint),
		sender:      opts.Sender,
		listener:    opts.Listener,
		logger:      opts.Logger,
		now:         opts.Now,
		location:    opts.Location,
		taskTimeout: opts.TaskTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
	if q != nil {
		d.constants = q.Constants.Merge(opts.Constants)
	} else {
		d.constants = Constants{}.Merge(opts.Constants)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("ieee", info.IEEEAddress)
	if d.now == nil {
		d.now = time.Now
	}
	if d.location == nil {
		d.location = time.Local
	}
	if d.taskTimeout == 0 {
		d.taskTimeout = 10 * time.Second
	}
	return d
}

func (d *Device) IEEE() string { return d.info.IEEEAddress }
func (d *Device) Info() DeviceInfo { return d.info }
func (d *Device) Quirk() *Quirk { return d.quirk }
func (d *Device) Logger() *slog.Logger { return d.logger }
func (d *Device) Now() time.Time { return d.now() }
func (d *Device) Location() *time.Location { return d.location }

// Constant returns a device-level constant.
func (d *Device) Constant(name string) (interface{}, bool) {
	v, ok := d.constants[name]
	return v, ok
}

// IntConstant returns an integer device-level constant.
func (d *Device) IntConstant(name string) (int64, bool) {
	return d.constants.Int(name)
}

// Endpoint returns the endpoint with the given ID, or nil.
func (d *Device) Endpoint(id uint8) *Endpoint {
	return d.endpoints[id]
}

// Endpoints returns the device endpoints ordered by ID.
func (d *Device) Endpoints() []*Endpoint {
	out := make([]*Endpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		out = append(out, ep)
	}
	slices.SortFunc(out, func(a, b *Endpoint) int { return int(a.ID) - int(b.ID) })
	return out
}

// Command sends a cluster command to the device and waits for the transport
// to accept it.
func (d *Device) Command(ctx context.Context, req CommandRequest) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrDeviceClosed
	}
	if d.sender == nil {
		return errors.New("no sender configured")
	}
	req.IEEEAddress = d.info.IEEEAddress
	req.ShortAddress = d.info.ShortAddress
	return d.sender.Send(ctx, req)
}

// CreateCatchingTask runs fn in the background. Its error or panic is logged
// and never reaches the caller.
func (d *Device) CreateCatchingTask(name string, fn func(ctx context.Context) error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Debug("task dropped, device closed", "task", name)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("task panic", "task", name, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(d.ctx, d.taskTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.logger.Warn("task failed", "task", name, "err", err)
		}
	}()
}

// Flush waits until every background task has finished.
func (d *Device) Flush() {
	d.wg.Wait()
}

// Close cancels outstanding tasks and waits for them to return.
func (d *Device) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

// ReportFailure tells the host that an inbound value could not be applied.
func (d *Device) ReportFailure(source string, err error) {
	d.logger.Warn("update not applied", "source", source, "err", err)
	if d.listener != nil {
		d.listener.UpdateFailed(d, source, err)
	}
}

func (d *Device) attributeUpdated(ep uint8, cluster uint16, attr string, value interface{}) {
	d.logger.Debug("attribute updated", "endpoint", ep, "cluster", cluster, "attr", attr, "value", value)
	if d.listener != nil {
		d.listener.AttributeUpdated(d, ep, cluster, attr, value)
	}
}

// Endpoint is an endpoint of a quirked device.
type Endpoint struct {
	ID         uint8
	ProfileID  uint16
	DeviceType uint16

	device *Device
	in     map[uint16]Cluster
	order  []uint16
	out    []uint16
}

// NewEndpoint creates a detached endpoint for building clusters outside a
// registry, mostly in tests.
func NewEndpoint(dev *Device, id uint8) *Endpoint {
	ep := &Endpoint{ID: id, device: dev, in: make(map[uint16]Cluster)}
	if dev != nil {
		dev.endpoints[id] = ep
	}
	return ep
}

// Device returns the owning device.
func (e *Endpoint) Device() *Device { return e.device }

// Cluster returns the input cluster with the given ID, or nil.
func (e *Endpoint) Cluster(id uint16) Cluster { return e.in[id] }

// AddCluster attaches an input cluster, replacing any with the same ID.
func (e *Endpoint) AddCluster(c Cluster) {
	if _, ok := e.in[c.ID()]; !ok {
		e.order = append(e.order, c.ID())
	}
	e.in[c.ID()] = c
}

// InClusters returns the input clusters in declaration order.
func (e *Endpoint) InClusters() []Cluster {
	out := make([]Cluster, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.in[id])
	}
	return out
}

// OutClusters returns the output cluster IDs.
func (e *Endpoint) OutClusters() []uint16 { return slices.Clone(e.out) }

// NewDevice builds a device without a quirk. Clusters are attached through
// NewEndpoint and Endpoint.AddCluster.
func NewDevice(info DeviceInfo, opts DeviceOptions) *Device {
	return newDevice(info, nil, opts)
}
