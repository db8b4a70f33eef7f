//go:build !no_mqtt

// Package mqtt bridges the quirk host to a Zigbee coordinator over MQTT and
// publishes device state with Home Assistant discovery.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"zigbee-quirks/internal/host"
	"zigbee-quirks/internal/quirk"
	"zigbee-quirks/internal/zcl"
	"zigbee-quirks/internal/zcl/clusters"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	TopicPrefix     string
	DiscoveryPrefix string
}

// Client is the part of an MQTT client the bridge needs.
type Client interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Disconnect()
}

const (
	frameTimeout   = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Bridge connects the quirk host to the coordinator over MQTT.
type Bridge struct {
	client          Client
	host            *host.Host
	prefix          string
	discoveryPrefix string
	logger          *slog.Logger
	unsub           func()

	// Per-device state accumulator and published discovery topics.
	mu         sync.Mutex
	states     map[string]map[string]any
	discovered map[string][]string
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(h *host.Host, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(nil, h, cfg, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "quirkd"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID + "-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.prefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = &pahoClient{client: client}
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, errors.New("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func newBridge(client Client, h *host.Host, cfg Config, logger *slog.Logger) *Bridge {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "zigbee-quirks"
	}
	discoveryPrefix := cfg.DiscoveryPrefix
	if discoveryPrefix == "" {
		discoveryPrefix = "homeassistant"
	}
	return &Bridge{
		client:          client,
		host:            h,
		prefix:          prefix,
		discoveryPrefix: discoveryPrefix,
		logger:          logger.With("component", "mqtt"),
		states:          make(map[string]map[string]any),
		discovered:      make(map[string][]string),
	}
}

// Start subscribes to host events and becomes the host's transport.
func (b *Bridge) Start() {
	b.unsub = b.host.Events().OnAll(b.handleEvent)
	b.host.SetSender(b)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, detaches from the host and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.host.SetSender(nil)
	b.publish(b.prefix+"/bridge/state", []byte("offline"), true)
	b.client.Disconnect()
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) onConnect() {
	b.publish(b.prefix+"/bridge/state", []byte("online"), true)
	b.subscribe(b.prefix+"/bridge/interview", func(_ string, payload []byte) {
		b.handleInterview(payload)
	})
	b.subscribe(b.prefix+"/bridge/leave", func(_ string, payload []byte) {
		b.handleLeave(payload)
	})
	b.subscribe(b.prefix+"/frames/+", func(topic string, payload []byte) {
		b.handleFrame(strings.TrimPrefix(topic, b.prefix+"/frames/"), payload)
	})
	b.publishAllDiscovery()
}

func (b *Bridge) subscribe(topic string, handler func(string, []byte)) {
	if err := b.client.Subscribe(topic, handler); err != nil {
		b.logger.Error("MQTT subscribe", "topic", topic, "err", err)
	}
}

func (b *Bridge) handleInterview(payload []byte) {
	var info quirk.DeviceInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		b.logger.Warn("invalid interview JSON", "err", err)
		return
	}
	if _, err := b.host.Pair(info); err != nil && !errors.Is(err, quirk.ErrNoMatch) {
		b.logger.Warn("pair failed", "ieee", info.IEEEAddress, "err", err)
	}
}

func (b *Bridge) handleLeave(payload []byte) {
	var req struct {
		IEEEAddress string `json:"ieee_address"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.IEEEAddress == "" {
		b.logger.Warn("invalid leave request", "payload", string(payload), "err", err)
		return
	}
	if err := b.host.Remove(req.IEEEAddress); err != nil {
		b.logger.Warn("remove failed", "ieee", req.IEEEAddress, "err", err)
	}
}

func (b *Bridge) handleFrame(ieee string, payload []byte) {
	var f host.Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		b.logger.Warn("invalid frame JSON", "ieee", ieee, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	status, err := b.host.HandleFrame(ctx, ieee, f)
	if err != nil {
		b.logger.Warn("frame not handled", "ieee", ieee, "err", err)
		return
	}
	if status != zcl.StatusSuccess {
		b.logger.Debug("frame rejected", "ieee", ieee, "command", f.CommandID, "status", status)
	}
}

// outboundCommand is the JSON published for the coordinator to transmit.
type outboundCommand struct {
	ID           string        `json:"id"`
	IEEEAddress  string        `json:"ieee_address"`
	ShortAddress uint16        `json:"short_address"`
	Endpoint     uint8         `json:"endpoint"`
	ClusterID    uint16        `json:"cluster"`
	CommandID    uint8         `json:"command"`
	Payload      host.HexBytes `json:"payload"`
	ExpectReply  bool          `json:"expect_reply"`
}

// Send implements quirk.Sender by publishing the command on
// <prefix>/frames/<ieee>/send.
func (b *Bridge) Send(ctx context.Context, req quirk.CommandRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cmd := outboundCommand{
		ID:           uuid.NewString(),
		IEEEAddress:  req.IEEEAddress,
		ShortAddress: req.ShortAddress,
		Endpoint:     req.Endpoint,
		ClusterID:    req.ClusterID,
		CommandID:    req.CommandID,
		Payload:      req.Payload,
		ExpectReply:  req.ExpectReply,
	}
	topic := b.prefix + "/frames/" + req.IEEEAddress + "/send"
	if err := b.client.Publish(topic, mustJSON(cmd), false); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	b.logger.Debug("command published", "ieee", req.IEEEAddress, "id", cmd.ID, "command", req.CommandID)
	return nil
}

func (b *Bridge) handleEvent(event host.Event) {
	switch data := event.Data.(type) {
	case host.AttributeUpdate:
		if prop, value, ok := stateProperty(data.Cluster, data.Attribute, data.Value); ok {
			b.updateAndPublishState(data.IEEE, prop, value)
		}
	case host.DeviceChange:
		switch event.Type {
		case host.EventDeviceMatched:
			b.publishDeviceDiscovery(data.IEEE)
		case host.EventDeviceRemoved, host.EventDeviceUnmatched:
			b.handleDeviceGone(data.IEEE)
		}
	}
}

func (b *Bridge) updateAndPublishState(ieee, prop string, value any) {
	st, err := b.host.State(ieee)
	if err != nil {
		b.logger.Debug("state for unknown device", "ieee", ieee, "err", err)
		return
	}

	b.mu.Lock()
	state, ok := b.states[ieee]
	if !ok {
		state = make(map[string]any)
		b.states[ieee] = state
	}
	state[prop] = value
	state["last_seen"] = st.LastSeen.Format(time.RFC3339)
	payload := mustJSON(state)
	b.mu.Unlock()

	b.publish(b.prefix+"/"+deviceTopicName(st.Device), payload, true)
}

func (b *Bridge) handleDeviceGone(ieee string) {
	b.mu.Lock()
	topics := b.discovered[ieee]
	delete(b.discovered, ieee)
	delete(b.states, ieee)
	b.mu.Unlock()

	for _, msg := range buildRemoveDiscovery(topics) {
		b.publish(msg.Topic, msg.Payload, true)
	}
}

func (b *Bridge) publishAllDiscovery() {
	states, err := b.host.States()
	if err != nil {
		b.logger.Error("list devices for discovery", "err", err)
		return
	}
	for _, st := range states {
		if st.Matched {
			b.publishDeviceDiscovery(st.IEEEAddress)
		}
	}
}

func (b *Bridge) publishDeviceDiscovery(ieee string) {
	st, err := b.host.State(ieee)
	if err != nil {
		return
	}
	dev, ok := b.host.Device(ieee)
	if !ok {
		return
	}
	msgs := buildDiscovery(st.Device, dev, b.prefix, b.discoveryPrefix)
	topics := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		b.publish(msg.Topic, msg.Payload, true)
		topics = append(topics, msg.Topic)
	}
	b.mu.Lock()
	b.discovered[ieee] = topics
	b.mu.Unlock()
	b.logger.Info("published HA discovery", "ieee", ieee, "name", deviceDisplayName(st.Device), "entities", len(msgs))
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if err := b.client.Publish(topic, payload, retained); err != nil {
		b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
	}
}

// stateProperty maps a cluster attribute to the state property it is
// published under, converting ZCL units to display units.
func stateProperty(clusterID uint16, attr string, value any) (string, any, bool) {
	switch clusterID {
	case clusters.TemperatureMeasurement.ID:
		if attr == "measured_value" {
			return scaled("temperature", value, 100)
		}
	case clusters.RelativeHumidity.ID:
		if attr == "measured_value" {
			return scaled("humidity", value, 100)
		}
	case clusters.PowerConfiguration.ID:
		if attr == "battery_percentage_remaining" {
			return scaled("battery", value, 2)
		}
	case clusters.TuyaMCU.ID:
		if _, ok := mcuSensors[attr]; ok {
			return attr, value, true
		}
	}
	return "", nil, false
}

func scaled(prop string, value any, divisor float64) (string, any, bool) {
	n, ok := zcl.ToInt64(value)
	if !ok {
		return "", nil, false
	}
	return prop, float64(n) / divisor, true
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// pahoClient adapts a paho client to Client.
type pahoClient struct {
	client pahomqtt.Client
}

func (c *pahoClient) Publish(topic string, payload []byte, retained bool) error {
	token := c.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("publish timeout")
	}
	return token.Error()
}

func (c *pahoClient) Subscribe(topic string, handler func(string, []byte)) error {
	token := c.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("subscribe timeout")
	}
	return token.Error()
}

func (c *pahoClient) Disconnect() {
	c.client.Disconnect(1000)
}
