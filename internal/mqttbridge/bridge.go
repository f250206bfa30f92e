package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/dtvplus/internal/devices"
	"github.com/muurk/dtvplus/internal/logging"
)

// commandTimeout bounds a capability write received over MQTT
const commandTimeout = 15 * time.Second

// Devices is the device surface the bridge drives. *devices.Manager
// implements it.
type Devices interface {
	List() []devices.Device
	Set(ctx context.Context, id, capability string, value any) error
	OnChange(fn func(devices.Device))
}

// SetRequest is the payload accepted on <prefix>/<device-id>/set
type SetRequest struct {
	Capability string `json:"capability"`
	Value      any    `json:"value"`
}

// ErrorEvent is published on <prefix>/<device-id>/error when a write fails
type ErrorEvent struct {
	Capability string `json:"capability"`
	Error      string `json:"error"`
}

// StatusTopic is where the bridge announces "online" and "offline"
func StatusTopic(prefix string) string {
	return prefix + "/bridge/status"
}

// StateTopic carries the retained state of a device
func StateTopic(prefix, id string) string {
	return prefix + "/" + id + "/state"
}

// SetTopic accepts capability writes for a device
func SetTopic(prefix, id string) string {
	return prefix + "/" + id + "/set"
}

// ErrorTopic reports failed writes for a device
func ErrorTopic(prefix, id string) string {
	return prefix + "/" + id + "/error"
}

// outgoing is a message waiting for the publisher goroutine
type outgoing struct {
	payload []byte
	retain  bool
}

// Bridge mirrors device state to MQTT and applies writes received from it.
//
// Neither the paho message handlers nor the device change listeners may
// block: state changes fire while the hub delivers a snapshot. Publishes are
// therefore queued per topic, newest payload wins, and sent by a single
// publisher goroutine; writes run on their own goroutines.
type Bridge struct {
	api     ClientAPI
	prefix  string
	devices Devices
	ctx     context.Context

	mu      sync.Mutex
	pending map[string]outgoing
	order   []string
	wake    chan struct{}

	writes sync.WaitGroup
}

// New creates a bridge publishing under prefix
func New(api ClientAPI, prefix string, devs Devices) *Bridge {
	return &Bridge{
		api:     api,
		prefix:  strings.TrimSuffix(prefix, "/"),
		devices: devs,
		ctx:     context.Background(),
		pending: make(map[string]outgoing),
		wake:    make(chan struct{}, 1),
	}
}

// Start subscribes to set topics, queues every device's current state and
// keeps publishing on change until ctx is done. Writes in flight are
// canceled with ctx.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx = ctx
	go b.publishLoop(ctx)

	if err := b.api.Subscribe(SetTopic(b.prefix, "+"), b.handleSet); err != nil {
		return err
	}

	b.devices.OnChange(b.PublishState)
	for _, d := range b.devices.List() {
		b.PublishState(d)
	}
	return nil
}

// PublishState queues a device's state as a retained message. It never
// blocks on the broker.
func (b *Bridge) PublishState(d devices.Device) {
	payload, err := json.Marshal(devices.Describe(d))
	if err != nil {
		logging.Error("Failed to encode device state", zap.String("device", d.ID()), zap.Error(err))
		return
	}
	b.enqueue(StateTopic(b.prefix, d.ID()), payload, true)
}

func (b *Bridge) enqueue(topic string, payload []byte, retain bool) {
	b.mu.Lock()
	if _, queued := b.pending[topic]; !queued {
		b.order = append(b.order, topic)
	}
	b.pending[topic] = outgoing{payload: payload, retain: retain}
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
			b.flush()
		}
	}
}

// flush publishes everything queued so far in first-queued order
func (b *Bridge) flush() {
	b.mu.Lock()
	pending, order := b.pending, b.order
	b.pending = make(map[string]outgoing)
	b.order = nil
	b.mu.Unlock()

	for _, topic := range order {
		msg := pending[topic]
		if err := b.api.Publish(topic, msg.payload, msg.retain); err != nil {
			logging.Warn("Failed to publish MQTT message", zap.String("topic", topic), zap.Error(err))
		}
	}
}

func (b *Bridge) handleSet(topic string, payload []byte) {
	id, ok := b.deviceID(topic)
	if !ok {
		logging.Debug("Ignoring MQTT message on unexpected topic", zap.String("topic", topic))
		return
	}

	var req SetRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.Capability == "" {
		if err == nil {
			err = errors.New("capability is required")
		}
		b.publishError(id, req.Capability, fmt.Errorf("invalid set payload: %w", err))
		return
	}

	b.writes.Add(1)
	go func() {
		defer b.writes.Done()
		b.apply(id, req)
	}()
}

// apply performs one write; it runs off the paho router goroutine
func (b *Bridge) apply(id string, req SetRequest) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := b.devices.Set(ctx, id, req.Capability, req.Value); err != nil {
		b.publishError(id, req.Capability, err)
		return
	}
	logging.Debug("MQTT write applied",
		zap.String("device", id),
		zap.String("capability", req.Capability),
	)
}

// deviceID extracts the device ID from <prefix>/<id>/set
func (b *Bridge) deviceID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/set")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func (b *Bridge) publishError(id, capability string, err error) {
	logging.Warn("MQTT write failed",
		zap.String("device", id),
		zap.String("capability", capability),
		zap.Error(err),
	)
	payload, _ := json.Marshal(ErrorEvent{Capability: capability, Error: err.Error()})
	b.enqueue(ErrorTopic(b.prefix, id), payload, false)
}
