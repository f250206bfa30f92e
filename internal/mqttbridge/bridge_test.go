package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/muurk/dtvplus/internal/config"
	"github.com/muurk/dtvplus/internal/devices"
	"github.com/muurk/dtvplus/internal/dtvclient"
	"github.com/muurk/dtvplus/internal/hub"
)

type published struct {
	topic   string
	payload []byte
	retain  bool
}

// fakeAPI records publishes and lets tests deliver messages to handlers
type fakeAPI struct {
	mu        sync.Mutex
	handlers  map[string]MessageHandler
	published []published
	delay     time.Duration
}

func (f *fakeAPI) Subscribe(topic string, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = map[string]MessageHandler{}
	}
	f.handlers[topic] = handler
	return nil
}

func (f *fakeAPI) Publish(topic string, payload []byte, retain bool) error {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, payload, retain})
	return nil
}

func (f *fakeAPI) deliver(filter, topic string, payload []byte) {
	f.mu.Lock()
	handler := f.handlers[filter]
	f.mu.Unlock()
	handler(topic, payload)
}

func (f *fakeAPI) Published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

// waitPublished waits until at least n messages went out
func (f *fakeAPI) waitPublished(t *testing.T, n int) []published {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pubs := f.Published(); len(pubs) >= n {
			return pubs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d published messages, got %d", n, len(f.Published()))
	return nil
}

type setCall struct {
	id, capability string
	value          any
}

// fakeDevices serves fixed devices and records writes
type fakeDevices struct {
	list     []devices.Device
	setErr   error
	delay    time.Duration
	onChange func(devices.Device)

	mu    sync.Mutex
	calls []setCall
}

func (f *fakeDevices) List() []devices.Device { return f.list }

func (f *fakeDevices) Set(_ context.Context, id, capability string, value any) error {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, setCall{id, capability, value})
	return f.setErr
}

func (f *fakeDevices) Calls() []setCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]setCall(nil), f.calls...)
}

func (f *fakeDevices) OnChange(fn func(devices.Device)) { f.onChange = fn }

// idleBus never sends commands; the bridge tests only publish state
type idleBus struct{}

func (idleBus) Client(string) hub.Controller { return nil }
func (idleBus) RequestExtraPoll(string)      {}

func newAmplifier(t *testing.T, id string) devices.Device {
	t.Helper()
	d, err := devices.New(id, &config.Device{Name: "Amp", Kind: config.KindAmplifier, Address: "10.0.0.5"}, idleBus{}, nil)
	if err != nil {
		t.Fatalf("devices.New() error = %v", err)
	}
	return d
}

func TestStartPublishesRetainedState(t *testing.T) {
	api := &fakeAPI{}
	devs := &fakeDevices{list: []devices.Device{newAmplifier(t, "amp")}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(api, "home/dtv/", devs)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, ok := api.handlers["home/dtv/+/set"]; !ok {
		t.Errorf("set topic not subscribed: %v", api.handlers)
	}

	pubs := api.waitPublished(t, 1)
	if len(pubs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pubs))
	}
	if pubs[0].topic != "home/dtv/amp/state" || !pubs[0].retain {
		t.Errorf("published %+v", pubs[0])
	}

	var view devices.View
	if err := json.Unmarshal(pubs[0].payload, &view); err != nil {
		t.Fatalf("state payload: %v", err)
	}
	if view.ID != "amp" || view.Kind != config.KindAmplifier || view.State[devices.CapVolume] != float64(50) {
		t.Errorf("view = %+v", view)
	}

	if devs.onChange == nil {
		t.Fatal("Start() should register for changes")
	}
	devs.onChange(devs.list[0])
	api.waitPublished(t, 2)
}

func TestHandleSet(t *testing.T) {
	api := &fakeAPI{}
	devs := &fakeDevices{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(api, "dtvplus", devs)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	api.deliver("dtvplus/+/set", "dtvplus/shower/set", []byte(`{"capability":"onoff","value":true}`))
	b.writes.Wait()

	calls := devs.Calls()
	if len(calls) != 1 {
		t.Fatalf("Set calls = %d, want 1", len(calls))
	}
	if c := calls[0]; c.id != "shower" || c.capability != "onoff" || c.value != true {
		t.Errorf("Set call = %+v", c)
	}
	if got := len(api.Published()); got != 0 {
		t.Errorf("successful write published %d messages", got)
	}
}

func TestHandleSetErrors(t *testing.T) {
	tests := []struct {
		name    string
		setErr  error
		payload string
		calls   int
	}{
		{"bad json", nil, `{`, 0},
		{"missing capability", nil, `{"value":1}`, 0},
		{"rejected", dtvclient.NewCommandRejectedError("10.0.0.5", "/music_on.cgi", "empty response", nil), `{"capability":"volume","value":30}`, 1},
		{"unknown device", errors.New("device not found"), `{"capability":"onoff","value":false}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{}
			devs := &fakeDevices{setErr: tt.setErr}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			b := New(api, "dtvplus", devs)
			_ = b.Start(ctx)

			api.deliver("dtvplus/+/set", "dtvplus/amp/set", []byte(tt.payload))
			b.writes.Wait()

			if got := len(devs.Calls()); got != tt.calls {
				t.Errorf("Set calls = %d, want %d", got, tt.calls)
			}
			pubs := api.waitPublished(t, 1)
			if len(pubs) != 1 || pubs[0].topic != "dtvplus/amp/error" || pubs[0].retain {
				t.Fatalf("published %+v, want one non-retained error event", pubs)
			}
			var ev ErrorEvent
			if err := json.Unmarshal(pubs[0].payload, &ev); err != nil || ev.Error == "" {
				t.Errorf("error event = %s (%v)", pubs[0].payload, err)
			}
		})
	}
}

func TestHandlersDoNotBlockOnSlowWritesOrBroker(t *testing.T) {
	api := &fakeAPI{delay: 300 * time.Millisecond}
	devs := &fakeDevices{list: []devices.Device{newAmplifier(t, "amp")}, delay: 300 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(api, "dtvplus", devs)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	start := time.Now()
	api.deliver("dtvplus/+/set", "dtvplus/amp/set", []byte(`{"capability":"onoff","value":true}`))
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("set handler returned after %v, want it to hand the write off", elapsed)
	}

	start = time.Now()
	for i := 0; i < 10; i++ {
		devs.onChange(devs.list[0])
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("change listener returned after %v, want it to queue", elapsed)
	}

	b.writes.Wait()
	if got := len(devs.Calls()); got != 1 {
		t.Errorf("Set calls = %d, want 1", got)
	}

	// The initial publish plus the coalesced changes: repeated states for one
	// topic collapse to the newest payload.
	api.waitPublished(t, 2)
	time.Sleep(400 * time.Millisecond)
	if got := len(api.Published()); got > 3 {
		t.Errorf("published %d messages for 11 state changes, want them coalesced", got)
	}
}

func TestDeviceID(t *testing.T) {
	b := New(&fakeAPI{}, "dtvplus", &fakeDevices{})

	tests := []struct {
		topic string
		want  string
		ok    bool
	}{
		{"dtvplus/amp/set", "amp", true},
		{"dtvplus/a/b/set", "", false},
		{"dtvplus//set", "", false},
		{"other/amp/set", "", false},
		{"dtvplus/amp/state", "", false},
	}
	for _, tt := range tests {
		id, ok := b.deviceID(tt.topic)
		if id != tt.want || ok != tt.ok {
			t.Errorf("deviceID(%q) = %q, %v; want %q, %v", tt.topic, id, ok, tt.want, tt.ok)
		}
	}
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"broker.local", "tcp://broker.local:1883", false},
		{"broker.local:1884", "tcp://broker.local:1884", false},
		{"mqtt://broker.local", "tcp://broker.local:1883", false},
		{"tls://broker.local", "ssl://broker.local:8883", false},
		{"ws://broker.local:9001/mqtt", "ws://broker.local:9001/mqtt", false},
		{"", "", true},
		{"http://broker.local", "", true},
	}

	for _, tt := range tests {
		got, err := brokerURL(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("brokerURL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("brokerURL(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
