package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muurk/dtvplus/internal/config"
	"github.com/muurk/dtvplus/internal/devices"
	"github.com/muurk/dtvplus/internal/dtvclient"
	"github.com/muurk/dtvplus/internal/hub"
	"github.com/muurk/dtvplus/internal/metrics"
)

// fakeController answers every exchange from memory and records commands
type fakeController struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeController) record(call, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[name]; err != nil {
		return err
	}
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeController) setFailure(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = make(map[string]error)
	}
	f.fail[name] = err
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) ReadSystemInfo(context.Context) (dtvclient.SystemInfo, error) {
	return dtvclient.SystemInfo{"valve1_Currentstatus": "Off", "degree_symbol": "°C"}, nil
}

func (f *fakeController) ReadValues(context.Context) (dtvclient.Values, error) {
	return dtvclient.Values{"MAC": "AA:BB:CC:DD:EE:FF"}, nil
}

func (f *fakeController) StartShower(_ context.Context, cmd dtvclient.ShowerCommand) (dtvclient.Ack, error) {
	return dtvclient.Ack{}, f.record("shower "+cmd.String(), "shower")
}

func (f *fakeController) StopShower(context.Context) (dtvclient.Ack, error) {
	return dtvclient.Ack{}, f.record("stop", "stop")
}

func (f *fakeController) StartPreset(_ context.Context, preset int) (dtvclient.Ack, error) {
	return dtvclient.Ack{}, f.record(fmt.Sprintf("preset %d", preset), "preset")
}

func (f *fakeController) SteamOn(_ context.Context, temp float64, minutes int) (dtvclient.Ack, error) {
	return dtvclient.Ack{}, f.record(fmt.Sprintf("steam on %g %d", temp, minutes), "steam on")
}

func (f *fakeController) SteamOff(context.Context) (dtvclient.Ack, error) {
	return dtvclient.Ack{}, f.record("steam off", "steam off")
}

func (f *fakeController) MusicOn(_ context.Context, volume int) (dtvclient.Ack, error) {
	return dtvclient.Ack{}, f.record(fmt.Sprintf("music on %d", volume), "music on")
}

func (f *fakeController) MusicOff(context.Context) (dtvclient.Ack, error) {
	return dtvclient.Ack{}, f.record("music off", "music off")
}

func (f *fakeController) LightOn(_ context.Context, zone, level int) (dtvclient.Ack, error) {
	return dtvclient.Ack{}, f.record(fmt.Sprintf("light on %d %d", zone, level), "light on")
}

func (f *fakeController) LightOff(_ context.Context, zone int) (dtvclient.Ack, error) {
	return dtvclient.Ack{}, f.record(fmt.Sprintf("light off %d", zone), "light off")
}

type testEnv struct {
	server     *Server
	http       *httptest.Server
	hub        *hub.Hub
	manager    *devices.Manager
	controller *fakeController
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ctl := &fakeController{}
	h := hub.New(hub.Options{
		StatusInterval: time.Hour,
		ConfigInterval: time.Hour,
		ExtraPollDelay: time.Hour,
		NewController:  func(string) hub.Controller { return ctl },
	})
	t.Cleanup(h.Close)

	m := devices.NewManager(h)
	t.Cleanup(m.Close)

	reg := config.NewRegistry()
	for id, d := range map[string]*config.Device{
		"amp":    {Name: "Amplifier", Kind: config.KindAmplifier, Address: "10.0.0.5"},
		"shower": {Name: "Shower", Kind: config.KindValve, Address: "10.0.0.5", Valve: 1, Ports: 2},
		"ctl":    {Name: "Bathroom", Kind: config.KindController, Address: "10.0.0.5"},
	} {
		if err := reg.AddDevice(id, d); err != nil {
			t.Fatalf("AddDevice(%s) error = %v", id, err)
		}
	}
	if n := m.LoadRegistry(reg); n != 3 {
		t.Fatalf("LoadRegistry() = %d, want 3", n)
	}

	s := New(&Config{Listen: "127.0.0.1:0"}, h, m, metrics.New())
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	t.Cleanup(s.stream.Close)

	return &testEnv{server: s, http: ts, hub: h, manager: m, controller: ctl}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp.StatusCode, data
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/healthz", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if !strings.Contains(string(body), `"ok"`) {
		t.Errorf("body = %s", body)
	}
}

func TestListDevices(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/devices", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}

	var views []devices.View
	if err := json.Unmarshal(body, &views); err != nil {
		t.Fatalf("decoding %s: %v", body, err)
	}
	var ids []string
	for _, v := range views {
		ids = append(ids, v.ID)
	}
	if got := strings.Join(ids, ","); got != "amp,ctl,shower" {
		t.Errorf("device IDs = %s, want amp,ctl,shower", got)
	}
}

func TestGetDevice(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"known device", "/api/devices/amp", http.StatusOK},
		{"unknown device", "/api/devices/nope", http.StatusNotFound},
		{"known capability", "/api/devices/amp/capabilities/volume", http.StatusOK},
		{"unknown capability", "/api/devices/amp/capabilities/colour", http.StatusBadRequest},
		{"capability of unknown device", "/api/devices/nope/capabilities/onoff", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodGet, tt.path, "")
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", status, tt.wantStatus, body)
			}
		})
	}
}

func TestSetCapability(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/devices/amp/capabilities/volume", `{"value": 35}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", status, body)
	}

	var view devices.View
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("decoding %s: %v", body, err)
	}
	if view.State[devices.CapOnOff] != true {
		t.Errorf("onoff = %v, want true", view.State[devices.CapOnOff])
	}
	if view.State[devices.CapVolume] != float64(35) {
		t.Errorf("volume = %v, want 35", view.State[devices.CapVolume])
	}

	calls := env.controller.Calls()
	if len(calls) != 1 || calls[0] != "music on 35" {
		t.Errorf("calls = %v, want [music on 35]", calls)
	}
}

func TestSetCapabilityErrors(t *testing.T) {
	rejected := dtvclient.NewCommandRejectedError("10.0.0.5", "/music_on.cgi", "not ok", []byte("nope"))
	timeout := &dtvclient.DeviceError{Type: dtvclient.ErrTypeTimeout, Address: "10.0.0.5"}
	refused := dtvclient.NewTransportError("10.0.0.5", "/music_on.cgi", "connection refused", nil)

	tests := []struct {
		name       string
		path       string
		body       string
		fail       error
		wantStatus int
		wantType   string
	}{
		{"unknown device", "/api/devices/nope/capabilities/onoff", `{"value":true}`, nil, http.StatusNotFound, ""},
		{"unknown capability", "/api/devices/amp/capabilities/colour", `{"value":1}`, nil, http.StatusBadRequest, ""},
		{"malformed body", "/api/devices/amp/capabilities/onoff", `{"value":`, nil, http.StatusBadRequest, ""},
		{"out of range", "/api/devices/amp/capabilities/volume", `{"value":150}`, nil, http.StatusBadRequest, "Validation Error"},
		{"wrong type", "/api/devices/amp/capabilities/volume", `{"value":"loud"}`, nil, http.StatusBadRequest, "Validation Error"},
		{"rejected", "/api/devices/amp/capabilities/onoff", `{"value":true}`, rejected, http.StatusConflict, "Command Rejected"},
		{"timeout", "/api/devices/amp/capabilities/onoff", `{"value":true}`, timeout, http.StatusGatewayTimeout, "Timeout"},
		{"unreachable", "/api/devices/amp/capabilities/onoff", `{"value":true}`, refused, http.StatusBadGateway, "Transport Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.fail != nil {
				env.controller.setFailure("music on", tt.fail)
			}

			status, body := env.do(t, http.MethodPost, tt.path, tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", status, tt.wantStatus, body)
			}

			var resp ErrorResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				t.Fatalf("decoding %s: %v", body, err)
			}
			if resp.Error == "" {
				t.Error("error message is empty")
			}
			if resp.Type != tt.wantType {
				t.Errorf("type = %q, want %q", resp.Type, tt.wantType)
			}
		})
	}
}

func TestControllersAndSnapshot(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/controllers", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var known []hub.KnownController
	if err := json.Unmarshal(body, &known); err != nil {
		t.Fatalf("decoding %s: %v", body, err)
	}
	if len(known) != 1 || known[0].Address != "10.0.0.5" || known[0].Name != "Bathroom" {
		t.Errorf("controllers = %+v, want [{10.0.0.5 Bathroom}]", known)
	}

	waitFor(t, "first snapshot", func() bool {
		_, values, ok := env.hub.Snapshot("10.0.0.5")
		return ok && values != nil
	})

	status, body = env.do(t, http.MethodGet, "/api/controllers/10.0.0.5/snapshot", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", status, body)
	}
	var snap SnapshotResponse
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("decoding %s: %v", body, err)
	}
	if snap.Values.MAC() != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("MAC = %q", snap.Values.MAC())
	}
	if snap.SystemInfo.Running(dtvclient.Valve1) {
		t.Error("valve 1 reported running")
	}

	status, _ = env.do(t, http.MethodGet, "/api/controllers/10.9.9.9/snapshot", "")
	if status != http.StatusNotFound {
		t.Errorf("unknown controller status = %d, want 404", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/api/devices", "")

	status, body := env.do(t, http.MethodGet, "/metrics", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	want := `dtvplus_http_requests_total{method="GET",route="/api/devices",status="200"} 1`
	if !strings.Contains(string(body), want) {
		t.Errorf("metrics output missing %s", want)
	}
}

func TestStreamBroadcastsStateChanges(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	waitFor(t, "stream client", func() bool { return env.server.StreamClients() == 1 })

	status, body := env.do(t, http.MethodPost, "/api/devices/amp/capabilities/onoff", `{"value":true}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", status, body)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if ev.Type == "state" && ev.Device.ID == "amp" && ev.Device.State[devices.CapOnOff] == true {
			return
		}
	}
}

func TestStreamCloseDisconnectsClients(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	waitFor(t, "stream client", func() bool { return env.server.StreamClients() == 1 })
	env.server.stream.Close()

	if got := env.server.StreamClients(); got != 0 {
		t.Errorf("StreamClients() = %d after Close, want 0", got)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage() succeeded after Close")
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	env := newTestEnv(t)
	if err := env.server.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Start(ctx) }()

	url := "http://" + env.server.Addr().String() + "/healthz"
	waitFor(t, "server up", func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}
