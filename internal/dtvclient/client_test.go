package dtvclient

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// hangUp makes the fake controller hold the connection open without writing
const hangUp = "\x00hang"

// stallAfter prefixes a response the fake writes before holding the
// connection open instead of closing it.
const stallAfter = "\x00stall"

// fakeController accepts connections on loopback, records each request and
// answers with whatever respond returns.
type fakeController struct {
	ln       net.Listener
	respond  func(request string) string
	done     chan struct{}
	mu       sync.Mutex
	requests []string
}

func newFakeController(t *testing.T, respond func(request string) string) *fakeController {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	f := &fakeController{ln: ln, respond: respond, done: make(chan struct{})}
	go f.serve()
	t.Cleanup(func() {
		close(f.done)
		_ = ln.Close()
	})
	return f
}

func (f *fakeController) Address() string {
	return f.ln.Addr().String()
}

func (f *fakeController) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeController) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)
	var req strings.Builder
	for {
		line, err := reader.ReadString('\n')
		req.WriteString(line)
		if err != nil || line == "\r\n" {
			break
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, req.String())
	f.mu.Unlock()

	resp := f.respond(req.String())
	if resp == hangUp {
		<-f.done
		return
	}
	if rest, ok := strings.CutPrefix(resp, stallAfter); ok {
		_, _ = io.WriteString(conn, rest)
		<-f.done
		return
	}
	_, _ = io.WriteString(conn, resp)
}

func (f *fakeController) RequestLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	lines := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		lines = append(lines, strings.SplitN(r, "\r\n", 2)[0])
	}
	return lines
}

func fixedResponse(body string) func(string) string {
	return func(string) string { return body }
}

const mockSystemInfo = `{"valve1outlet1":true,"valve1outlet3":true,"valve1_Currentstatus":"On","valve1Setpoint":"40","valve2_Currentstatus":"Off","degree_symbol":"&degC","volStatus":"50%"}`

func TestNewClient(t *testing.T) {
	client := NewClient("192.168.1.40")

	if client.Address != "192.168.1.40" {
		t.Errorf("Address = %s, want 192.168.1.40", client.Address)
	}
	if client.InfoTimeout != 5*time.Second {
		t.Errorf("InfoTimeout = %v, want 5s", client.InfoTimeout)
	}
	if client.CommandTimeout != 10*time.Second {
		t.Errorf("CommandTimeout = %v, want 10s", client.CommandTimeout)
	}
	if client.AccessoryTimeout != 5*time.Second {
		t.Errorf("AccessoryTimeout = %v, want 5s", client.AccessoryTimeout)
	}
}

func TestHostPort(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{"192.168.1.40", "192.168.1.40:80"},
		{"192.168.1.40:8080", "192.168.1.40:8080"},
		{"shower.local", "shower.local:80"},
		{" 10.0.0.5 ", "10.0.0.5:80"},
		{"::1", "[::1]:80"},
		{"[::1]:81", "[::1]:81"},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			if got := HostPort(tt.address); got != tt.want {
				t.Errorf("HostPort(%q) = %q, want %q", tt.address, got, tt.want)
			}
		})
	}
}

func TestReadSystemInfo(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"well-formed HTTP", "HTTP/1.0 200 OK\r\nContent-Type: text/html\r\n\r\n" + mockSystemInfo + "\r\n"},
		{"bare JSON", mockSystemInfo},
		{"malformed header", "HTTP/1.0 200 OK\nbogus header without colon\r\n\r\n  " + mockSystemInfo},
		{"garbage framing", "HTTP/1.0 200 OK\r\n\r\n<html>" + mockSystemInfo + "</html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeController(t, fixedResponse(tt.response))
			client := NewClient(fake.Address())

			info, err := client.ReadSystemInfo(context.Background())
			if err != nil {
				t.Fatalf("ReadSystemInfo() error = %v", err)
			}
			if !info.Running(Valve1) {
				t.Error("Running(Valve1) = false, want true")
			}
			if got := info.OpenOutlets(Valve1).String(); got != "13" {
				t.Errorf("OpenOutlets(Valve1) = %q, want 13", got)
			}

			lines := fake.RequestLines()
			if len(lines) != 1 || lines[0] != "GET /system_info.cgi HTTP/1.0" {
				t.Errorf("request lines = %q, want one GET /system_info.cgi", lines)
			}
		})
	}
}

func TestReadValues(t *testing.T) {
	fake := newFakeController(t, fixedResponse(`{"valve1_installed":true,"valve1PortsAvailable":"4","MAC":"00:11:22:33:44:55"}`))
	client := NewClient(fake.Address())

	values, err := client.ReadValues(context.Background())
	if err != nil {
		t.Fatalf("ReadValues() error = %v", err)
	}
	if got := values.PortsAvailable(Valve1, 0); got != 4 {
		t.Errorf("PortsAvailable(Valve1) = %d, want 4", got)
	}
	if got := values.MAC(); got != "00:11:22:33:44:55" {
		t.Errorf("MAC() = %q", got)
	}

	lines := fake.RequestLines()
	if len(lines) != 1 || lines[0] != "GET /values.cgi HTTP/1.0" {
		t.Errorf("request lines = %q", lines)
	}
}

func TestReadSystemInfoDecodeError(t *testing.T) {
	body := strings.Repeat("x", 150)
	fake := newFakeController(t, fixedResponse("HTTP/1.0 200 OK\r\n\r\n"+body))
	client := NewClient(fake.Address())

	_, err := client.ReadSystemInfo(context.Background())
	if !IsDecodeError(err) {
		t.Fatalf("error = %v, want decode error", err)
	}

	devErr := err.(*DeviceError)
	if len(devErr.BodySample) != 100 {
		t.Errorf("BodySample length = %d, want 100", len(devErr.BodySample))
	}
	if devErr.Path != PathSystemInfo {
		t.Errorf("Path = %q, want %q", devErr.Path, PathSystemInfo)
	}
}

func TestReadSystemInfoTimeout(t *testing.T) {
	fake := newFakeController(t, fixedResponse(hangUp))
	client := NewClient(fake.Address())
	client.InfoTimeout = 100 * time.Millisecond

	start := time.Now()
	info, err := client.ReadSystemInfo(context.Background())
	if !IsTimeoutError(err) {
		t.Fatalf("error = %v, want timeout error", err)
	}
	if info != nil {
		t.Errorf("info = %v, want nil", info)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
	if !IsUnreachable(err) {
		t.Error("IsUnreachable() = false for timeout")
	}
}

func TestDeadlineDiscardsPartialResponse(t *testing.T) {
	partial := stallAfter + "HTTP/1.0 200 OK\r\n\r\n" + `{"valve1outlet1":true}`

	t.Run("status read", func(t *testing.T) {
		fake := newFakeController(t, fixedResponse(partial))
		client := NewClient(fake.Address())
		client.InfoTimeout = 150 * time.Millisecond

		info, err := client.ReadSystemInfo(context.Background())
		if !IsTimeoutError(err) {
			t.Fatalf("error = %v, want timeout error", err)
		}
		if info != nil {
			t.Errorf("info = %v, want nil after deadline", info)
		}
	})

	t.Run("command", func(t *testing.T) {
		fake := newFakeController(t, fixedResponse(partial))
		client := NewClient(fake.Address())
		client.CommandTimeout = 150 * time.Millisecond

		ack, err := client.StopShower(context.Background())
		if !IsTimeoutError(err) {
			t.Fatalf("error = %v, want timeout error", err)
		}
		if ack != (Ack{}) {
			t.Errorf("ack = %+v, want zero after deadline", ack)
		}
	})
}

func TestReadSystemInfoCanceled(t *testing.T) {
	fake := newFakeController(t, fixedResponse(hangUp))
	client := NewClient(fake.Address())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := client.ReadSystemInfo(ctx)
	if !IsTransportError(err) {
		t.Fatalf("error = %v, want transport error", err)
	}
	if devErr := err.(*DeviceError); devErr.NetworkSubtype != NetworkErrorCanceled {
		t.Errorf("NetworkSubtype = %v, want canceled", devErr.NetworkSubtype)
	}
}

func TestConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	address := ln.Addr().String()
	_ = ln.Close()

	client := NewClient(address)
	_, err = client.ReadValues(context.Background())
	if !IsTransportError(err) {
		t.Fatalf("error = %v, want transport error", err)
	}
	if devErr := err.(*DeviceError); devErr.NetworkSubtype != NetworkErrorConnectionRefused {
		t.Errorf("NetworkSubtype = %v, want connection refused", devErr.NetworkSubtype)
	}
}

func TestEmptyAddress(t *testing.T) {
	client := NewClient("")
	if _, err := client.ReadValues(context.Background()); !IsValidationError(err) {
		t.Errorf("error = %v, want validation error", err)
	}
}

func TestStartShowerParameters(t *testing.T) {
	v1, _ := ParseOutletSelector("13")
	v2, _ := ParseOutletSelector("2")

	tests := []struct {
		name string
		cmd  ShowerCommand
		want string
	}{
		{
			name: "both valves",
			cmd:  ShowerCommand{Valve1Outlets: v1, Valve1Temp: 40, Valve2Outlets: v2, Valve2Temp: 38},
			want: "GET /quick_shower.cgi?valve_num=1&valve1_outlet=13&valve1_massage=0&valve1_temp=40&valve2_outlet=2&valve2_massage=0&valve2_temp=38 HTTP/1.0",
		},
		{
			name: "untouched side defaults",
			cmd:  ShowerCommand{Valve1Outlets: v1, Valve1Temp: 38.6},
			want: "GET /quick_shower.cgi?valve_num=1&valve1_outlet=13&valve1_massage=0&valve1_temp=39&valve2_outlet=0&valve2_massage=0&valve2_temp=100 HTTP/1.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeController(t, fixedResponse("HTTP/1.0 200 OK\r\n\r\nOK"))
			client := NewClient(fake.Address())

			ack, err := client.StartShower(context.Background(), tt.cmd)
			if err != nil {
				t.Fatalf("StartShower() error = %v", err)
			}
			if ack.Body != "OK" {
				t.Errorf("Ack.Body = %q, want OK", ack.Body)
			}

			lines := fake.RequestLines()
			if len(lines) != 1 || lines[0] != tt.want {
				t.Errorf("request line = %q\nwant %q", lines, tt.want)
			}
		})
	}
}

func TestRequestHeaders(t *testing.T) {
	fake := newFakeController(t, fixedResponse("OK"))
	client := NewClient(fake.Address())

	if _, err := client.StopShower(context.Background()); err != nil {
		t.Fatalf("StopShower() error = %v", err)
	}

	fake.mu.Lock()
	req := fake.requests[0]
	fake.mu.Unlock()

	if !strings.Contains(req, "\r\nHost: "+fake.Address()+"\r\n") {
		t.Errorf("request missing Host header: %q", req)
	}
	if !strings.Contains(req, "\r\nConnection: close\r\n") {
		t.Errorf("request missing Connection header: %q", req)
	}
}

func TestCommandRequestLines(t *testing.T) {
	tests := []struct {
		name string
		call func(*Client) (Ack, error)
		want string
	}{
		{"stop", func(c *Client) (Ack, error) { return c.StopShower(context.Background()) }, "GET /stop_shower.cgi HTTP/1.0"},
		{"preset", func(c *Client) (Ack, error) { return c.StartPreset(context.Background(), 3) }, "GET /start_user.cgi?user=3 HTTP/1.0"},
		{"steam on", func(c *Client) (Ack, error) { return c.SteamOn(context.Background(), 43.4, 10) }, "GET /steam_on.cgi?temp=43&time=10 HTTP/1.0"},
		{"steam off", func(c *Client) (Ack, error) { return c.SteamOff(context.Background()) }, "GET /steam_off.cgi HTTP/1.0"},
		{"music on", func(c *Client) (Ack, error) { return c.MusicOn(context.Background(), 50) }, "GET /music_on.cgi?volume=50 HTTP/1.0"},
		{"music off", func(c *Client) (Ack, error) { return c.MusicOff(context.Background()) }, "GET /music_off.cgi HTTP/1.0"},
		{"light on", func(c *Client) (Ack, error) { return c.LightOn(context.Background(), 2, 75) }, "GET /light_on.cgi?zone=2&level=75 HTTP/1.0"},
		{"light off", func(c *Client) (Ack, error) { return c.LightOff(context.Background(), 2) }, "GET /light_off.cgi?zone=2 HTTP/1.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeController(t, fixedResponse("HTTP/1.0 200 OK\r\n\r\n{\"result\":\"ok\"}"))
			client := NewClient(fake.Address())

			if _, err := tt.call(client); err != nil {
				t.Fatalf("command error = %v", err)
			}
			lines := fake.RequestLines()
			if len(lines) != 1 || lines[0] != tt.want {
				t.Errorf("request line = %q, want %q", lines, tt.want)
			}
		})
	}
}

func TestCommandRejected(t *testing.T) {
	tests := []struct {
		name     string
		response string
		rejected bool
	}{
		{"closed without bytes", "", true},
		{"http error status", "HTTP/1.0 500 Internal Server Error\r\n\r\n", true},
		{"json error field", `{"error":"invalid outlet"}`, true},
		{"json fail field", `{"fail":1}`, true},
		{"json success false", `{"success":false}`, true},
		{"text error", "ERROR: busy", true},
		{"text fail", "fail", true},
		{"empty body after header", "HTTP/1.0 200 OK\r\n\r\n", false},
		{"json error false", `{"error":false}`, false},
		{"plain ok", "OK", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeController(t, fixedResponse(tt.response))
			client := NewClient(fake.Address())

			_, err := client.StopShower(context.Background())
			if tt.rejected {
				if !IsCommandRejected(err) {
					t.Errorf("error = %v, want command rejected", err)
				}
				return
			}
			if err != nil {
				t.Errorf("error = %v, want nil", err)
			}
		})
	}
}

func TestCommandValidation(t *testing.T) {
	// Nothing listens here: validation must fail before dialing.
	client := NewClient("127.0.0.1:1")
	ctx := context.Background()

	checks := []struct {
		name string
		err  error
	}{
		{"preset 0", func() error { _, err := client.StartPreset(ctx, 0); return err }()},
		{"preset 7", func() error { _, err := client.StartPreset(ctx, 7); return err }()},
		{"volume 101", func() error { _, err := client.MusicOn(ctx, 101); return err }()},
		{"light zone 4", func() error { _, err := client.LightOn(ctx, 4, 50); return err }()},
		{"light level -1", func() error { _, err := client.LightOn(ctx, 1, -1); return err }()},
		{"steam minutes 0", func() error { _, err := client.SteamOn(ctx, 43, 0); return err }()},
		{"shower temp", func() error {
			_, err := client.StartShower(ctx, ShowerCommand{Valve1Temp: 500})
			return err
		}()},
	}

	for _, c := range checks {
		if !IsValidationError(c.err) {
			t.Errorf("%s: error = %v, want validation error", c.name, c.err)
		}
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	paths []string
	errs  []error
}

func (r *recordingObserver) ObserveExchange(address, path string, elapsed time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	r.errs = append(r.errs, err)
}

func TestExchangeObserver(t *testing.T) {
	fake := newFakeController(t, fixedResponse(mockSystemInfo))
	observer := &recordingObserver{}
	client := NewClient(fake.Address())
	client.Observer = observer

	if _, err := client.ReadSystemInfo(context.Background()); err != nil {
		t.Fatalf("ReadSystemInfo() error = %v", err)
	}

	if len(observer.paths) != 1 || observer.paths[0] != PathSystemInfo {
		t.Errorf("observed paths = %v", observer.paths)
	}
	if observer.errs[0] != nil {
		t.Errorf("observed error = %v, want nil", observer.errs[0])
	}
}

func TestShowerCommandSides(t *testing.T) {
	v1, _ := ParseOutletSelector("13")
	cmd := ShowerCommand{}.WithSide(Valve2, v1, 38)

	if cmd.Outlets(Valve2) != v1 || cmd.Temp(Valve2) != 38 {
		t.Errorf("valve 2 side = %v,%v", cmd.Outlets(Valve2), cmd.Temp(Valve2))
	}
	if !cmd.Outlets(Valve1).IsEmpty() {
		t.Errorf("valve 1 outlets = %v, want empty", cmd.Outlets(Valve1))
	}
	if got := cmd.String(); got != `{valve1:"0",100 valve2:"13",38}` {
		t.Errorf("String() = %s", got)
	}
}
