package dtvclient

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/muurk/dtvplus/internal/logging"
)

const (
	// DefaultPort is used when a controller address carries no port
	DefaultPort = "80"

	// DefaultInfoTimeout is the deadline for status and configuration reads
	DefaultInfoTimeout = 5 * time.Second

	// DefaultCommandTimeout is the deadline for shower, preset and steam commands
	DefaultCommandTimeout = 10 * time.Second

	// DefaultAccessoryTimeout is the deadline for music and light commands
	DefaultAccessoryTimeout = 5 * time.Second

	// maxResponseBytes caps how much of a response is read
	maxResponseBytes = 1 << 20
)

// CGI paths exposed by the controller
const (
	PathValues      = "values.cgi"
	PathSystemInfo  = "system_info.cgi"
	PathQuickShower = "quick_shower.cgi"
	PathStopShower  = "stop_shower.cgi"
	PathStartUser   = "start_user.cgi"
	PathSteamOn     = "steam_on.cgi"
	PathSteamOff    = "steam_off.cgi"
	PathMusicOn     = "music_on.cgi"
	PathMusicOff    = "music_off.cgi"
	PathLightOn     = "light_on.cgi"
	PathLightOff    = "light_off.cgi"
)

// ExchangeObserver is notified after every exchange with a controller.
// Implementations must be safe for concurrent use.
type ExchangeObserver interface {
	ObserveExchange(address, path string, elapsed time.Duration, err error)
}

// Client talks to one DTV+ controller.
//
// The client holds no connection state: every call dials a fresh connection,
// writes one request, reads until the controller closes, and hangs up. It is
// safe for concurrent use by polls and commands alike.
type Client struct {
	// Address is the controller endpoint, host[:port] (port defaults to 80)
	Address string

	// InfoTimeout bounds ReadSystemInfo and ReadValues
	InfoTimeout time.Duration

	// CommandTimeout bounds shower, preset and steam commands
	CommandTimeout time.Duration

	// AccessoryTimeout bounds music and light commands
	AccessoryTimeout time.Duration

	// Dialer opens connections; a zero net.Dialer is used when nil
	Dialer *net.Dialer

	// Observer, when set, receives the outcome of every exchange
	Observer ExchangeObserver
}

// Ack is the controller's acknowledgement of a command: the trimmed body
type Ack struct {
	Path string `json:"path"`
	Body string `json:"body"`
}

// ShowerCommand is a compound write describing both valves.
//
// The controller cannot address one valve alone, so every shower write states
// both sides. A side with no outlets is sent as "0"; a zero temperature is
// sent as DefaultShowerTemp.
type ShowerCommand struct {
	Valve1Outlets OutletSelector `json:"valve1_outlets"`
	Valve1Temp    float64        `json:"valve1_temp"`
	Valve2Outlets OutletSelector `json:"valve2_outlets"`
	Valve2Temp    float64        `json:"valve2_temp"`
}

// Outlets returns the selector of valve v
func (c ShowerCommand) Outlets(v Valve) OutletSelector {
	if v == Valve2 {
		return c.Valve2Outlets
	}
	return c.Valve1Outlets
}

// Temp returns the temperature of valve v
func (c ShowerCommand) Temp(v Valve) float64 {
	if v == Valve2 {
		return c.Valve2Temp
	}
	return c.Valve1Temp
}

// WithSide returns a copy of c with valve v set to the given outlets and temperature
func (c ShowerCommand) WithSide(v Valve, outlets OutletSelector, temp float64) ShowerCommand {
	if v == Valve2 {
		c.Valve2Outlets, c.Valve2Temp = outlets, temp
	} else {
		c.Valve1Outlets, c.Valve1Temp = outlets, temp
	}
	return c
}

func (c ShowerCommand) String() string {
	return fmt.Sprintf("{valve1:%q,%g valve2:%q,%g}",
		c.Valve1Outlets.String(), wireTemp(c.Valve1Temp),
		c.Valve2Outlets.String(), wireTemp(c.Valve2Temp))
}

// param is one query parameter; order is preserved on the wire
type param struct {
	key   string
	value string
}

// NewClient creates a client for a controller address with default deadlines
func NewClient(address string) *Client {
	return &Client{
		Address:          address,
		InfoTimeout:      DefaultInfoTimeout,
		CommandTimeout:   DefaultCommandTimeout,
		AccessoryTimeout: DefaultAccessoryTimeout,
	}
}

// ReadSystemInfo reads the real-time status snapshot
func (c *Client) ReadSystemInfo(ctx context.Context) (SystemInfo, error) {
	obj, err := c.readObject(ctx, PathSystemInfo)
	if err != nil {
		return nil, err
	}
	return SystemInfo(obj), nil
}

// ReadValues reads the configuration snapshot
func (c *Client) ReadValues(ctx context.Context) (Values, error) {
	obj, err := c.readObject(ctx, PathValues)
	if err != nil {
		return nil, err
	}
	return Values(obj), nil
}

// StartShower sends a compound shower command. All seven parameters are
// always sent.
func (c *Client) StartShower(ctx context.Context, cmd ShowerCommand) (Ack, error) {
	if err := ValidateShowerCommand(cmd); err != nil {
		return Ack{}, err
	}
	return c.command(ctx, PathQuickShower, []param{
		{"valve_num", "1"},
		{"valve1_outlet", cmd.Valve1Outlets.String()},
		{"valve1_massage", "0"},
		{"valve1_temp", formatRounded(wireTemp(cmd.Valve1Temp))},
		{"valve2_outlet", cmd.Valve2Outlets.String()},
		{"valve2_massage", "0"},
		{"valve2_temp", formatRounded(wireTemp(cmd.Valve2Temp))},
	}, c.commandTimeout())
}

// StopShower stops both valves
func (c *Client) StopShower(ctx context.Context) (Ack, error) {
	return c.command(ctx, PathStopShower, nil, c.commandTimeout())
}

// StartPreset starts a stored user preset (1-6)
func (c *Client) StartPreset(ctx context.Context, preset int) (Ack, error) {
	if err := ValidatePreset(preset); err != nil {
		return Ack{}, err
	}
	return c.command(ctx, PathStartUser, []param{
		{"user", strconv.Itoa(preset)},
	}, c.commandTimeout())
}

// SteamOn starts the steam generator at a device-native temperature for the
// given number of minutes.
func (c *Client) SteamOn(ctx context.Context, temp float64, minutes int) (Ack, error) {
	if err := ValidateSteam(temp, minutes); err != nil {
		return Ack{}, err
	}
	return c.command(ctx, PathSteamOn, []param{
		{"temp", formatRounded(temp)},
		{"time", strconv.Itoa(minutes)},
	}, c.commandTimeout())
}

// SteamOff stops the steam generator
func (c *Client) SteamOff(ctx context.Context) (Ack, error) {
	return c.command(ctx, PathSteamOff, nil, c.commandTimeout())
}

// MusicOn turns the amplifier on at a volume percentage
func (c *Client) MusicOn(ctx context.Context, volume int) (Ack, error) {
	if err := ValidateVolume(volume); err != nil {
		return Ack{}, err
	}
	return c.command(ctx, PathMusicOn, []param{
		{"volume", strconv.Itoa(volume)},
	}, c.accessoryTimeout())
}

// MusicOff turns the amplifier off
func (c *Client) MusicOff(ctx context.Context) (Ack, error) {
	return c.command(ctx, PathMusicOff, nil, c.accessoryTimeout())
}

// LightOn turns a light zone (1-3) on at a brightness level (0-100)
func (c *Client) LightOn(ctx context.Context, zone, level int) (Ack, error) {
	if err := ValidateLightZone(zone); err != nil {
		return Ack{}, err
	}
	if err := ValidateLevel(level); err != nil {
		return Ack{}, err
	}
	return c.command(ctx, PathLightOn, []param{
		{"zone", strconv.Itoa(zone)},
		{"level", strconv.Itoa(level)},
	}, c.accessoryTimeout())
}

// LightOff turns a light zone off
func (c *Client) LightOff(ctx context.Context, zone int) (Ack, error) {
	if err := ValidateLightZone(zone); err != nil {
		return Ack{}, err
	}
	return c.command(ctx, PathLightOff, []param{
		{"zone", strconv.Itoa(zone)},
	}, c.accessoryTimeout())
}

// readObject performs a read exchange and decodes its JSON body
func (c *Client) readObject(ctx context.Context, path string) (map[string]any, error) {
	raw, err := c.exchange(ctx, path, nil, c.infoTimeout())
	if err != nil {
		return nil, err
	}

	body := ExtractBody(raw)
	obj, err := DecodeObject(body)
	if err != nil {
		return nil, NewDecodeError(c.Address, path, body, err)
	}
	return obj, nil
}

// command performs a write exchange and checks the answer for failure markers
func (c *Client) command(ctx context.Context, path string, params []param, timeout time.Duration) (Ack, error) {
	raw, err := c.exchange(ctx, path, params, timeout)
	if err != nil {
		return Ack{}, err
	}

	if len(raw) == 0 {
		return Ack{}, NewCommandRejectedError(c.Address, path, "controller closed the connection without responding", nil)
	}
	if code, ok := statusCode(raw); ok && code >= 400 {
		return Ack{}, NewCommandRejectedError(c.Address, path, fmt.Sprintf("controller answered HTTP %d", code), ExtractBody(raw))
	}

	body := ExtractBody(raw)
	if reason, failed := failureMarker(body); failed {
		return Ack{}, NewCommandRejectedError(c.Address, path, reason, body)
	}
	return Ack{Path: path, Body: string(body)}, nil
}

// exchange writes one request on a fresh connection and returns every byte
// the controller sent before closing. A deadline or cancellation aborts the
// read; partial data is discarded.
func (c *Client) exchange(ctx context.Context, path string, params []param, timeout time.Duration) (raw []byte, err error) {
	if strings.TrimSpace(c.Address) == "" {
		return nil, NewValidationError("controller address is required")
	}

	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		logging.LogExchange(c.Address, path, elapsed, err)
		if c.Observer != nil {
			c.Observer.ObserveExchange(c.Address, path, elapsed, err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := c.dialer().DialContext(ctx, "tcp", HostPort(c.Address))
	if err != nil {
		return nil, c.exchangeError(ctx, path, "failed to connect to controller", err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := io.WriteString(conn, buildRequest(c.Address, path, params)); err != nil {
		return nil, c.exchangeError(ctx, path, "failed to send request", err)
	}

	raw, err = io.ReadAll(io.LimitReader(conn, maxResponseBytes))
	if err != nil {
		return nil, c.exchangeError(ctx, path, "failed to read response", err)
	}

	logging.LogRawBytes(path+" response", raw)
	return raw, nil
}

// exchangeError classifies a socket error, preferring the context's reason
// when the deadline or the caller ended the exchange.
func (c *Client) exchangeError(ctx context.Context, path, message string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	return NewTransportError(c.Address, path, message, err)
}

func (c *Client) dialer() *net.Dialer {
	if c.Dialer != nil {
		return c.Dialer
	}
	return &net.Dialer{}
}

func (c *Client) infoTimeout() time.Duration {
	if c.InfoTimeout > 0 {
		return c.InfoTimeout
	}
	return DefaultInfoTimeout
}

func (c *Client) commandTimeout() time.Duration {
	if c.CommandTimeout > 0 {
		return c.CommandTimeout
	}
	return DefaultCommandTimeout
}

func (c *Client) accessoryTimeout() time.Duration {
	if c.AccessoryTimeout > 0 {
		return c.AccessoryTimeout
	}
	return DefaultAccessoryTimeout
}

// HostPort returns the dialable form of a controller address, adding the
// default port when none is given.
func HostPort(address string) string {
	address = strings.TrimSpace(address)
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(strings.Trim(address, "[]"), DefaultPort)
}

// buildRequest renders the HTTP/1.0 request line and headers
func buildRequest(address, path string, params []param) string {
	var b strings.Builder
	b.WriteString("GET /")
	b.WriteString(path)
	if len(params) > 0 {
		b.WriteByte('?')
		for i, p := range params {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(p.key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(p.value))
		}
	}
	b.WriteString(" HTTP/1.0\r\n")
	b.WriteString("Host: ")
	b.WriteString(strings.TrimSpace(address))
	b.WriteString("\r\nConnection: close\r\n\r\n")
	return b.String()
}

// failureMarker looks for an explicit failure in a command response body
func failureMarker(body []byte) (string, bool) {
	text := strings.ToUpper(string(body))
	if strings.HasPrefix(text, "ERROR") || strings.HasPrefix(text, "FAIL") {
		return "controller reported failure", true
	}

	obj, err := DecodeObject(body)
	if err != nil {
		return "", false
	}
	if v, ok := obj["error"]; ok && truthy(v) {
		return fmt.Sprintf("controller reported error: %v", v), true
	}
	if v, ok := obj["fail"]; ok && truthy(v) {
		return fmt.Sprintf("controller reported failure: %v", v), true
	}
	if v, ok := obj["success"].(bool); ok && !v {
		return "controller reported success=false", true
	}
	return "", false
}

// wireTemp applies the default temperature to an unset side
func wireTemp(t float64) float64 {
	if t == 0 {
		return DefaultShowerTemp
	}
	return t
}

func formatRounded(f float64) string {
	return strconv.FormatInt(int64(math.Round(f)), 10)
}
