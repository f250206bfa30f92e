package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/dtvplus/internal/dtvclient"
	"github.com/muurk/dtvplus/internal/logging"
)

const (
	// DefaultStatusInterval is the system_info.cgi poll cadence
	DefaultStatusInterval = 30 * time.Second

	// DefaultConfigInterval is the values.cgi poll cadence
	DefaultConfigInterval = 300 * time.Second

	// DefaultExtraPollDelay is how long after a command the extra status poll runs
	DefaultExtraPollDelay = 2 * time.Second
)

// Poll kinds, as reported to observers and logs
const (
	KindStatus = "status"
	KindConfig = "config"
)

// Controller is the client surface devices and the hub use for one controller.
// *dtvclient.Client implements it.
type Controller interface {
	ReadSystemInfo(ctx context.Context) (dtvclient.SystemInfo, error)
	ReadValues(ctx context.Context) (dtvclient.Values, error)
	StartShower(ctx context.Context, cmd dtvclient.ShowerCommand) (dtvclient.Ack, error)
	StopShower(ctx context.Context) (dtvclient.Ack, error)
	StartPreset(ctx context.Context, preset int) (dtvclient.Ack, error)
	SteamOn(ctx context.Context, temp float64, minutes int) (dtvclient.Ack, error)
	SteamOff(ctx context.Context) (dtvclient.Ack, error)
	MusicOn(ctx context.Context, volume int) (dtvclient.Ack, error)
	MusicOff(ctx context.Context) (dtvclient.Ack, error)
	LightOn(ctx context.Context, zone, level int) (dtvclient.Ack, error)
	LightOff(ctx context.Context, zone int) (dtvclient.Ack, error)
}

// Subscriber receives every successful status poll for an address.
// Subscribers are compared by identity, so implementations should be
// pointer types.
type Subscriber interface {
	OnSystemInfo(ctx context.Context, info dtvclient.SystemInfo) error
}

// ValuesSubscriber additionally receives configuration polls
type ValuesSubscriber interface {
	Subscriber
	OnValues(ctx context.Context, values dtvclient.Values) error
}

// ControllerSubscriber marks a subscriber in the controller role. Addresses
// with at least one such subscriber are listed by KnownControllers.
type ControllerSubscriber interface {
	Subscriber
	ControllerName() string
}

// Observer receives hub events, typically for metrics
type Observer interface {
	ObservePoll(address, kind string, elapsed time.Duration, err error)
	ObserveDelivery(address, kind string, err error)
	ObserveSubscribers(address string, count int)
}

// KnownController is an address with a subscriber in the controller role
type KnownController struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Options configures a Hub
type Options struct {
	StatusInterval time.Duration
	ConfigInterval time.Duration
	ExtraPollDelay time.Duration

	// NewController creates the client for an address. Defaults to
	// dtvclient.NewClient.
	NewController func(address string) Controller

	// Observer is optional
	Observer Observer
}

// DefaultOptions returns the production cadences
func DefaultOptions() Options {
	return Options{
		StatusInterval: DefaultStatusInterval,
		ConfigInterval: DefaultConfigInterval,
		ExtraPollDelay: DefaultExtraPollDelay,
	}
}

// controllerState is everything the hub keeps for one address while it has
// subscribers. Fields other than extraPending and deliverMu are guarded by
// Hub.mu.
type controllerState struct {
	address string
	client  Controller

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	subscribers []Subscriber
	info        dtvclient.SystemInfo
	values      dtvclient.Values

	statusIssued, statusApplied uint64
	configIssued, configApplied uint64

	extraPending atomic.Bool
	extraTimer   *time.Timer

	// deliverMu serializes snapshot application and fan-out
	deliverMu sync.Mutex
}

// Hub owns per-address polling, the last snapshots and the subscriber sets.
type Hub struct {
	opts Options

	mu      sync.Mutex
	clients map[string]Controller
	states  map[string]*controllerState
	order   []string

	wg sync.WaitGroup
}

// New creates a hub. Zero durations in opts fall back to the defaults.
func New(opts Options) *Hub {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	if opts.ConfigInterval <= 0 {
		opts.ConfigInterval = DefaultConfigInterval
	}
	if opts.ExtraPollDelay <= 0 {
		opts.ExtraPollDelay = DefaultExtraPollDelay
	}
	if opts.NewController == nil {
		opts.NewController = func(address string) Controller {
			return dtvclient.NewClient(address)
		}
	}

	return &Hub{
		opts:    opts,
		clients: make(map[string]Controller),
		states:  make(map[string]*controllerState),
	}
}

// Client returns the client for an address, creating it on first use.
// The same client is returned for the lifetime of the hub.
func (h *Hub) Client(address string) Controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clientLocked(address)
}

func (h *Hub) clientLocked(address string) Controller {
	if c, ok := h.clients[address]; ok {
		return c
	}
	c := h.opts.NewController(address)
	h.clients[address] = c
	return c
}

// Subscribe adds sub to an address. The first subscriber starts both poll
// cadences with an immediate poll of each. Cached snapshots are pushed to the
// new subscriber right away; failures of that push are logged and ignored.
// Subscribing the same subscriber twice is a no-op.
func (h *Hub) Subscribe(address string, sub Subscriber) {
	h.mu.Lock()
	st, ok := h.states[address]
	if !ok {
		st = h.newStateLocked(address)
	}
	for _, existing := range st.subscribers {
		if existing == sub {
			h.mu.Unlock()
			return
		}
	}
	st.subscribers = append(st.subscribers, sub)
	count := len(st.subscribers)
	if !ok {
		h.startPollingLocked(st)
	}
	h.mu.Unlock()

	h.observeSubscribers(address, count)

	st.deliverMu.Lock()
	defer st.deliverMu.Unlock()

	h.mu.Lock()
	info, values, closed := st.info, st.values, st.closed
	h.mu.Unlock()
	if closed {
		return
	}

	if info != nil {
		h.deliverInfo(st, sub, info)
	}
	if values != nil {
		if vs, ok := sub.(ValuesSubscriber); ok {
			h.deliverValues(st, vs, values)
		}
	}
}

// Unsubscribe removes sub from an address. When the last subscriber leaves,
// both cadences and any pending extra poll are stopped, in-flight exchanges
// are canceled and the cached snapshots are discarded.
func (h *Hub) Unsubscribe(address string, sub Subscriber) {
	h.mu.Lock()
	st, ok := h.states[address]
	if !ok {
		h.mu.Unlock()
		return
	}

	for i, existing := range st.subscribers {
		if existing == sub {
			st.subscribers = append(st.subscribers[:i:i], st.subscribers[i+1:]...)
			break
		}
	}
	count := len(st.subscribers)
	if count == 0 {
		h.teardownLocked(st)
	}
	h.mu.Unlock()

	h.observeSubscribers(address, count)
}

// RequestExtraPoll schedules one status poll after the extra poll delay.
// Calls while one is pending are ignored, as are calls for addresses without
// subscribers.
func (h *Hub) RequestExtraPoll(address string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.states[address]
	if !ok || st.closed {
		return
	}
	if !st.extraPending.CompareAndSwap(false, true) {
		return
	}

	st.extraTimer = time.AfterFunc(h.opts.ExtraPollDelay, func() {
		st.extraPending.Store(false)
		h.pollStatus(st)
	})
	logging.Debug("Extra poll scheduled",
		zap.String("address", address),
		zap.Duration("delay", h.opts.ExtraPollDelay),
	)
}

// KnownControllers lists, in subscription order, the addresses that have a
// subscriber in the controller role, named after the first such subscriber.
func (h *Hub) KnownControllers() []KnownController {
	type candidate struct {
		address string
		subs    []Subscriber
	}

	h.mu.Lock()
	candidates := make([]candidate, 0, len(h.order))
	for _, address := range h.order {
		st := h.states[address]
		candidates = append(candidates, candidate{address, append([]Subscriber(nil), st.subscribers...)})
	}
	h.mu.Unlock()

	known := []KnownController{}
	for _, c := range candidates {
		for _, sub := range c.subs {
			if cs, ok := sub.(ControllerSubscriber); ok {
				known = append(known, KnownController{Address: c.address, Name: cs.ControllerName()})
				break
			}
		}
	}
	return known
}

// Snapshot returns the cached snapshots of an address. ok is false when the
// address has no subscribers.
func (h *Hub) Snapshot(address string) (info dtvclient.SystemInfo, values dtvclient.Values, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.states[address]
	if !ok {
		return nil, nil, false
	}
	return st.info, st.values, true
}

// Addresses returns the addresses currently being polled, in subscription order
func (h *Hub) Addresses() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.order...)
}

// SubscriberCount returns the number of subscribers of an address
func (h *Hub) SubscriberCount(address string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if st, ok := h.states[address]; ok {
		return len(st.subscribers)
	}
	return 0
}

// Close stops polling for every address and waits for the poll loops to exit
func (h *Hub) Close() {
	h.mu.Lock()
	for _, st := range h.states {
		h.teardownLocked(st)
	}
	h.mu.Unlock()

	h.wg.Wait()
}

func (h *Hub) newStateLocked(address string) *controllerState {
	ctx, cancel := context.WithCancel(context.Background())
	st := &controllerState{
		address: address,
		client:  h.clientLocked(address),
		ctx:     ctx,
		cancel:  cancel,
	}
	h.states[address] = st
	h.order = append(h.order, address)
	return st
}

func (h *Hub) startPollingLocked(st *controllerState) {
	h.wg.Add(2)
	go h.pollLoop(st, h.opts.StatusInterval, h.pollStatus)
	go h.pollLoop(st, h.opts.ConfigInterval, h.pollConfig)

	logging.Info("Polling started",
		zap.String("address", st.address),
		zap.Duration("status_interval", h.opts.StatusInterval),
		zap.Duration("config_interval", h.opts.ConfigInterval),
	)
}

func (h *Hub) teardownLocked(st *controllerState) {
	if st.closed {
		return
	}
	st.closed = true
	st.cancel()
	if st.extraTimer != nil {
		st.extraTimer.Stop()
	}
	st.info = nil
	st.values = nil

	delete(h.states, st.address)
	for i, address := range h.order {
		if address == st.address {
			h.order = append(h.order[:i:i], h.order[i+1:]...)
			break
		}
	}

	logging.Info("Polling stopped", zap.String("address", st.address))
}

// pollLoop polls once immediately, then on every tick until the state's
// context is canceled.
func (h *Hub) pollLoop(st *controllerState, interval time.Duration, poll func(*controllerState)) {
	defer h.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	poll(st)
	for {
		select {
		case <-st.ctx.Done():
			return
		case <-ticker.C:
			poll(st)
		}
	}
}

// beginPoll issues a sequence number for a new poll, or reports that the
// state is gone.
func (h *Hub) beginPoll(st *controllerState, issued *uint64) (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if st.closed {
		return 0, false
	}
	*issued++
	return *issued, true
}

func (h *Hub) pollStatus(st *controllerState) {
	seq, ok := h.beginPoll(st, &st.statusIssued)
	if !ok {
		return
	}

	start := time.Now()
	info, err := st.client.ReadSystemInfo(st.ctx)
	h.observePoll(st.address, KindStatus, time.Since(start), err)
	if err != nil {
		logging.LogPoll(st.address, KindStatus, err)
		return
	}

	st.deliverMu.Lock()
	defer st.deliverMu.Unlock()

	h.mu.Lock()
	if st.closed || seq <= st.statusApplied {
		h.mu.Unlock()
		logging.Debug("Discarding stale status poll",
			zap.String("address", st.address),
			zap.Uint64("seq", seq),
		)
		return
	}
	st.statusApplied = seq
	st.info = info
	subs := append([]Subscriber(nil), st.subscribers...)
	h.mu.Unlock()

	logging.LogPoll(st.address, KindStatus, nil)
	for _, sub := range subs {
		h.deliverInfo(st, sub, info)
	}
}

func (h *Hub) pollConfig(st *controllerState) {
	seq, ok := h.beginPoll(st, &st.configIssued)
	if !ok {
		return
	}

	start := time.Now()
	values, err := st.client.ReadValues(st.ctx)
	h.observePoll(st.address, KindConfig, time.Since(start), err)
	if err != nil {
		logging.LogPoll(st.address, KindConfig, err)
		return
	}

	st.deliverMu.Lock()
	defer st.deliverMu.Unlock()

	h.mu.Lock()
	if st.closed || seq <= st.configApplied {
		h.mu.Unlock()
		logging.Debug("Discarding stale config poll",
			zap.String("address", st.address),
			zap.Uint64("seq", seq),
		)
		return
	}
	st.configApplied = seq
	st.values = values
	subs := append([]Subscriber(nil), st.subscribers...)
	h.mu.Unlock()

	logging.LogPoll(st.address, KindConfig, nil)
	for _, sub := range subs {
		if vs, ok := sub.(ValuesSubscriber); ok {
			h.deliverValues(st, vs, values)
		}
	}
}

func (h *Hub) deliverInfo(st *controllerState, sub Subscriber, info dtvclient.SystemInfo) {
	err := isolate(func() error { return sub.OnSystemInfo(st.ctx, info) })
	h.afterDelivery(st.address, KindStatus, err)
}

func (h *Hub) deliverValues(st *controllerState, sub ValuesSubscriber, values dtvclient.Values) {
	err := isolate(func() error { return sub.OnValues(st.ctx, values) })
	h.afterDelivery(st.address, KindConfig, err)
}

func (h *Hub) afterDelivery(address, kind string, err error) {
	if err != nil {
		logging.Warn("Subscriber update failed",
			zap.String("address", address),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
	if h.opts.Observer != nil {
		h.opts.Observer.ObserveDelivery(address, kind, err)
	}
}

// isolate runs a subscriber callback, turning a panic into an error
func isolate(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return fn()
}

func (h *Hub) observePoll(address, kind string, elapsed time.Duration, err error) {
	if h.opts.Observer != nil {
		h.opts.Observer.ObservePoll(address, kind, elapsed, err)
	}
}

func (h *Hub) observeSubscribers(address string, count int) {
	if h.opts.Observer != nil {
		h.opts.Observer.ObserveSubscribers(address, count)
	}
}
