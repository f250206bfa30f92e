package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/muurk/dtvplus/internal/dtvclient"
)

const namespace = "dtvplus"

// Metrics collects bridge metrics in its own registry. It implements
// hub.Observer and dtvclient.ExchangeObserver.
type Metrics struct {
	registry *prometheus.Registry

	exchanges       *prometheus.CounterVec
	exchangeSeconds *prometheus.HistogramVec
	polls           *prometheus.CounterVec
	pollSeconds     *prometheus.HistogramVec
	deliveries      *prometheus.CounterVec
	subscribers     *prometheus.GaugeVec
	requests        *prometheus.CounterVec
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors, in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_exchanges_total",
			Help:      "Controller request/response exchanges by address, CGI path and result.",
		}, []string{"address", "path", "result"}),
		exchangeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "controller_exchange_seconds",
			Help:      "Duration of controller exchanges by CGI path.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"path"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_polls_total",
			Help:      "Hub polls by address, kind (status or config) and result.",
		}, []string{"address", "kind", "result"}),
		pollSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hub_poll_seconds",
			Help:      "Duration of hub polls by kind.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_deliveries_total",
			Help:      "Snapshot deliveries to subscribers by kind and result.",
		}, []string{"kind", "result"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_subscribers",
			Help:      "Current subscribers per controller address.",
		}, []string{"address"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Bridge API requests by route, method and status.",
		}, []string{"route", "method", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.exchanges, m.exchangeSeconds,
		m.polls, m.pollSeconds,
		m.deliveries, m.subscribers,
		m.requests,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveExchange records one controller exchange
func (m *Metrics) ObserveExchange(address, path string, elapsed time.Duration, err error) {
	m.exchanges.WithLabelValues(address, path, Result(err)).Inc()
	m.exchangeSeconds.WithLabelValues(path).Observe(elapsed.Seconds())
}

// ObservePoll records one hub poll
func (m *Metrics) ObservePoll(address, kind string, elapsed time.Duration, err error) {
	m.polls.WithLabelValues(address, kind, Result(err)).Inc()
	m.pollSeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveDelivery records one subscriber callback
func (m *Metrics) ObserveDelivery(address, kind string, err error) {
	m.deliveries.WithLabelValues(kind, Result(err)).Inc()
}

// ObserveSubscribers records the subscriber count of an address. The series
// is dropped when the count reaches zero.
func (m *Metrics) ObserveSubscribers(address string, count int) {
	if count == 0 {
		m.subscribers.DeleteLabelValues(address)
		return
	}
	m.subscribers.WithLabelValues(address).Set(float64(count))
}

// Result maps an error to a low-cardinality label value
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	var devErr *dtvclient.DeviceError
	if errors.As(err, &devErr) {
		return strings.ReplaceAll(strings.ToLower(devErr.Type.String()), " ", "_")
	}
	return "error"
}

// Middleware counts API requests by their chi route pattern so path
// parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
