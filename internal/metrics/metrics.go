// Package metrics provides Prometheus instrumentation for the cell engine.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CachesLoaded counts caches brought into memory, partitioned by source
	// ("generated", "restored", "regenerated"). "unavailable" counts cells
	// skipped because their persisted state could not be read.
	CachesLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geocoin_caches_loaded_total",
		Help: "Caches loaded into the registry by source",
	}, []string{"source"})

	// CorruptMementos counts persisted caches discarded as unreadable.
	CorruptMementos = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geocoin_corrupt_mementos_total",
		Help: "Persisted cache mementos discarded as corrupt",
	})

	// CoinTransfers counts coins moved, partitioned by direction
	// ("collect", "deposit").
	CoinTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geocoin_coin_transfers_total",
		Help: "Coins moved between caches and the player",
	}, []string{"direction"})

	// PersistFailures counts failed cache and player writes.
	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geocoin_persist_failures_total",
		Help: "Failed writes to the persistence store",
	})

	// StoreDegraded is 1 once the session runs memory-only.
	StoreDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "geocoin_store_degraded",
		Help: "1 when persistence is unavailable and state is memory-only",
	})

	// VisibleCaches tracks caches in the current neighborhood.
	VisibleCaches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "geocoin_visible_caches",
		Help: "Number of caches in the current neighborhood",
	})

	// Events counts session events by kind.
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geocoin_session_events_total",
		Help: "Session events processed by kind and outcome",
	}, []string{"kind", "outcome"})

	// PopulateLatency tracks neighborhood population time.
	PopulateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "geocoin_populate_latency_seconds",
		Help:    "Neighborhood population latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// WebSocketClients tracks connected map view clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "geocoin_websocket_clients",
		Help: "Number of connected map view clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geocoin_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geocoin_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, routePattern(r)).Observe(duration)
	})
}

// routePattern prefers the chi route pattern over the raw path so cell ids
// do not explode label cardinality.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware. A hijacked
// connection is recorded as 101.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
