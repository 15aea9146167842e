package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics for the administrative surface.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Session-core metrics.
var (
	directoryLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_directory_lookups_total",
			Help: "Role directory lookups by outcome.",
		},
		[]string{"outcome"},
	)

	refreshAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_token_refresh_total",
			Help: "Token refresh attempts by outcome.",
		},
		[]string{"outcome"},
	)

	reconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_simulation_reconcile_total",
			Help: "Simulation reconcile passes by outcome.",
		},
		[]string{"outcome"},
	)

	simulationActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "session_simulation_active",
		Help: "Whether a role simulation is currently active.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		directoryLookups, refreshAttempts, reconcileRuns, simulationActive,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDirectoryLookup records the outcome of one directory lookup
// ("ok", "not_found", "timeout", "error", "throttled").
func ObserveDirectoryLookup(outcome string) {
	directoryLookups.WithLabelValues(outcome).Inc()
}

// ObserveTokenRefresh records the outcome of one refresh attempt
// ("ok", "error", "skipped").
func ObserveTokenRefresh(outcome string) {
	refreshAttempts.WithLabelValues(outcome).Inc()
}

// ObserveReconcile records the outcome of one reconcile pass
// ("clean", "rewrite", "error").
func ObserveReconcile(outcome string) {
	reconcileRuns.WithLabelValues(outcome).Inc()
}

// SetSimulationActive flips the simulation gauge.
func SetSimulationActive(active bool) {
	if active {
		simulationActive.Set(1)
		return
	}
	simulationActive.Set(0)
}

// Instrument wraps an HTTP handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metrics labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
