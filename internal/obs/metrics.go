package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scopesOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scopes_open",
		Help: "Execution scopes currently open.",
	})

	scopeExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scope_executions_total",
			Help: "Operations executed inside scopes, by outcome.",
		},
		[]string{"outcome"},
	)

	permissionDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_denials_total",
			Help: "Operations refused by the permission catalog.",
		},
		[]string{"operation"},
	)

	rateLimitDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_denials_total",
			Help: "Operations refused by the per-profile rate limiter.",
		},
		[]string{"operation"},
	)

	auditEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Audit entries written, by severity.",
		},
		[]string{"severity"},
	)

	serviceReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the readiness probe passes, 0 otherwise.",
	})

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

// Init registers all service metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		scopesOpen,
		scopeExecutionsTotal,
		permissionDenialsTotal,
		rateLimitDenialsTotal,
		auditEntriesTotal,
		serviceReady,
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ScopeOpened increments the open-scope gauge.
func ScopeOpened() { scopesOpen.Inc() }

// ScopeClosed decrements the open-scope gauge.
func ScopeClosed() { scopesOpen.Dec() }

// ScopeExecution records one operation executed inside a scope.
func ScopeExecution(outcome string) {
	scopeExecutionsTotal.WithLabelValues(outcome).Inc()
}

// PermissionDenied records a catalog refusal for the named operation.
func PermissionDenied(operation string) {
	permissionDenialsTotal.WithLabelValues(operation).Inc()
}

// RateLimitDenied records a throttle refusal for the named operation.
func RateLimitDenied(operation string) {
	rateLimitDenialsTotal.WithLabelValues(operation).Inc()
}

// SetReady reflects the readiness probe outcome in the metrics.
func SetReady(ready bool) {
	if ready {
		serviceReady.Set(1)
		return
	}
	serviceReady.Set(0)
}

// AuditEntryWritten records one audit append at the given severity.
func AuditEntryWritten(severity string) {
	auditEntriesTotal.WithLabelValues(severity).Inc()
}

// CanonicalPath normalizes a request path for metric labels: the query
// string is stripped and an empty path maps to "/".
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
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

// statusWriter captures the response code for metrics.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
