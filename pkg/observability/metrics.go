package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the action pipeline
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Dispatch metrics
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthorizationDenialsTotal *prometheus.CounterVec
	PrincipalLookupsTotal     *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitRejectionsTotal *prometheus.CounterVec
	RateLimitStoreErrors     prometheus.Counter

	// Audit metrics. AuditWriteFailuresTotal is the alertable companion to
	// the swallow-on-failure audit policy: writes never fail the business
	// action, so this counter is the only way loss becomes visible.
	AuditEventsTotal        *prometheus.CounterVec
	AuditWriteFailuresTotal prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_dispatch_total",
				Help: "Total number of dispatched privileged actions",
			},
			[]string{"action", "outcome"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_dispatch_duration_seconds",
				Help:    "Privileged action dispatch duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),

		AuthorizationDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_authorization_denials_total",
				Help: "Total number of authorization denials",
			},
			[]string{"reason"},
		),
		PrincipalLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_principal_lookups_total",
				Help: "Total number of principal record lookups",
			},
			[]string{"result"},
		),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_ratelimit_rejections_total",
				Help: "Total number of rate-limited action invocations",
			},
			[]string{"action"},
		),
		RateLimitStoreErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_ratelimit_store_errors_total",
				Help: "Total number of rate-limit window store errors (fail-open admissions)",
			},
		),

		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_audit_events_total",
				Help: "Total number of audit events recorded",
			},
			[]string{"event_type"},
		),
		AuditWriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_audit_write_failures_total",
				Help: "Total number of swallowed audit sink write failures",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DispatchTotal,
		m.DispatchDuration,
		m.AuthorizationDenialsTotal,
		m.PrincipalLookupsTotal,
		m.RateLimitRejectionsTotal,
		m.RateLimitStoreErrors,
		m.AuditEventsTotal,
		m.AuditWriteFailuresTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
