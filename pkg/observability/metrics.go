package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can be constructed without instrumentation.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Token and key metrics
	TokenVerificationsTotal *prometheus.CounterVec
	KeyRefreshesTotal       *prometheus.CounterVec

	// Identity provider metrics
	IdPRequestsTotal         *prometheus.CounterVec
	IdPRequestDuration       *prometheus.HistogramVec
	AdminCredentialRefreshes *prometheus.CounterVec

	// Session and tenancy metrics
	UsersProvisionedTotal *prometheus.CounterVec
	OrgOperationsTotal    *prometheus.CounterVec
	RateLimitRejections   *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBConnectionsWait   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		TokenVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_token_verifications_total",
				Help: "Bearer token verifications by result",
			},
			[]string{"result"},
		),
		KeyRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_signing_key_refreshes_total",
				Help: "Signing key set fetches from the identity provider by result",
			},
			[]string{"result"},
		),
		IdPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_idp_requests_total",
				Help: "Identity provider calls by operation and HTTP status",
			},
			[]string{"operation", "status"},
		),
		IdPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_idp_request_duration_seconds",
				Help:    "Identity provider call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		AdminCredentialRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_admin_credential_refreshes_total",
				Help: "Admin credential acquisitions by result",
			},
			[]string{"result"},
		),
		UsersProvisionedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_users_provisioned_total",
				Help: "Local user records created, by source",
			},
			[]string{"source"},
		),
		OrgOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_org_operations_total",
				Help: "Organization mutations by operation and result",
			},
			[]string{"operation", "result"},
		),
		RateLimitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_rate_limit_rejections_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
		DBConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tenantgate_db_connections_active",
			Help: "Number of in-use database connections",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tenantgate_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		DBConnectionsWait: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tenantgate_db_connections_wait_count",
			Help: "Total number of connections waited for",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TokenVerificationsTotal,
		m.KeyRefreshesTotal,
		m.IdPRequestsTotal,
		m.IdPRequestDuration,
		m.AdminCredentialRefreshes,
		m.UsersProvisionedTotal,
		m.OrgOperationsTotal,
		m.RateLimitRejections,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWait,
	)

	return m
}

// ObserveTokenVerification counts a verification outcome such as "valid",
// "missing_kid" or "unknown_kid".
func (m *Metrics) ObserveTokenVerification(result string) {
	if m == nil {
		return
	}
	m.TokenVerificationsTotal.WithLabelValues(result).Inc()
}

// ObserveKeyRefresh counts a signing key fetch
func (m *Metrics) ObserveKeyRefresh(err error) {
	if m == nil {
		return
	}
	m.KeyRefreshesTotal.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveIdPRequest records one identity provider round trip. status is the
// HTTP status, or 0 when no response was received.
func (m *Metrics) ObserveIdPRequest(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.IdPRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.IdPRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveAdminCredentialRefresh counts an admin credential acquisition
func (m *Metrics) ObserveAdminCredentialRefresh(err error) {
	if m == nil {
		return
	}
	m.AdminCredentialRefreshes.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveUserProvisioned counts a local user record created from source
// ("signup" or "session").
func (m *Metrics) ObserveUserProvisioned(source string) {
	if m == nil {
		return
	}
	m.UsersProvisionedTotal.WithLabelValues(source).Inc()
}

// ObserveOrgOperation counts an organization mutation
func (m *Metrics) ObserveOrgOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.OrgOperationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
}

// ObserveRateLimitRejection counts a throttled request
func (m *Metrics) ObserveRateLimitRejection(route string) {
	if m == nil {
		return
	}
	m.RateLimitRejections.WithLabelValues(route).Inc()
}

// RecordDBStats copies connection pool statistics into the gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWait.Set(float64(stats.WaitCount))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled with the matched route template so that path
// parameters do not explode label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
