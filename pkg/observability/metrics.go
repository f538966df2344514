package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Reservation metrics
	ReservationsTotal    *prometheus.CounterVec
	ReservationDuration  prometheus.Histogram
	LedgerLockWait       prometheus.Histogram
	CompensationFailures prometheus.Counter

	// Ledger store metrics
	LedgerOperationsTotal   *prometheus.CounterVec
	LedgerOperationDuration *prometheus.HistogramVec
	LedgerCASRetriesTotal   prometheus.Counter

	// Catalog metrics
	CatalogReloadsTotal *prometheus.CounterVec
	CatalogFeatures     prometheus.Gauge

	// Sweeper metrics
	SweepsTotal        *prometheus.CounterVec
	GrantsExpiredTotal prometheus.Counter

	// Redis metrics
	RedisConnectionsActive prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tollgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tollgate_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tollgate_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		// Reservation metrics
		ReservationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_reservations_total",
				Help: "Total number of reservations by outcome",
			},
			[]string{"status"},
		),
		ReservationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tollgate_reservation_duration_seconds",
				Help:    "End-to-end reservation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		LedgerLockWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tollgate_ledger_lock_wait_seconds",
				Help:    "Time spent waiting for the per-ledger lock",
				Buckets: []float64{.0001, .001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
		CompensationFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tollgate_compensation_failures_total",
				Help: "Entitlement compensations that failed and left the ledger inconsistent",
			},
		),

		// Ledger store metrics
		LedgerOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_ledger_operations_total",
				Help: "Total number of ledger store operations",
			},
			[]string{"operation", "status"},
		),
		LedgerOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tollgate_ledger_operation_duration_seconds",
				Help:    "Ledger store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		LedgerCASRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tollgate_ledger_cas_retries_total",
				Help: "Compare-and-swap retries caused by concurrent ledger writers",
			},
		),

		// Catalog metrics
		CatalogReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_catalog_reloads_total",
				Help: "Pricing catalog reload attempts",
			},
			[]string{"status"},
		),
		CatalogFeatures: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tollgate_catalog_features",
				Help: "Number of features in the active pricing catalog",
			},
		),

		// Sweeper metrics
		SweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_sweeps_total",
				Help: "Expired-grant sweep runs",
			},
			[]string{"status"},
		),
		GrantsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tollgate_grants_expired_total",
				Help: "Entitlement grants removed because they expired",
			},
		),

		// Redis metrics
		RedisConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tollgate_redis_connections_active",
				Help: "Number of active Redis connections",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.ReservationsTotal,
		m.ReservationDuration,
		m.LedgerLockWait,
		m.CompensationFailures,
		m.LedgerOperationsTotal,
		m.LedgerOperationDuration,
		m.LedgerCASRetriesTotal,
		m.CatalogReloadsTotal,
		m.CatalogFeatures,
		m.SweepsTotal,
		m.GrantsExpiredTotal,
		m.RedisConnectionsActive,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status and size
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			// Record request size
			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
			}

			// Serve the request
			next.ServeHTTP(rw, r)

			// Record metrics
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
