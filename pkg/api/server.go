// Package api exposes the reservation engine and shadow ledgers over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/usagekit/tollgate/pkg/catalog"
	"github.com/usagekit/tollgate/pkg/httputil"
	"github.com/usagekit/tollgate/pkg/ledger"
	"github.com/usagekit/tollgate/pkg/middleware"
	"github.com/usagekit/tollgate/pkg/observability"
	"github.com/usagekit/tollgate/pkg/reservation"
)

// Server is the HTTP front end over the reservation engine.
type Server struct {
	engine  *reservation.Engine
	store   ledger.Store
	catalog *catalog.Store
	logger  *observability.Logger
	metrics *observability.Metrics
	limiter *middleware.RateLimitMiddleware
	tracing bool

	router  *mux.Router
	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithCatalog attaches the pricing catalog used to resolve feature policies.
func WithCatalog(c *catalog.Store) Option {
	return func(s *Server) { s.catalog = c }
}

// WithLogger sets the server logger.
func WithLogger(logger *observability.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics attaches Prometheus HTTP metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimiter enables per-subject request rate limiting.
func WithRateLimiter(l *middleware.RateLimitMiddleware) Option {
	return func(s *Server) { s.limiter = l }
}

// WithTracing wraps the handler in OpenTelemetry HTTP instrumentation.
func WithTracing() Option {
	return func(s *Server) { s.tracing = true }
}

// NewServer creates the API server and wires its routes and middleware.
func NewServer(engine *reservation.Engine, store ledger.Store, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		store:  store,
		logger: observability.NewLogger(observability.InfoLevel, nil),
		router: mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	s.handler = s.buildMiddleware()(s.router)
	if s.tracing {
		s.handler = otelhttp.NewHandler(s.handler, "tollgate")
	}
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/v1/reserve", s.handleReserve).Methods("POST")
	s.router.HandleFunc("/v1/ledgers/{scope}/{subject}", s.handleGetLedger).Methods("GET")
	s.router.HandleFunc("/v1/ledgers/{scope}/{subject}/topup", s.handleTopUp).Methods("POST")
}

func (s *Server) buildMiddleware() func(http.Handler) http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(1 << 20),
		httputil.TimeoutMiddleware(30 * time.Second),
	}
	if s.metrics != nil {
		middlewares = append(middlewares, observability.HTTPMetricsMiddleware(s.metrics))
	}
	if s.limiter != nil {
		middlewares = append(middlewares, s.limiter.Handler)
	}
	return httputil.Chain(middlewares...)
}

// ServeHTTP implements http.Handler, running the full middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}
