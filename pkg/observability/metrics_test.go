package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	t.Run("creates and registers all metrics", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		if metrics == nil {
			t.Fatal("NewMetrics returned nil")
		}

		// Verify HTTP metrics are initialized
		if metrics.HTTPRequestsTotal == nil {
			t.Error("HTTPRequestsTotal is nil")
		}
		if metrics.HTTPRequestDuration == nil {
			t.Error("HTTPRequestDuration is nil")
		}
		if metrics.HTTPRequestSize == nil {
			t.Error("HTTPRequestSize is nil")
		}
		if metrics.HTTPResponseSize == nil {
			t.Error("HTTPResponseSize is nil")
		}

		// Verify reservation metrics are initialized
		if metrics.ReservationsTotal == nil {
			t.Error("ReservationsTotal is nil")
		}
		if metrics.ReservationDuration == nil {
			t.Error("ReservationDuration is nil")
		}
		if metrics.LedgerLockWait == nil {
			t.Error("LedgerLockWait is nil")
		}
		if metrics.CompensationFailures == nil {
			t.Error("CompensationFailures is nil")
		}

		// Verify ledger metrics are initialized
		if metrics.LedgerOperationsTotal == nil {
			t.Error("LedgerOperationsTotal is nil")
		}
		if metrics.LedgerOperationDuration == nil {
			t.Error("LedgerOperationDuration is nil")
		}
		if metrics.LedgerCASRetriesTotal == nil {
			t.Error("LedgerCASRetriesTotal is nil")
		}

		// Verify catalog and sweeper metrics are initialized
		if metrics.CatalogReloadsTotal == nil {
			t.Error("CatalogReloadsTotal is nil")
		}
		if metrics.CatalogFeatures == nil {
			t.Error("CatalogFeatures is nil")
		}
		if metrics.SweepsTotal == nil {
			t.Error("SweepsTotal is nil")
		}
		if metrics.GrantsExpiredTotal == nil {
			t.Error("GrantsExpiredTotal is nil")
		}

		if metrics.RedisConnectionsActive == nil {
			t.Error("RedisConnectionsActive is nil")
		}
	})

	t.Run("registers metrics with the registry", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		metrics.ReservationsTotal.WithLabelValues("success").Inc()

		families, err := registry.Gather()
		if err != nil {
			t.Fatalf("Failed to gather metrics: %v", err)
		}

		found := false
		for _, f := range families {
			if f.GetName() == "tollgate_reservations_total" {
				found = true
			}
		}
		if !found {
			t.Error("tollgate_reservations_total not found in registry")
		}
	})

	t.Run("duplicate registration panics", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		NewMetrics(registry)

		defer func() {
			if r := recover(); r == nil {
				t.Error("Expected panic on duplicate registration")
			}
		}()
		NewMetrics(registry)
	})
}

func TestMetrics_ReservationMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.ReservationsTotal.WithLabelValues("success").Inc()
	metrics.ReservationsTotal.WithLabelValues("success").Inc()
	metrics.ReservationsTotal.WithLabelValues("insufficient_funds").Inc()
	metrics.ReservationDuration.Observe(0.005)
	metrics.LedgerLockWait.Observe(0.001)
	metrics.CompensationFailures.Inc()

	if got := testutil.ToFloat64(metrics.ReservationsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("Expected 2 success reservations, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.ReservationsTotal.WithLabelValues("insufficient_funds")); got != 1 {
		t.Errorf("Expected 1 insufficient_funds reservation, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.CompensationFailures); got != 1 {
		t.Errorf("Expected 1 compensation failure, got %v", got)
	}
}

func TestMetrics_LedgerMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.LedgerOperationsTotal.WithLabelValues("apply_delta", "success").Inc()
	metrics.LedgerOperationsTotal.WithLabelValues("snapshot", "error").Inc()
	metrics.LedgerOperationDuration.WithLabelValues("apply_delta").Observe(0.002)
	metrics.LedgerCASRetriesTotal.Add(3)

	if got := testutil.ToFloat64(metrics.LedgerOperationsTotal.WithLabelValues("apply_delta", "success")); got != 1 {
		t.Errorf("Expected 1 apply_delta operation, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.LedgerCASRetriesTotal); got != 3 {
		t.Errorf("Expected 3 CAS retries, got %v", got)
	}
}

func TestMetrics_CatalogAndSweeperMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.CatalogReloadsTotal.WithLabelValues("success").Inc()
	metrics.CatalogReloadsTotal.WithLabelValues("error").Inc()
	metrics.CatalogFeatures.Set(14)
	metrics.SweepsTotal.WithLabelValues("success").Inc()
	metrics.GrantsExpiredTotal.Add(5)

	if got := testutil.ToFloat64(metrics.CatalogFeatures); got != 14 {
		t.Errorf("Expected 14 catalog features, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.GrantsExpiredTotal); got != 5 {
		t.Errorf("Expected 5 expired grants, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.SweepsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 sweep, got %v", got)
	}
}

func TestResponseWriter(t *testing.T) {
	t.Run("captures status code", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

		rw.WriteHeader(http.StatusNotFound)

		if rw.statusCode != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", rw.statusCode)
		}
		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected underlying status 404, got %d", rec.Code)
		}
	})

	t.Run("accumulates bytes written", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

		rw.Write([]byte("hello "))
		rw.Write([]byte("world"))

		if rw.bytesWritten != 11 {
			t.Errorf("Expected 11 bytes written, got %d", rw.bytesWritten)
		}
		if rec.Body.String() != "hello world" {
			t.Errorf("Unexpected body: %s", rec.Body.String())
		}
	})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	t.Run("records request metrics", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		handler := HTTPMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte("created"))
		}))

		req := httptest.NewRequest("POST", "/v1/reserve", strings.NewReader(`{"usage":"100"}`))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusCreated {
			t.Errorf("Expected status 201, got %d", rr.Code)
		}

		if got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("POST", "/v1/reserve", "201")); got != 1 {
			t.Errorf("Expected 1 recorded request, got %v", got)
		}
	})

	t.Run("defaults to 200 when handler never writes a header", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		handler := HTTPMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ok"))
		}))

		req := httptest.NewRequest("GET", "/v1/ledgers/user/42", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/v1/ledgers/user/42", "200")); got != 1 {
			t.Errorf("Expected 1 recorded request with status 200, got %v", got)
		}
	})

	t.Run("observes duration", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		handler := HTTPMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(5 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/health", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		count := testutil.CollectAndCount(metrics.HTTPRequestDuration)
		if count == 0 {
			t.Error("Expected duration histogram to have observations")
		}
	})
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.ReservationsTotal.WithLabelValues("success").Inc()

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	body, err := io.ReadAll(rr.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}

	if !strings.Contains(string(body), "tollgate_reservations_total") {
		t.Error("Expected tollgate_reservations_total in metrics output")
	}
}
