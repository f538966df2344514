package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

// CatalogInfo reports the state of the active pricing catalog: how many
// features it carries and when it was last loaded. Supplied as a callback so
// the health checker does not depend on the catalog package.
type CatalogInfo func() (features int, loadedAt time.Time)

// HealthChecker provides health check functionality
type HealthChecker struct {
	redis   *redis.Client
	catalog CatalogInfo

	// A catalog that has not reloaded within this window is still served,
	// but readiness reports it degraded. Zero disables the staleness check.
	catalogMaxAge time.Duration
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(redis *redis.Client, catalog CatalogInfo) *HealthChecker {
	return &HealthChecker{
		redis:   redis,
		catalog: catalog,
	}
}

// WithCatalogMaxAge enables the catalog staleness check.
func (h *HealthChecker) WithCatalogMaxAge(maxAge time.Duration) *HealthChecker {
	h.catalogMaxAge = maxAge
	return h
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns a simple liveness probe (always returns 200 if server is running)
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns a readiness probe (checks all dependencies)
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")

	// Return 503 if unhealthy, 200 if healthy or degraded
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(status)
}

// Check performs a comprehensive health check
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      "1.0.0",
		Dependencies: make(map[string]DependencyStatus),
	}

	// Redis holds the shadow ledgers; without it nothing can be reserved.
	if h.redis != nil {
		redisStatus := h.checkRedis(ctx)
		status.Dependencies["redis"] = redisStatus
		if redisStatus.Status == StatusUnhealthy {
			status.Status = StatusUnhealthy
		}
	}

	// The catalog serves from memory, so a stale or empty catalog degrades
	// rather than fails readiness.
	if h.catalog != nil {
		catalogStatus := h.checkCatalog()
		status.Dependencies["catalog"] = catalogStatus
		if catalogStatus.Status == StatusDegraded && status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

// checkRedis checks Redis health
func (h *HealthChecker) checkRedis(ctx context.Context) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}

	err := h.redis.Ping(ctx).Err()
	status.Latency = time.Since(start)

	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}
	return status
}

// checkCatalog checks the active pricing catalog
func (h *HealthChecker) checkCatalog() DependencyStatus {
	status := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}

	features, loadedAt := h.catalog()
	if features == 0 {
		status.Status = StatusDegraded
		status.Message = "catalog has no features"
		return status
	}
	if h.catalogMaxAge > 0 && time.Since(loadedAt) > h.catalogMaxAge {
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("catalog last loaded %s ago", time.Since(loadedAt).Round(time.Second))
	}
	return status
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/healthz", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
