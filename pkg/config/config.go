package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/usagekit/tollgate/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Redis / ledger configuration
	Ledger LedgerConfig

	// Pricing catalog configuration
	Catalog CatalogConfig

	// Reservation engine configuration
	Reservation ReservationConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// LedgerConfig holds the Redis connection settings for the shadow ledger
type LedgerConfig struct {
	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// Per-ledger lock behavior
	LockTTL    time.Duration
	CASRetries int
}

// CatalogConfig holds the pricing catalog and grant schedule file locations
type CatalogConfig struct {
	Path       string
	GrantsPath string
	Watch      bool
}

// ReservationConfig holds engine tuning
type ReservationConfig struct {
	IdempotencyCacheSize int
	IdempotencyWindow    time.Duration
}

// RateLimitConfig holds per-subject request rate limiting
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int64
	Window            time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Ledger:        loadLedgerConfig(),
		Catalog:       loadCatalogConfig(),
		Reservation:   loadReservationConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TOLLGATE_HOST", "0.0.0.0"),
		Port:            getEnv("TOLLGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TOLLGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TOLLGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TOLLGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TOLLGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TOLLGATE_HEALTH_PORT", "9090"),
	}
}

// loadLedgerConfig loads Redis/ledger configuration from environment
func loadLedgerConfig() LedgerConfig {
	return LedgerConfig{
		RedisURL:      getEnv("TOLLGATE_REDIS_URL", "redis://localhost:6379/0"),
		RedisPassword: getEnv("TOLLGATE_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("TOLLGATE_REDIS_DB", 0),
		RedisPoolSize: getEnvInt("TOLLGATE_REDIS_POOL_SIZE", 10),
		LockTTL:       getEnvDuration("TOLLGATE_LEDGER_LOCK_TTL", 5*time.Second),
		CASRetries:    getEnvInt("TOLLGATE_LEDGER_CAS_RETRIES", 16),
	}
}

// loadCatalogConfig loads pricing catalog configuration from environment
func loadCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Path:       getEnv("TOLLGATE_CATALOG_PATH", "/etc/tollgate/catalog.yaml"),
		GrantsPath: getEnv("TOLLGATE_GRANTS_PATH", "/etc/tollgate/grants.yaml"),
		Watch:      getEnvBool("TOLLGATE_CATALOG_WATCH", true),
	}
}

// loadReservationConfig loads engine tuning from environment
func loadReservationConfig() ReservationConfig {
	return ReservationConfig{
		IdempotencyCacheSize: getEnvInt("TOLLGATE_IDEMPOTENCY_CACHE_SIZE", 4096),
		IdempotencyWindow:    getEnvDuration("TOLLGATE_IDEMPOTENCY_WINDOW", 15*time.Minute),
	}
}

// loadRateLimitConfig loads rate limiting configuration from environment
func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("TOLLGATE_RATELIMIT_ENABLED", false),
		RequestsPerWindow: getEnvInt64("TOLLGATE_RATELIMIT_REQUESTS", 100),
		Window:            getEnvDuration("TOLLGATE_RATELIMIT_WINDOW", time.Minute),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	cfg := ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("TOLLGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TOLLGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TOLLGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TOLLGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TOLLGATE_OTEL_SERVICE_NAME", "tollgate"),
		OTelServiceVersion: getEnv("TOLLGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TOLLGATE_OTEL_INSECURE", true),
	}

	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate ledger config
	if c.Ledger.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Ledger.LockTTL <= 0 {
		return fmt.Errorf("ledger lock TTL must be positive")
	}
	if c.Ledger.CASRetries < 1 {
		return fmt.Errorf("ledger CAS retries must be at least 1")
	}

	// Validate catalog config
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog path is required")
	}

	// Validate reservation config
	if c.Reservation.IdempotencyCacheSize < 1 {
		return fmt.Errorf("idempotency cache size must be at least 1")
	}
	if c.Reservation.IdempotencyWindow <= 0 {
		return fmt.Errorf("idempotency window must be positive")
	}

	// Validate rate limit config
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerWindow < 1 {
			return fmt.Errorf("rate limit requests per window must be at least 1")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
