// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	TOLLGATE_HOST="0.0.0.0"
//	TOLLGATE_PORT="8080"
//	TOLLGATE_HEALTH_PORT="9090"
//	TOLLGATE_READ_TIMEOUT="15s"
//	TOLLGATE_WRITE_TIMEOUT="15s"
//	TOLLGATE_SHUTDOWN_TIMEOUT="30s"
//
// Ledger settings:
//
//	TOLLGATE_REDIS_URL="redis://localhost:6379/0"
//	TOLLGATE_REDIS_POOL_SIZE="10"
//	TOLLGATE_LEDGER_LOCK_TTL="5s"
//	TOLLGATE_LEDGER_CAS_RETRIES="16"
//
// Catalog settings:
//
//	TOLLGATE_CATALOG_PATH="/etc/tollgate/catalog.yaml"
//	TOLLGATE_GRANTS_PATH="/etc/tollgate/grants.yaml"
//	TOLLGATE_CATALOG_WATCH="true"
//
// Reservation settings:
//
//	TOLLGATE_IDEMPOTENCY_CACHE_SIZE="4096"
//	TOLLGATE_IDEMPOTENCY_WINDOW="15m"
//
// Rate limit settings:
//
//	TOLLGATE_RATELIMIT_ENABLED="false"
//	TOLLGATE_RATELIMIT_REQUESTS="100"
//	TOLLGATE_RATELIMIT_WINDOW="1m"
//
// Observability settings:
//
//	TOLLGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	TOLLGATE_METRICS_ENABLED="true"
//	TOLLGATE_OTEL_ENABLED="false"
//	TOLLGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Catalog: %s\n", cfg.Catalog.Path)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/ledger: Uses Redis configuration
//   - pkg/observability: Uses observability configuration
package config
