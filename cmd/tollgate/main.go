package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/usagekit/tollgate/pkg/api"
	"github.com/usagekit/tollgate/pkg/catalog"
	"github.com/usagekit/tollgate/pkg/config"
	"github.com/usagekit/tollgate/pkg/ledger"
	"github.com/usagekit/tollgate/pkg/middleware"
	"github.com/usagekit/tollgate/pkg/observability"
	"github.com/usagekit/tollgate/pkg/reservation"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("port", cfg.Server.Port).Info("Starting tollgate")

	// Metrics
	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// OpenTelemetry
	ctx := context.Background()
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry, continuing without tracing")
	}
	var otelMetrics *observability.OTelMetrics
	if providers != nil {
		if otelMetrics, err = observability.NewOTelMetrics(); err != nil {
			logger.WithError(err).Error("Failed to create OpenTelemetry instruments, continuing without them")
		}
	}

	// Redis connection for ledgers, locks and rate limits
	redisOpts, err := redis.ParseURL(cfg.Ledger.RedisURL)
	if err != nil {
		log.Fatalf("Invalid redis URL: %v", err)
	}
	if cfg.Ledger.RedisPassword != "" {
		redisOpts.Password = cfg.Ledger.RedisPassword
	}
	if cfg.Ledger.RedisDB != 0 {
		redisOpts.DB = cfg.Ledger.RedisDB
	}
	redisOpts.PoolSize = cfg.Ledger.RedisPoolSize
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	logger.WithField("addr", redisOpts.Addr).Info("Connected to redis")

	// Pricing catalog
	catalogStore, err := catalog.NewStore(cfg.Catalog.Path)
	if err != nil {
		log.Fatalf("Failed to load pricing catalog: %v", err)
	}
	logger.WithField("path", cfg.Catalog.Path).
		WithField("features", catalogStore.Len()).
		Info("Pricing catalog loaded")
	if metrics != nil {
		metrics.CatalogFeatures.Set(float64(catalogStore.Len()))
	}

	// Ledger store and reservation engine
	storeOpts := []ledger.RedisOption{
		ledger.WithLockTTL(cfg.Ledger.LockTTL),
		ledger.WithCASRetries(cfg.Ledger.CASRetries),
	}
	if metrics != nil {
		storeOpts = append(storeOpts, ledger.WithMetrics(metrics))
	}
	if otelMetrics != nil {
		storeOpts = append(storeOpts, ledger.WithOTelMetrics(otelMetrics))
	}
	store := ledger.NewRedis(redisClient, storeOpts...)
	engineOpts := []reservation.Option{
		reservation.WithLogger(logger),
		reservation.WithIdempotencyWindow(cfg.Reservation.IdempotencyCacheSize, cfg.Reservation.IdempotencyWindow),
	}
	if metrics != nil {
		engineOpts = append(engineOpts, reservation.WithMetrics(metrics))
	}
	if otelMetrics != nil {
		engineOpts = append(engineOpts, reservation.WithOTelMetrics(otelMetrics))
	}
	engine := reservation.NewEngine(store, engineOpts...)

	// API server
	apiOpts := []api.Option{
		api.WithCatalog(catalogStore),
		api.WithLogger(logger),
	}
	if metrics != nil {
		apiOpts = append(apiOpts, api.WithMetrics(metrics))
	}
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimitMiddleware(redisClient, &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			WindowDuration:    cfg.RateLimit.Window,
		}, logger)
		apiOpts = append(apiOpts, api.WithRateLimiter(limiter))
	}
	if cfg.Observability.OTelEnabled {
		apiOpts = append(apiOpts, api.WithTracing())
	}
	server := api.NewServer(engine, store, apiOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes
	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(redisClient, func() (int, time.Time) {
		return catalogStore.Len(), catalogStore.LoadedAt()
	})
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	// Background work: serving plus the catalog hot reload
	workCtx, cancelWork := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(workCtx)

	group.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if metrics != nil {
		group.Go(func() error {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-groupCtx.Done():
					return nil
				case <-ticker.C:
					metrics.RedisConnectionsActive.Set(float64(redisClient.PoolStats().TotalConns))
				}
			}
		})
	}
	if cfg.Catalog.Watch {
		watcher := catalog.NewWatcher(catalogStore, logger, metrics)
		if otelMetrics != nil {
			watcher = watcher.WithOTel(otelMetrics)
		}
		group.Go(func() error {
			if err := watcher.Watch(groupCtx); err != nil && err != context.Canceled {
				logger.WithError(err).Error("Catalog watcher stopped")
			}
			return nil
		})
	}

	// Graceful shutdown
	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cancelWork()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return redisClient.Close()
	})
	if providers != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
	}
	cancelWork()
	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
	logger.Info("tollgate stopped")
}
