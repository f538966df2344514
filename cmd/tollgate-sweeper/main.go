package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/usagekit/tollgate/pkg/async"
	"github.com/usagekit/tollgate/pkg/catalog"
	"github.com/usagekit/tollgate/pkg/ledger"
	"github.com/usagekit/tollgate/pkg/sweeper"
)

var (
	redisURL      = flag.String("redis-url", getEnv("TOLLGATE_REDIS_URL", "redis://localhost:6379/0"), "Redis connection URL for the ledger store")
	grantsPath    = flag.String("grants-path", getEnv("TOLLGATE_GRANTS_PATH", "/etc/tollgate/grants.yaml"), "Path to the grant schedule file")
	sweepSchedule = flag.String("schedule", "*/5 * * * *", "Cron schedule for grant expiry sweeps (default: every 5 minutes)")
	runOnce       = flag.Bool("run-once", false, "Run one sweep and exit (for testing or manual cleanup)")
	concurrency   = flag.Int("concurrency", 4, "Number of grant removals to run in parallel")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	// Connect to redis
	opts, err := redis.ParseURL(*redisURL)
	if err != nil {
		log.Fatalf("Invalid redis URL: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	store := ledger.NewRedis(client)

	// The schedule file is re-read on every sweep so updated grants are
	// picked up without a restart.
	grants := func() ([]catalog.Grant, error) {
		return catalog.LoadGrants(*grantsPath)
	}
	sw := sweeper.New(store, grants, logger).WithConcurrency(*concurrency)

	// Run once mode (for testing or manual cleanup)
	if *runOnce {
		res, err := sw.Sweep(context.Background())
		if err != nil {
			log.Fatalf("Sweep failed: %v", err)
		}
		log.Printf("Sweep completed: %d checked, %d expired, %d failed", res.Checked, res.Expired, res.Failed)
		if res.Failed > 0 {
			os.Exit(1)
		}
		return
	}

	// Scheduled mode. Each run is detached with a hard timeout so a wedged
	// redis connection or a panic in one sweep never takes down the schedule.
	c := cron.New()
	_, err = c.AddFunc(*sweepSchedule, func() {
		async.SafeGo(context.Background(), 10*time.Minute, "scheduled sweep", func(ctx context.Context) error {
			res, err := sw.Sweep(ctx)
			if err != nil {
				return err
			}
			log.Printf("Sweep completed: %d checked, %d expired, %d failed", res.Checked, res.Expired, res.Failed)
			return nil
		})
	})
	if err != nil {
		log.Fatalf("Failed to schedule sweep: %v", err)
	}

	c.Start()
	log.Println("Tollgate grant sweeper started")
	log.Printf("Sweep schedule: %s", *sweepSchedule)
	log.Printf("Grant schedule file: %s", *grantsPath)

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down gracefully...")

	ctx := c.Stop()
	<-ctx.Done()

	log.Println("Sweeper stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
