// Package sweeper removes expired entitlement grants from ledgers. It runs
// out of band from the reservation path, either once or on a cron schedule,
// so expired balances stop being drainable without touching request latency.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/usagekit/tollgate/pkg/async"
	"github.com/usagekit/tollgate/pkg/catalog"
	"github.com/usagekit/tollgate/pkg/ledger"
	"github.com/usagekit/tollgate/pkg/observability"
)

// Sweeper deletes expired grant fields from the ledger store.
type Sweeper struct {
	store       ledger.Store
	grants      func() ([]catalog.Grant, error)
	now         func() time.Time
	log         *logrus.Logger
	metrics     *observability.Metrics
	concurrency int
}

// New creates a sweeper. grants is called at the start of every sweep so a
// refreshed schedule file is picked up without restarting.
func New(store ledger.Store, grants func() ([]catalog.Grant, error), log *logrus.Logger) *Sweeper {
	if log == nil {
		log = logrus.New()
	}
	return &Sweeper{
		store:       store,
		grants:      grants,
		now:         time.Now,
		log:         log,
		concurrency: 1,
	}
}

// WithMetrics attaches sweep metrics.
func (s *Sweeper) WithMetrics(m *observability.Metrics) *Sweeper {
	s.metrics = m
	return s
}

// WithConcurrency sets how many grant removals run in parallel per sweep.
func (s *Sweeper) WithConcurrency(n int) *Sweeper {
	if n > 0 {
		s.concurrency = n
	}
	return s
}

// Result summarizes one sweep run.
type Result struct {
	Checked int
	Expired int
	Failed  int
}

// Sweep removes every grant whose expiry has passed. A ledger whose grant
// field no longer exists is fine; removal is idempotent. Individual removal
// failures are logged and counted but do not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	grants, err := s.grants()
	if err != nil {
		if s.metrics != nil {
			s.metrics.SweepsTotal.WithLabelValues("error").Inc()
		}
		return Result{}, err
	}

	now := s.now()
	var res Result
	var expired []catalog.Grant
	for _, g := range grants {
		res.Checked++
		if g.ExpiresAt.After(now) {
			continue
		}
		expired = append(expired, g)
	}

	var mu sync.Mutex
	remove := func(ctx context.Context, g catalog.Grant) error {
		field := ledger.EntitlementField(g.EntitlementID)

		// The per-key lock keeps a removal from landing inside a running
		// reservation; a decrement applied after the field vanished would
		// recreate the grant with a negative balance.
		release, err := s.store.Lock(ctx, g.LedgerKey)
		if err != nil {
			mu.Lock()
			res.Failed++
			mu.Unlock()
			s.log.WithFields(logrus.Fields{
				"ledger":      g.LedgerKey,
				"entitlement": g.EntitlementID,
			}).Warnf("failed to lock ledger for grant removal: %v", err)
			return nil
		}
		err = s.store.RemoveField(ctx, g.LedgerKey, field)
		release()
		if err != nil {
			mu.Lock()
			res.Failed++
			mu.Unlock()
			s.log.WithFields(logrus.Fields{
				"ledger":      g.LedgerKey,
				"entitlement": g.EntitlementID,
			}).Warnf("failed to remove expired grant: %v", err)
			return nil
		}

		mu.Lock()
		res.Expired++
		mu.Unlock()
		s.log.WithFields(logrus.Fields{
			"ledger":      g.LedgerKey,
			"entitlement": g.EntitlementID,
			"expired_at":  g.ExpiresAt.Format(time.RFC3339),
		}).Info("removed expired grant")
		if s.metrics != nil {
			s.metrics.GrantsExpiredTotal.Inc()
		}
		return nil
	}

	if s.concurrency > 1 {
		async.Batch(ctx, expired, s.concurrency, "grant removal", 30*time.Second, remove)
	} else {
		for _, g := range expired {
			remove(ctx, g)
		}
	}

	if s.metrics != nil {
		s.metrics.SweepsTotal.WithLabelValues("success").Inc()
	}
	return res, nil
}
