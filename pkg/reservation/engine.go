// Package reservation implements the usage reservation engine: the one
// place that decides, atomically per ledger, how much of a metered request
// is covered by prepaid entitlements versus the pay-as-you-go wallet.
package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"

	"github.com/usagekit/tollgate/pkg/ledger"
	"github.com/usagekit/tollgate/pkg/observability"
)

// Engine executes reservations against a ledger store. Calls against the
// same ledger key are linearized via the store's per-key lock; calls against
// different keys run in parallel without coordination.
type Engine struct {
	store   ledger.Store
	logger  *observability.Logger
	metrics *observability.Metrics
	otel    *observability.OTelMetrics
	replays *expirable.LRU[string, Outcome]
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *observability.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics attaches reservation metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithOTelMetrics additionally records outcomes on OpenTelemetry instruments.
func WithOTelMetrics(m *observability.OTelMetrics) Option {
	return func(e *Engine) { e.otel = m }
}

// WithIdempotencyWindow sizes the replay cache for idempotency keys.
// Successful outcomes recorded inside the window are replayed for repeated
// keys; the cache is per-process, which assumes one engine instance owns a
// ledger's write path.
func WithIdempotencyWindow(size int, ttl time.Duration) Option {
	return func(e *Engine) {
		e.replays = expirable.NewLRU[string, Outcome](size, nil, ttl)
	}
}

// NewEngine creates a reservation engine over the given store.
func NewEngine(store ledger.Store, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		logger:  observability.NewLogger(observability.InfoLevel, nil),
		replays: expirable.NewLRU[string, Outcome](4096, nil, 15*time.Minute),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reserve runs one reservation transaction:
//
//  1. snapshot the ledger,
//  2. drain entitlements in the caller's order,
//  3. price whatever usage remains uncovered,
//  4. charge the wallet, or compensate the drain if it cannot pay,
//  5. return a structured outcome.
//
// No intermediate state is observable by another Reserve on the same key:
// the store's per-key lock is held for the whole sequence. Infrastructure
// failures return an error with the ledger restored to its pre-call state;
// business outcomes never come back as errors.
func (e *Engine) Reserve(ctx context.Context, req Request) (Outcome, error) {
	if err := e.validate(req); err != nil {
		return Outcome{}, err
	}

	start := time.Now()
	release, err := e.store.Lock(ctx, req.LedgerKey)
	if err != nil {
		return Outcome{}, err
	}
	defer release()
	if e.metrics != nil {
		e.metrics.LedgerLockWait.Observe(time.Since(start).Seconds())
	}
	if e.otel != nil {
		e.otel.RecordLockWait(ctx, time.Since(start))
	}

	// Replay is checked under the lock: two concurrent deliveries of the same
	// key serialize here, so the second always sees the first's record.
	if req.IdempotencyKey != "" {
		if prior, ok := e.replays.Get(req.IdempotencyKey); ok {
			e.logger.WithField("ledger", req.LedgerKey).
				WithField("idempotency_key", req.IdempotencyKey).
				Debug("replaying recorded reservation outcome")
			return prior, nil
		}
	}

	outcome, err := e.reserveLocked(ctx, req)
	if err != nil {
		return Outcome{}, err
	}

	// Only committed charges are replayable. A rejected caller who fixes the
	// cause (tops up, configures pricing) and retries the same key gets a
	// fresh attempt instead of the stale rejection.
	if req.IdempotencyKey != "" && outcome.Status == StatusSuccess {
		e.replays.Add(req.IdempotencyKey, outcome)
	}
	if e.metrics != nil {
		e.metrics.ReservationsTotal.WithLabelValues(string(outcome.Status)).Inc()
		e.metrics.ReservationDuration.Observe(time.Since(start).Seconds())
	}
	if e.otel != nil {
		e.otel.RecordReservation(ctx, string(outcome.Status), time.Since(start))
	}
	return outcome, nil
}

func (e *Engine) reserveLocked(ctx context.Context, req Request) (Outcome, error) {
	snap, err := e.store.Snapshot(ctx, req.LedgerKey)
	if err != nil {
		return Outcome{}, err
	}
	wallet := snap[ledger.FieldWallet]

	// Drain entitlements in caller order. Decrements are applied to the
	// store as we go and tracked so they can be compensated.
	consumed := make(map[string]decimal.Decimal)
	uncovered := req.Usage
	for _, id := range req.EntitlementIDs {
		if uncovered.Sign() <= 0 {
			break
		}
		balance := snap[ledger.EntitlementField(id)]
		if balance.Sign() <= 0 {
			continue
		}
		take := decimal.Min(uncovered, balance)
		if _, err := e.store.ApplyDelta(ctx, req.LedgerKey, ledger.EntitlementField(id), take.Neg()); err != nil {
			e.compensate(req.LedgerKey, consumed)
			return Outcome{}, fmt.Errorf("drain entitlement %s: %w", id, err)
		}
		consumed[id] = take
		uncovered = uncovered.Sub(take)
	}

	cost := decimal.Zero
	if uncovered.Sign() > 0 {
		if !req.Policy.Configured() {
			// Deliberately NOT compensated: partial entitlement consumption
			// stays committed on the unconfigured-overage path. Asymmetric
			// with the insufficient-funds path below; preserved behavior.
			e.logger.WithField("ledger", req.LedgerKey).
				WithField("uncovered", uncovered.String()).
				Warn("usage uncovered with no pricing configured")
			return Outcome{Status: StatusUnconfiguredOverage, Cost: decimal.Zero, Consumed: consumed}, nil
		}
		cost = req.Policy.Cost(uncovered)
	}

	if cost.Sign() > 0 {
		if wallet.Cmp(cost) < 0 {
			e.compensate(req.LedgerKey, consumed)
			return Outcome{Status: StatusInsufficientFunds, Cost: cost, Consumed: consumed}, nil
		}
		if _, err := e.store.ApplyDelta(ctx, req.LedgerKey, ledger.FieldWallet, cost.Neg()); err != nil {
			e.compensate(req.LedgerKey, consumed)
			return Outcome{}, fmt.Errorf("charge wallet: %w", err)
		}
	}

	return Outcome{Status: StatusSuccess, Cost: cost, Consumed: consumed}, nil
}

// compensate restores every recorded entitlement decrement. It runs on a
// detached context so a canceled caller cannot leave the drain half-applied,
// and it is issued while the per-key lock is still held.
func (e *Engine) compensate(key string, consumed map[string]decimal.Decimal) {
	if len(consumed) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for id, amount := range consumed {
		if _, err := e.store.ApplyDelta(ctx, key, ledger.EntitlementField(id), amount); err != nil {
			// The ledger is now short by `amount` for this grant; that needs
			// an operator, not a retry loop.
			e.logger.WithError(err).
				WithField("ledger", key).
				WithField("entitlement", id).
				WithField("amount", amount.String()).
				Error("compensation failed, ledger left inconsistent")
			if e.metrics != nil {
				e.metrics.CompensationFailures.Inc()
			}
		}
	}
}

func (e *Engine) validate(req Request) error {
	if req.LedgerKey == "" {
		return fmt.Errorf("%w: ledger key is required", ErrInvalidRequest)
	}
	if req.Usage.Sign() < 0 {
		return fmt.Errorf("%w: usage must be non-negative, got %s", ErrInvalidRequest, req.Usage)
	}
	if err := req.Policy.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}
