package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/usagekit/tollgate/pkg/money"
	"github.com/usagekit/tollgate/pkg/observability"
)

// Redis stores each ledger as a HASH whose field values are decimal strings.
// Field mutations use a WATCH/MULTI compare-and-swap on the key so that
// concurrent writers from different processes never lose updates, and the
// per-key lock is a SET NX token lock shared across instances.
type Redis struct {
	client     *redis.Client
	lockTTL    time.Duration
	lockPoll   time.Duration
	casRetries int
	metrics    *observability.Metrics
	otel       *observability.OTelMetrics
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithLockTTL overrides how long a ledger lock may be held before it
// self-expires. The TTL bounds damage from a crashed holder.
func WithLockTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.lockTTL = ttl }
}

// WithCASRetries overrides how many times ApplyDelta replays its
// compare-and-swap after a concurrent modification.
func WithCASRetries(n int) RedisOption {
	return func(r *Redis) { r.casRetries = n }
}

// WithMetrics attaches ledger operation metrics.
func WithMetrics(m *observability.Metrics) RedisOption {
	return func(r *Redis) { r.metrics = m }
}

// WithOTelMetrics additionally records operations on OpenTelemetry
// instruments.
func WithOTelMetrics(m *observability.OTelMetrics) RedisOption {
	return func(r *Redis) { r.otel = m }
}

// NewRedis creates a Redis-backed ledger store.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:     client,
		lockTTL:    5 * time.Second,
		lockPoll:   10 * time.Millisecond,
		casRetries: 16,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// observe records one ledger operation when metrics are attached.
func (r *Redis) observe(ctx context.Context, op string, start time.Time, err error) {
	if r.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		r.metrics.LedgerOperationsTotal.WithLabelValues(op, status).Inc()
		r.metrics.LedgerOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	if r.otel != nil {
		r.otel.RecordLedgerOperation(ctx, op, time.Since(start), err)
	}
}

// Snapshot reads the whole hash. Absent keys return an empty record; a field
// that fails to parse is a corruption error, not a zero.
func (r *Redis) Snapshot(ctx context.Context, key string) (map[string]decimal.Decimal, error) {
	start := time.Now()
	raw, err := r.client.HGetAll(ctx, key).Result()
	r.observe(ctx, "snapshot", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: hgetall %s: %v", ErrUnavailable, key, err)
	}

	snap := make(map[string]decimal.Decimal, len(raw))
	for field, s := range raw {
		d, err := money.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("ledger: corrupt field %s.%s: %w", key, field, err)
		}
		snap[field] = d
	}
	return snap, nil
}

// ApplyDelta performs a read-modify-write on one hash field guarded by WATCH
// on the ledger key, retrying when another writer races the transaction.
func (r *Redis) ApplyDelta(ctx context.Context, key, field string, delta decimal.Decimal) (decimal.Decimal, error) {
	start := time.Now()
	var next decimal.Decimal

	txn := func(tx *redis.Tx) error {
		cur := decimal.Zero
		s, err := tx.HGet(ctx, key, field).Result()
		switch {
		case errors.Is(err, redis.Nil):
			// Missing field reads as zero.
		case err != nil:
			return err
		default:
			if cur, err = money.Parse(s); err != nil {
				return fmt.Errorf("ledger: corrupt field %s.%s: %w", key, field, err)
			}
		}

		next = cur.Add(delta)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, next.String())
			return nil
		})
		return err
	}

	for attempt := 0; attempt <= r.casRetries; attempt++ {
		err := r.client.Watch(ctx, txn, key)
		switch {
		case err == nil:
			r.observe(ctx, "apply_delta", start, nil)
			return next, nil
		case errors.Is(err, redis.TxFailedErr):
			if r.metrics != nil {
				r.metrics.LedgerCASRetriesTotal.Inc()
			}
			continue
		default:
			r.observe(ctx, "apply_delta", start, err)
			return decimal.Decimal{}, fmt.Errorf("%w: apply delta %s.%s: %v", ErrUnavailable, key, field, err)
		}
	}
	r.observe(ctx, "apply_delta", start, redis.TxFailedErr)
	return decimal.Decimal{}, fmt.Errorf("%w: apply delta %s.%s: cas retries exhausted", ErrUnavailable, key, field)
}

// RemoveField deletes one hash field.
func (r *Redis) RemoveField(ctx context.Context, key, field string) error {
	start := time.Now()
	err := r.client.HDel(ctx, key, field).Err()
	r.observe(ctx, "remove_field", start, err)
	if err != nil {
		return fmt.Errorf("%w: hdel %s.%s: %v", ErrUnavailable, key, field, err)
	}
	return nil
}

// Lock takes the distributed per-key lock, polling until the context
// expires. The release function only deletes the lock while it still holds
// its own token, so a lock that expired and was re-taken by another holder
// is left alone.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := key + ":lock"
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, r.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: lock %s: %v", ErrUnavailable, lockKey, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, lockKey, ctx.Err())
		case <-time.After(r.lockPoll):
		}
	}

	release := func() {
		// Detached context: the lock must be released even when the caller's
		// context has been canceled mid-reservation.
		ctx, cancel := context.WithTimeout(context.Background(), r.lockTTL)
		defer cancel()

		_ = r.client.Watch(ctx, func(tx *redis.Tx) error {
			held, err := tx.Get(ctx, lockKey).Result()
			if err != nil || held != token {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, lockKey)
				return nil
			})
			return err
		}, lockKey)
	}
	return release, nil
}
