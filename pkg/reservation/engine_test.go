package reservation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usagekit/tollgate/pkg/ledger"
	"github.com/usagekit/tollgate/pkg/pricing"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// seedLedger writes initial balances so tests start from a known state.
func seedLedger(t *testing.T, store ledger.Store, key string, fields map[string]string) {
	t.Helper()
	ctx := context.Background()
	for field, v := range fields {
		_, err := store.ApplyDelta(ctx, key, field, dec(v))
		require.NoError(t, err)
	}
}

func tieredPolicy() pricing.Policy {
	return pricing.Policy{
		UnitCount: decimal.NewFromInt(100),
		Tiers: []pricing.Tier{
			{UpTo: decPtr("1000"), Rate: dec("1.00")},
			{Rate: dec("0.80")},
		},
	}
}

func TestReserveCoveredByEntitlement(t *testing.T) {
	store := ledger.NewMemory()
	key := ledger.Key("user", "42")
	seedLedger(t, store, key, map[string]string{
		ledger.FieldWallet:            "100",
		ledger.EntitlementField("e1"): "500",
	})

	e := NewEngine(store)
	out, err := e.Reserve(context.Background(), Request{
		LedgerKey:      key,
		Usage:          dec("300"),
		EntitlementIDs: []string{"e1"},
		Policy:         tieredPolicy(),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.True(t, out.Cost.IsZero())
	assert.True(t, out.Consumed["e1"].Equal(dec("300")))

	snap, err := store.Snapshot(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, snap[ledger.EntitlementField("e1")].Equal(dec("200")))
	assert.True(t, snap[ledger.FieldWallet].Equal(dec("100")), "wallet untouched when fully covered")
}

func TestReserveDrainsInCallerOrder(t *testing.T) {
	store := ledger.NewMemory()
	key := ledger.Key("user", "42")
	seedLedger(t, store, key, map[string]string{
		ledger.FieldWallet:            "100",
		ledger.EntitlementField("e1"): "100",
		ledger.EntitlementField("e2"): "100",
	})

	e := NewEngine(store)
	out, err := e.Reserve(context.Background(), Request{
		LedgerKey:      key,
		Usage:          dec("150"),
		EntitlementIDs: []string{"e2", "e1"},
		Policy:         tieredPolicy(),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.True(t, out.Consumed["e2"].Equal(dec("100")), "first listed grant drained first")
	assert.True(t, out.Consumed["e1"].Equal(dec("50")))
}

func TestReserveChargesTieredOverage(t *testing.T) {
	store := ledger.NewMemory()
	key := ledger.Key("user", "42")
	seedLedger(t, store, key, map[string]string{
		ledger.FieldWallet: "100",
	})

	e := NewEngine(store)
	// 1500 uncovered: 1000 @ 1.00/100 + 500 @ 0.80/100 = 10 + 4 = 14.
	out, err := e.Reserve(context.Background(), Request{
		LedgerKey: key,
		Usage:     dec("1500"),
		Policy:    tieredPolicy(),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.True(t, out.Cost.Equal(dec("14")), "got %s", out.Cost)

	snap, err := store.Snapshot(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, snap[ledger.FieldWallet].Equal(dec("86")))
}

func TestReserveInsufficientFundsRestoresEntitlements(t *testing.T) {
	store := ledger.NewMemory()
	key := ledger.Key("user", "42")
	seedLedger(t, store, key, map[string]string{
		ledger.FieldWallet:            "5",
		ledger.EntitlementField("e1"): "200",
	})

	e := NewEngine(store)
	// 200 covered by e1, 1500 uncovered costs 14 > wallet 5.
	out, err := e.Reserve(context.Background(), Request{
		LedgerKey:      key,
		Usage:          dec("1700"),
		EntitlementIDs: []string{"e1"},
		Policy:         tieredPolicy(),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusInsufficientFunds, out.Status)
	assert.True(t, out.Cost.Equal(dec("14")), "cost reported so the caller knows the top-up size")
	assert.True(t, out.Consumed["e1"].Equal(dec("200")), "attempted consumption reported for auditing")

	snap, err := store.Snapshot(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, snap[ledger.EntitlementField("e1")].Equal(dec("200")), "entitlement fully restored")
	assert.True(t, snap[ledger.FieldWallet].Equal(dec("5")), "wallet untouched")
}

func TestReserveUnconfiguredOverageKeepsConsumption(t *testing.T) {
	store := ledger.NewMemory()
	key := ledger.Key("user", "42")
	seedLedger(t, store, key, map[string]string{
		ledger.EntitlementField("e1"): "200",
	})

	e := NewEngine(store)
	out, err := e.Reserve(context.Background(), Request{
		LedgerKey:      key,
		Usage:          dec("300"),
		EntitlementIDs: []string{"e1"},
		Policy:         pricing.Policy{},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusUnconfiguredOverage, out.Status)
	assert.True(t, out.Cost.IsZero())
	assert.True(t, out.Consumed["e1"].Equal(dec("200")))

	snap, err := store.Snapshot(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, snap[ledger.EntitlementField("e1")].IsZero(),
		"consumption stays committed on the unconfigured path")
}

func TestReserveZeroUsage(t *testing.T) {
	store := ledger.NewMemory()
	key := ledger.Key("user", "42")
	seedLedger(t, store, key, map[string]string{
		ledger.FieldWallet:            "100",
		ledger.EntitlementField("e1"): "50",
	})

	e := NewEngine(store)
	out, err := e.Reserve(context.Background(), Request{
		LedgerKey:      key,
		Usage:          decimal.Zero,
		EntitlementIDs: []string{"e1"},
		Policy:         tieredPolicy(),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.True(t, out.Cost.IsZero())
	assert.Empty(t, out.Consumed)

	snap, err := store.Snapshot(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, snap[ledger.EntitlementField("e1")].Equal(dec("50")))
	assert.True(t, snap[ledger.FieldWallet].Equal(dec("100")))
}

func TestReserveSkipsExhaustedGrants(t *testing.T) {
	store := ledger.NewMemory()
	key := ledger.Key("user", "42")
	seedLedger(t, store, key, map[string]string{
		ledger.FieldWallet:            "100",
		ledger.EntitlementField("e2"): "400",
	})

	e := NewEngine(store)
	// e1 has no balance at all; the drain moves past it.
	out, err := e.Reserve(context.Background(), Request{
		LedgerKey:      key,
		Usage:          dec("100"),
		EntitlementIDs: []string{"e1", "e2"},
		Policy:         tieredPolicy(),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	_, touched := out.Consumed["e1"]
	assert.False(t, touched)
	assert.True(t, out.Consumed["e2"].Equal(dec("100")))
}

func TestReserveInvalidRequests(t *testing.T) {
	e := NewEngine(ledger.NewMemory())
	ctx := context.Background()

	cases := map[string]Request{
		"missing ledger key": {
			Usage:  dec("10"),
			Policy: tieredPolicy(),
		},
		"negative usage": {
			LedgerKey: ledger.Key("user", "42"),
			Usage:     dec("-1"),
			Policy:    tieredPolicy(),
		},
		"negative flat rate": {
			LedgerKey: ledger.Key("user", "42"),
			Usage:     dec("10"),
			Policy:    pricing.Policy{Flat: dec("-1"), UnitCount: decimal.NewFromInt(100)},
		},
		"configured policy with zero unit count": {
			LedgerKey: ledger.Key("user", "42"),
			Usage:     dec("10"),
			Policy: pricing.Policy{
				Tiers: []pricing.Tier{{Rate: dec("1")}},
			},
		},
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.Reserve(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestReserveInvalidRequestDoesNotMutate(t *testing.T) {
	store := ledger.NewMemory()
	key := ledger.Key("user", "42")
	seedLedger(t, store, key, map[string]string{
		ledger.EntitlementField("e1"): "100",
	})

	e := NewEngine(store)
	_, err := e.Reserve(context.Background(), Request{
		LedgerKey:      key,
		Usage:          dec("-5"),
		EntitlementIDs: []string{"e1"},
		Policy:         tieredPolicy(),
	})
	require.ErrorIs(t, err, ErrInvalidRequest)

	snap, err := store.Snapshot(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, snap[ledger.EntitlementField("e1")].Equal(dec("100")))
}

func TestReserveIdempotentReplay(t *testing.T) {
	store := ledger.NewMemory()
	key := ledger.Key("user", "42")
	seedLedger(t, store, key, map[string]string{
		ledger.EntitlementField("e1"): "500",
	})

	e := NewEngine(store, WithIdempotencyWindow(16, time.Minute))
	req := Request{
		LedgerKey:      key,
		Usage:          dec("300"),
		EntitlementIDs: []string{"e1"},
		Policy:         tieredPolicy(),
		IdempotencyKey: "delivery-abc",
	}

	first, err := e.Reserve(context.Background(), req)
	require.NoError(t, err)
	second, err := e.Reserve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	snap, err := store.Snapshot(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, snap[ledger.EntitlementField("e1")].Equal(dec("200")),
		"replay must not drain twice")
}

func TestReserveConcurrentSameKeyChargesOnce(t *testing.T) {
	store := ledger.NewMemory()
	key := ledger.Key("user", "42")
	seedLedger(t, store, key, map[string]string{
		ledger.EntitlementField("e1"): "500",
	})

	e := NewEngine(store, WithIdempotencyWindow(16, time.Minute))
	req := Request{
		LedgerKey:      key,
		Usage:          dec("300"),
		EntitlementIDs: []string{"e1"},
		Policy:         tieredPolicy(),
		IdempotencyKey: "delivery-xyz",
	}

	// Concurrent deliveries of the same key serialize on the ledger lock, so
	// whichever lands second replays instead of draining again.
	const deliveries = 8
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Reserve(context.Background(), req)
			assert.NoError(t, err)
			assert.Equal(t, StatusSuccess, out.Status)
		}()
	}
	wg.Wait()

	snap, err := store.Snapshot(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, snap[ledger.EntitlementField("e1")].Equal(dec("200")),
		"one charge across all deliveries, got %s left", snap[ledger.EntitlementField("e1")])
}

func TestReserveRetryAfterRejectionIsNotReplayed(t *testing.T) {
	store := ledger.NewMemory()
	key := ledger.Key("user", "42")
	seedLedger(t, store, key, map[string]string{
		ledger.FieldWallet: "5",
	})

	e := NewEngine(store, WithIdempotencyWindow(16, time.Minute))
	req := Request{
		LedgerKey:      key,
		Usage:          dec("1500"),
		Policy:         tieredPolicy(),
		IdempotencyKey: "delivery-retry",
	}

	out, err := e.Reserve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StatusInsufficientFunds, out.Status)

	// Top up, retry the same key: the rejection must not be replayed.
	_, err = store.ApplyDelta(context.Background(), key, ledger.FieldWallet, dec("100"))
	require.NoError(t, err)

	out, err = e.Reserve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.True(t, out.Cost.Equal(dec("14")))

	snap, err := store.Snapshot(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, snap[ledger.FieldWallet].Equal(dec("91")))
}

func TestReserveConcurrentNoDoubleSpend(t *testing.T) {
	store := ledger.NewMemory()
	key := ledger.Key("user", "42")
	seedLedger(t, store, key, map[string]string{
		ledger.FieldWallet:            "1000",
		ledger.EntitlementField("e1"): "1000",
	})

	e := NewEngine(store)

	const callers = 10
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Reserve(context.Background(), Request{
				LedgerKey:      key,
				Usage:          dec("100"),
				EntitlementIDs: []string{"e1"},
				Policy:         tieredPolicy(),
			})
			assert.NoError(t, err)
			assert.Equal(t, StatusSuccess, out.Status)
		}()
	}
	wg.Wait()

	snap, err := store.Snapshot(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, snap[ledger.EntitlementField("e1")].IsZero(),
		"exactly 1000 units drained, got %s left", snap[ledger.EntitlementField("e1")])
	assert.True(t, snap[ledger.FieldWallet].Equal(dec("1000")),
		"all usage covered by the grant, wallet untouched")
}

func TestOutcomeTotalConsumed(t *testing.T) {
	out := Outcome{Consumed: map[string]decimal.Decimal{
		"e1": dec("100"),
		"e2": dec("50.5"),
	}}
	assert.True(t, out.TotalConsumed().Equal(dec("150.5")))
}
