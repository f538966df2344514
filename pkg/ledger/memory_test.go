package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySnapshotEmptyRecord(t *testing.T) {
	m := NewMemory()

	snap, err := m.Snapshot(context.Background(), Key("user", "42"))
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestMemoryApplyDelta(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	key := Key("user", "42")

	v, err := m.ApplyDelta(ctx, key, FieldWallet, decimal.RequireFromString("10.5"))
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.RequireFromString("10.5")))

	v, err = m.ApplyDelta(ctx, key, FieldWallet, decimal.RequireFromString("-4"))
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.RequireFromString("6.5")))

	snap, err := m.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.True(t, snap[FieldWallet].Equal(decimal.RequireFromString("6.5")))
}

func TestMemorySnapshotIsACopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	key := Key("team", "7")

	_, err := m.ApplyDelta(ctx, key, EntitlementField("e1"), decimal.NewFromInt(100))
	require.NoError(t, err)

	snap, err := m.Snapshot(ctx, key)
	require.NoError(t, err)
	snap[EntitlementField("e1")] = decimal.Zero

	again, err := m.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.True(t, again[EntitlementField("e1")].Equal(decimal.NewFromInt(100)))
}

func TestMemoryRemoveField(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	key := Key("user", "9")

	_, err := m.ApplyDelta(ctx, key, EntitlementField("e1"), decimal.NewFromInt(5))
	require.NoError(t, err)
	require.NoError(t, m.RemoveField(ctx, key, EntitlementField("e1")))

	snap, err := m.Snapshot(ctx, key)
	require.NoError(t, err)
	_, present := snap[EntitlementField("e1")]
	assert.False(t, present)

	// Removing an absent field is fine.
	assert.NoError(t, m.RemoveField(ctx, key, EntitlementField("gone")))
}

func TestMemoryApplyDeltaConcurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	key := Key("user", "load")

	const workers = 16
	const perWorker = 100

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := m.ApplyDelta(ctx, key, FieldWallet, decimal.NewFromInt(1))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	snap, err := m.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.True(t, snap[FieldWallet].Equal(decimal.NewFromInt(workers*perWorker)),
		"lost updates: %s", snap[FieldWallet])
}

func TestMemoryLockExcludes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	key := Key("user", "lock")

	release, err := m.Lock(ctx, key)
	require.NoError(t, err)

	entered := make(chan struct{})
	go func() {
		r2, err := m.Lock(ctx, key)
		assert.NoError(t, err)
		close(entered)
		r2()
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-entered:
		t.Fatal("second locker entered while lock was held")
	default:
	}

	release()
	<-entered
}

func TestFieldHelpers(t *testing.T) {
	assert.Equal(t, "shadow_ledger:user:42", Key("user", "42"))
	assert.Equal(t, "entitlement:e1", EntitlementField("e1"))

	id, ok := IsEntitlementField("entitlement:e1")
	assert.True(t, ok)
	assert.Equal(t, "e1", id)

	_, ok = IsEntitlementField(FieldWallet)
	assert.False(t, ok)
}
