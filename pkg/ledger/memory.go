package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Memory is an in-process Store backed by maps. It is the store of choice
// for tests and for embedding the engine directly into a host application.
type Memory struct {
	mu      sync.Mutex
	records map[string]map[string]decimal.Decimal
	locks   map[string]*sync.Mutex
}

// NewMemory creates an empty in-memory ledger store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]map[string]decimal.Decimal),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Snapshot returns a copy of the record; unknown keys read as empty records.
func (m *Memory) Snapshot(_ context.Context, key string) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := make(map[string]decimal.Decimal, len(m.records[key]))
	for field, v := range m.records[key] {
		snap[field] = v
	}
	return snap, nil
}

// ApplyDelta adds delta to the field under the store mutex and returns the
// new value. Missing fields start at zero.
func (m *Memory) ApplyDelta(_ context.Context, key, field string, delta decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.records[key]
	if rec == nil {
		rec = make(map[string]decimal.Decimal)
		m.records[key] = rec
	}
	next := rec[field].Add(delta)
	rec[field] = next
	return next, nil
}

// RemoveField deletes a field; removing an absent field is a no-op.
func (m *Memory) RemoveField(_ context.Context, key, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec := m.records[key]; rec != nil {
		delete(rec, field)
	}
	return nil
}

// Lock serializes callers per ledger key with a lazily created mutex.
func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	lock := m.locks[key]
	if lock == nil {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	return lock.Unlock, nil
}
