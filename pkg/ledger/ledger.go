// Package ledger provides access to per-subject shadow ledgers: flat
// field→decimal records holding a pay-as-you-go wallet balance and the
// remaining units of each entitlement grant.
//
// A Store gives field-atomic primitives only. Range validation (never
// decrement below zero) and transaction boundaries belong to the
// reservation engine, which serializes whole reservations through the
// store's per-key lock.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Well-known ledger fields.
const (
	// FieldWallet holds the prepaid pay-as-you-go balance in currency units.
	FieldWallet = "wallet_balance"

	entitlementPrefix = "entitlement:"
)

// EntitlementField returns the ledger field tracking the remaining units of
// one entitlement grant.
func EntitlementField(id string) string {
	return entitlementPrefix + id
}

// IsEntitlementField reports whether a field belongs to the entitlement
// family, returning the grant id when it does.
func IsEntitlementField(field string) (string, bool) {
	if len(field) > len(entitlementPrefix) && field[:len(entitlementPrefix)] == entitlementPrefix {
		return field[len(entitlementPrefix):], true
	}
	return "", false
}

// Key builds the canonical ledger key for a billing subject, e.g.
// "shadow_ledger:user:42" or "shadow_ledger:team:7".
func Key(scope, id string) string {
	return "shadow_ledger:" + scope + ":" + id
}

var (
	// ErrLockNotAcquired is returned when the per-key lock cannot be taken
	// before the caller's context expires.
	ErrLockNotAcquired = errors.New("ledger: lock not acquired")

	// ErrUnavailable wraps store connectivity failures so callers can tell
	// infrastructure errors apart from business outcomes.
	ErrUnavailable = errors.New("ledger: store unavailable")
)

// Store is the ledger accessor. Records are created lazily: a key that was
// never written reads as an empty record, and missing fields read as zero.
type Store interface {
	// Snapshot returns a point-in-time copy of the record's fields.
	Snapshot(ctx context.Context, key string) (map[string]decimal.Decimal, error)

	// ApplyDelta atomically adds delta (which may be negative) to one field
	// and returns the new value. Concurrent ApplyDelta calls on the same
	// (key, field) pair never lose updates. The accessor does not reject
	// decrements below zero; callers validate range before issuing them.
	ApplyDelta(ctx context.Context, key, field string, delta decimal.Decimal) (decimal.Decimal, error)

	// RemoveField deletes a field from the record. Used by the grant
	// lifecycle collaborator when an entitlement expires; the reservation
	// engine itself never creates or removes fields.
	RemoveField(ctx context.Context, key, field string) error

	// Lock acquires an exclusive per-key critical section and returns its
	// release function. Reservations against the same key are linearized by
	// holding this lock for their full read-drain-charge sequence.
	Lock(ctx context.Context, key string) (release func(), err error)
}
