package reservation

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/usagekit/tollgate/pkg/pricing"
)

// Status classifies the business outcome of a reservation. Outcomes are
// returned values, never errors: callers branch on status.
type Status string

const (
	// StatusSuccess: the full usage was funded, by entitlements, wallet, or
	// both, and the ledger mutation is committed.
	StatusSuccess Status = "success"

	// StatusInsufficientFunds: the wallet could not cover the computed
	// overage cost. All entitlement consumption was compensated before
	// returning; the ledger is exactly as it was.
	StatusInsufficientFunds Status = "insufficient_funds"

	// StatusUnconfiguredOverage: usage remained after entitlement
	// exhaustion and no pricing policy resolves a rate. Entitlement
	// consumption already applied stays committed on this path.
	StatusUnconfiguredOverage Status = "unconfigured_overage"
)

// ErrInvalidRequest flags malformed input rejected before any mutation.
var ErrInvalidRequest = errors.New("reservation: invalid request")

// Request is a single-shot attempt to charge a usage amount against one
// ledger. EntitlementIDs carries the caller's drain priority, typically
// earliest-expiring-first, but that is the resolver's call, not ours.
type Request struct {
	LedgerKey      string
	Usage          decimal.Decimal
	EntitlementIDs []string
	Policy         pricing.Policy

	// IdempotencyKey, when set, dedupes retried deliveries: a repeated key
	// replays the recorded outcome instead of charging again.
	IdempotencyKey string
}

// Outcome reports what a reservation did. For StatusInsufficientFunds the
// Consumed map describes consumption that was attempted and then rolled
// back, kept for caller-side auditing; Cost is the amount the wallet would
// have needed ("top up $X to proceed").
type Outcome struct {
	Status   Status
	Cost     decimal.Decimal
	Consumed map[string]decimal.Decimal
}

// TotalConsumed sums the per-entitlement consumption.
func (o Outcome) TotalConsumed() decimal.Decimal {
	total := decimal.Zero
	for _, v := range o.Consumed {
		total = total.Add(v)
	}
	return total
}
