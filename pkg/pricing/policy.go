package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tier is one usage band of a graduated price schedule. A nil UpTo means the
// band is unbounded. Rate is the price charged per UnitCount units consumed
// inside the band.
type Tier struct {
	UpTo *decimal.Decimal `json:"up_to,omitempty"`
	Rate decimal.Decimal  `json:"rate"`
}

// Policy describes how uncovered usage is priced. Exactly one mode applies
// per calculation: when Tiers is non-empty it wins, otherwise a positive
// Flat amount is charged per UnitCount units. A policy with neither is
// unconfigured: overage against it cannot be priced.
type Policy struct {
	Flat      decimal.Decimal `json:"flat_amount"`
	UnitCount decimal.Decimal `json:"unit_count"`
	Tiers     []Tier          `json:"tiers,omitempty"`
}

// Configured reports whether the policy can price overage at all.
func (p Policy) Configured() bool {
	return len(p.Tiers) > 0 || p.Flat.IsPositive()
}

// Validate rejects policies that would produce undefined results: a
// configured policy needs a positive unit count, and rates, bounds and the
// flat amount must be non-negative.
func (p Policy) Validate() error {
	if p.Flat.Sign() < 0 {
		return fmt.Errorf("pricing: negative flat amount %s", p.Flat)
	}
	for i, t := range p.Tiers {
		if t.Rate.Sign() < 0 {
			return fmt.Errorf("pricing: tier %d has negative rate %s", i, t.Rate)
		}
		if t.UpTo != nil && t.UpTo.Sign() <= 0 {
			return fmt.Errorf("pricing: tier %d has non-positive bound %s", i, t.UpTo)
		}
	}
	if p.Configured() && p.UnitCount.Sign() <= 0 {
		return fmt.Errorf("pricing: unit count must be positive, got %s", p.UnitCount)
	}
	return nil
}

// Cost prices the given usage under this policy. Unconfigured policies and
// non-positive usage cost zero.
func (p Policy) Cost(usage decimal.Decimal) decimal.Decimal {
	if usage.Sign() <= 0 {
		return decimal.Zero
	}
	if len(p.Tiers) > 0 {
		return TieredCost(usage, p.Tiers, p.UnitCount)
	}
	if p.Flat.IsPositive() {
		if p.UnitCount.Sign() <= 0 {
			return decimal.Zero
		}
		return usage.Div(p.UnitCount).Mul(p.Flat)
	}
	return decimal.Zero
}
