// Package pricing implements the tiered cost calculator: a pure function
// that prices a usage quantity against a graduated tier schedule, plus the
// policy type that selects between tiered and flat pricing.
package pricing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// TieredCost walks the tier schedule in ascending bound order and charges
// each slice of usage at its band's rate. Tiers may arrive in any order; a
// nil bound means unbounded and sorts last. Usage beyond the highest finite
// bound is charged at the last tier's rate; that is the schedule's terminal
// rate, not an error.
//
// A non-positive unitCount is undefined for this schedule; the function
// guards by returning zero, but callers are expected to validate first.
func TieredCost(usage decimal.Decimal, tiers []Tier, unitCount decimal.Decimal) decimal.Decimal {
	if usage.Sign() <= 0 || len(tiers) == 0 || unitCount.Sign() <= 0 {
		return decimal.Zero
	}

	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].UpTo, sorted[j].UpTo
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.LessThan(*b)
		}
	})

	cost := decimal.Zero
	remaining := usage
	previous := decimal.Zero

	for _, t := range sorted {
		span := remaining
		if t.UpTo != nil {
			span = t.UpTo.Sub(previous)
		}
		slice := decimal.Min(remaining, span)
		if slice.Sign() > 0 {
			cost = cost.Add(slice.Div(unitCount).Mul(t.Rate))
			remaining = remaining.Sub(slice)
		}
		if remaining.Sign() <= 0 {
			return cost
		}
		if t.UpTo == nil {
			break
		}
		previous = *t.UpTo
	}

	// Every tier has a finite bound and usage overran the schedule: the
	// highest tier's rate applies to the remainder.
	last := sorted[len(sorted)-1]
	return cost.Add(remaining.Div(unitCount).Mul(last.Rate))
}
