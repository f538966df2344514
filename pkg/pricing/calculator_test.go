package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestTieredCostTwoBands(t *testing.T) {
	// 1500 units: 1000 at 0.01, 500 at 0.008 => 10 + 4 = 14.
	tiers := []Tier{
		{UpTo: decPtr("1000"), Rate: dec("0.01")},
		{UpTo: nil, Rate: dec("0.008")},
	}
	cost := TieredCost(dec("1500"), tiers, dec("1"))
	assert.True(t, cost.Equal(dec("14")), "got %s", cost)
}

func TestTieredCostUnsortedInput(t *testing.T) {
	tiers := []Tier{
		{UpTo: nil, Rate: dec("0.008")},
		{UpTo: decPtr("1000"), Rate: dec("0.01")},
	}
	cost := TieredCost(dec("1500"), tiers, dec("1"))
	assert.True(t, cost.Equal(dec("14")), "got %s", cost)
}

func TestTieredCostBoundaryExactness(t *testing.T) {
	// Usage exactly at a bound is charged entirely within that band.
	tiers := []Tier{
		{UpTo: decPtr("1000"), Rate: dec("0.01")},
		{UpTo: nil, Rate: dec("100")},
	}
	cost := TieredCost(dec("1000"), tiers, dec("1"))
	assert.True(t, cost.Equal(dec("10")), "got %s", cost)
}

func TestTieredCostBeyondFiniteSchedule(t *testing.T) {
	// Highest tier has a finite bound: the remainder is charged at the last
	// tier's rate rather than rejected.
	tiers := []Tier{
		{UpTo: decPtr("100"), Rate: dec("0.02")},
		{UpTo: decPtr("200"), Rate: dec("0.01")},
	}
	// 100*0.02 + 100*0.01 + 300*0.01 = 2 + 1 + 3 = 6
	cost := TieredCost(dec("500"), tiers, dec("1"))
	assert.True(t, cost.Equal(dec("6")), "got %s", cost)
}

func TestTieredCostUnitCountScaling(t *testing.T) {
	// Rate is per unit_count units.
	tiers := []Tier{{UpTo: nil, Rate: dec("1.5")}}
	cost := TieredCost(dec("3000"), tiers, dec("1000"))
	assert.True(t, cost.Equal(dec("4.5")), "got %s", cost)
}

func TestTieredCostDegenerateInputs(t *testing.T) {
	tiers := []Tier{{UpTo: nil, Rate: dec("1")}}

	assert.True(t, TieredCost(dec("0"), tiers, dec("1")).IsZero())
	assert.True(t, TieredCost(dec("10"), nil, dec("1")).IsZero())
	assert.True(t, TieredCost(dec("10"), tiers, dec("0")).IsZero())
}

func TestTieredCostMonotonic(t *testing.T) {
	tiers := []Tier{
		{UpTo: decPtr("10"), Rate: dec("0.5")},
		{UpTo: decPtr("100"), Rate: dec("0.25")},
		{UpTo: nil, Rate: dec("0.1")},
	}
	prev := decimal.Zero
	for _, u := range []string{"1", "5", "10", "11", "50", "100", "101", "1000"} {
		cost := TieredCost(dec(u), tiers, dec("1"))
		assert.True(t, cost.GreaterThanOrEqual(prev), "cost regressed at usage %s", u)
		prev = cost
	}
}

func TestPolicyCostSelectsMode(t *testing.T) {
	tiered := Policy{
		UnitCount: dec("1"),
		Flat:      dec("99"), // ignored: tiers take precedence
		Tiers:     []Tier{{UpTo: nil, Rate: dec("2")}},
	}
	assert.True(t, tiered.Cost(dec("3")).Equal(dec("6")))

	flat := Policy{UnitCount: dec("1000"), Flat: dec("0.0015")}
	assert.True(t, flat.Cost(dec("2000")).Equal(dec("0.003")))

	unconfigured := Policy{UnitCount: dec("1")}
	assert.True(t, unconfigured.Cost(dec("50")).IsZero())
	assert.False(t, unconfigured.Configured())
}

func TestPolicyCostFlatZeroUnitCount(t *testing.T) {
	// An invalid flat policy reached without Validate prices to zero instead
	// of dividing by zero.
	p := Policy{Flat: dec("2"), UnitCount: dec("0")}
	assert.NotPanics(t, func() {
		assert.True(t, p.Cost(dec("10")).IsZero())
	})
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, Policy{}.Validate())

	err := Policy{Flat: dec("1"), UnitCount: dec("0")}.Validate()
	assert.Error(t, err)

	err = Policy{
		UnitCount: dec("1"),
		Tiers:     []Tier{{UpTo: decPtr("10"), Rate: dec("-1")}},
	}.Validate()
	assert.Error(t, err)

	err = Policy{Flat: dec("-2"), UnitCount: dec("1")}.Validate()
	assert.Error(t, err)

	require.NoError(t, Policy{
		UnitCount: dec("1000"),
		Tiers: []Tier{
			{UpTo: decPtr("1000"), Rate: dec("0.01")},
			{UpTo: nil, Rate: dec("0.008")},
		},
	}.Validate())
}
