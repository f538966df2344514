// Package money defines the decimal conventions shared by every component
// that touches balances or costs: strict parsing, non-negativity checks, and
// the fixed-precision rendering applied at output boundaries.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RenderDigits is the number of fractional digits used when rendering
// monetary amounts for external consumers. Downstream parsers rely on the
// width being stable.
const RenderDigits = 10

// Render formats an amount with exactly RenderDigits fractional digits.
// Rounding is half-even and happens only here; intermediate calculations
// keep full precision.
func Render(d decimal.Decimal) string {
	return d.StringFixedBank(RenderDigits)
}

// Parse converts a decimal string into an amount. The empty string is not a
// valid amount.
func Parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("money: empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return d, nil
}

// ParseNonNegative is Parse plus a lower-bound check. Balance fields and
// usage quantities are never negative at rest.
func ParseNonNegative(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.Sign() < 0 {
		return decimal.Decimal{}, fmt.Errorf("money: negative amount %q", s)
	}
	return d, nil
}
