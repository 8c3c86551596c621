// Package money is the single boundary between in-flight decimal math and
// at-rest integer cents. Rounding happens here, once, and nowhere else.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ToCents converts a decimal dollar amount to integer cents using
// round-half-up. This is the only rounding applied to monetary values;
// intermediate pricing math stays at full decimal precision.
func ToCents(d decimal.Decimal) int64 {
	// Round(0) on shopspring/decimal rounds half away from zero, which is
	// round-half-up for the non-negative amounts money flows through here.
	return d.Mul(hundred).Round(0).IntPart()
}

// FromCents converts integer cents back to a decimal dollar amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(hundred)
}

// CentsFee computes fee cents for a given cost and fee rate, rounding
// half-up exactly once.
func CentsFee(costCents int64, feeRate decimal.Decimal) int64 {
	return decimal.NewFromInt(costCents).Mul(feeRate).Round(0).IntPart()
}
