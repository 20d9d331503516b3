package matching

import "github.com/shopspring/decimal"

var oneUnit = decimal.NewFromInt(1)

// CalculateDonation computes the round-up donation for a transaction amount.
// The base is the gap to the next whole currency unit; an already-whole
// amount uses exactly one unit, never zero. The user's multiplier is applied
// and the result rounded half-up to 2 places. Pure, no I/O.
func CalculateDonation(txAmount, multiplier decimal.Decimal) decimal.Decimal {
	abs := txAmount.Abs()
	base := abs.Ceil().Sub(abs)
	if base.IsZero() {
		base = oneUnit
	}
	return base.Mul(multiplier).Round(2)
}
