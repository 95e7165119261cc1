package orders

import "github.com/shopspring/decimal"

// AmountTolerance is the largest gap between a notified and a stored amount
// that still counts as the same charge.
var AmountTolerance = decimal.RequireFromString("0.01")

// Round2 rounds half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FormatMoney renders an amount the way the payment gateway expects it.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}
