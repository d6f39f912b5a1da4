package promo

import "github.com/shopspring/decimal"

// Discount returns gross*percent/100 in minor units, rounded half up and capped at gross.
func Discount(gross int64, percent int) int64 {
	if gross <= 0 || percent <= 0 {
		return 0
	}
	if percent >= 100 {
		return gross
	}
	d := decimal.NewFromInt(gross).
		Mul(decimal.NewFromInt(int64(percent))).
		Div(decimal.NewFromInt(100)).
		Round(0)
	return d.IntPart()
}

// ApplyDiscount returns the payable total, floored at zero.
func ApplyDiscount(gross, discount int64) int64 {
	if t := gross - discount; t > 0 {
		return t
	}
	return 0
}
