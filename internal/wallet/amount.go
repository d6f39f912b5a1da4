package wallet

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	MinTopup = decimal.NewFromInt(1)
	MaxTopup = decimal.NewFromInt(2000)

	ErrAmountRange = errors.New("amount must be between 1 and 2000")
)

var hundred = decimal.NewFromInt(100)

// TopupCents validates a top-up amount given in currency units and converts it to cents.
func TopupCents(amount decimal.Decimal) (int64, error) {
	if amount.LessThan(MinTopup) || amount.GreaterThan(MaxTopup) {
		return 0, ErrAmountRange
	}
	return ToCents(amount), nil
}

// ToCents rounds a currency-unit amount to minor units.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FormatCents renders minor units as "12.34".
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
