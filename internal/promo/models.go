package promo

import (
	"strings"
	"time"
)

type Code struct {
	Code            string     `json:"code"`
	DiscountPercent int        `json:"discount_percent"`
	Active          bool       `json:"active"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
	MaxUses         *int       `json:"max_uses,omitempty"`
	UsedCount       int        `json:"used_count"`
}

// Normalize trims and upper-cases a user supplied code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Reservation is the result of a successful validation. Reserved reports whether a use
// was consumed and therefore has to be released if the order never gets paid.
type Reservation struct {
	Code     string
	Percent  int
	Discount int64
	Reserved bool
}
