package esimaccess

import (
	"strings"
	"time"
)

// Package as listed by the vendor. Price is in 1/10000 of the currency unit,
// Volume in bytes.
type Package struct {
	PackageCode  string `json:"packageCode"`
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	Price        int64  `json:"price"`
	CurrencyCode string `json:"currencyCode"`
	Volume       int64  `json:"volume"`
	Duration     int    `json:"duration"`
	DurationUnit string `json:"durationUnit"`
	Location     string `json:"location"`
	Description  string `json:"description"`
}

// PriceCents converts the vendor price unit to minor units.
func (p Package) PriceCents() int64 {
	return (p.Price + 50) / 100
}

type Profile struct {
	ICCID       string `json:"iccid"`
	QRCodeURL   string `json:"qrCodeUrl"`
	AC          string `json:"ac"`
	TotalVolume int64  `json:"totalVolume"`
	ExpiredTime string `json:"expiredTime"`
	EsimStatus  string `json:"esimStatus"`
}

var expiryLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ExpiresAt parses ExpiredTime; nil when absent or unparseable.
func (p Profile) ExpiresAt() *time.Time {
	s := strings.TrimSpace(p.ExpiredTime)
	if s == "" {
		return nil
	}
	for _, l := range expiryLayouts {
		if t, err := time.Parse(l, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
