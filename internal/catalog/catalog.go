package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ariefcatur/esim-orders/internal/esimaccess"
	"github.com/ariefcatur/esim-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("package not found")

// Package is a sellable plan resolved from the vendor catalog.
type Package struct {
	Code         string `json:"code"`
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	VendorPrice  int64  `json:"vendor_price"` // vendor unit, 1/10000
	PriceCents   int64  `json:"price_cents"`
	VolumeBytes  int64  `json:"volume_bytes"`
	DurationDays int    `json:"duration_days"`
	Location     string `json:"location"`
	Country      string `json:"country"`
	CountryName  string `json:"country_name"`
	DataAmount   string `json:"data_amount"`
	PlanName     string `json:"plan_name"`
}

type Lister interface {
	ListPackages(ctx context.Context, q esimaccess.PackageQuery) ([]esimaccess.Package, error)
}

// Catalog resolves plan references. Redis is optional.
type Catalog struct {
	Vendor Lister
	Redis  *redis.Client
	TTL    time.Duration
	Logger *slog.Logger
}

// Resolve finds a package by vendor code or slug.
func (c *Catalog) Resolve(ctx context.Context, ref string) (*Package, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrNotFound
	}
	if p, ok := c.cached(ctx, ref); ok {
		return p, nil
	}

	list, err := c.Vendor.ListPackages(ctx, esimaccess.PackageQuery{PackageCode: ref, Slug: ref})
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	for _, vp := range list {
		if vp.PackageCode == ref || vp.Slug == ref {
			p := FromVendor(vp)
			c.store(ctx, ref, p)
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (c *Catalog) cached(ctx context.Context, ref string) (*Package, bool) {
	if c.Redis == nil {
		return nil, false
	}
	b, err := c.Redis.Get(ctx, fmt.Sprintf(redisx.KeyCatalogPackage, ref)).Bytes()
	if err != nil {
		return nil, false
	}
	var p Package
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, false
	}
	return &p, true
}

func (c *Catalog) store(ctx context.Context, ref string, p *Package) {
	if c.Redis == nil {
		return
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	b, _ := json.Marshal(p)
	if err := c.Redis.Set(ctx, fmt.Sprintf(redisx.KeyCatalogPackage, ref), b, ttl).Err(); err != nil && c.Logger != nil {
		c.Logger.Warn("catalog cache set failed", "ref", ref, "err", err)
	}
}

func FromVendor(vp esimaccess.Package) *Package {
	country := PrimaryLocation(vp.Location)
	data := DataAmount(vp.Volume)
	return &Package{
		Code:         vp.PackageCode,
		Slug:         vp.Slug,
		Name:         vp.Name,
		VendorPrice:  vp.Price,
		PriceCents:   vp.PriceCents(),
		VolumeBytes:  vp.Volume,
		DurationDays: vp.Duration,
		Location:     vp.Location,
		Country:      country,
		CountryName:  CountryName(country),
		DataAmount:   data,
		PlanName:     PlanName(data, vp.Duration),
	}
}

// PrimaryLocation returns the first code of a comma separated location list.
func PrimaryLocation(loc string) string {
	first, _, _ := strings.Cut(loc, ",")
	return strings.ToUpper(strings.TrimSpace(first))
}

const gib = 1 << 30

// DataAmount renders a volume as "3GB", "1.5GB" or "500MB".
func DataAmount(bytes int64) string {
	gb := float64(bytes) / gib
	if gb >= 1 {
		gb = math.Round(gb*100) / 100
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", gb), "0"), ".") + "GB"
	}
	return fmt.Sprintf("%dMB", int64(math.Round(gb*1024)))
}

func PlanName(dataAmount string, days int) string {
	return fmt.Sprintf("%s / %d days", dataAmount, days)
}
