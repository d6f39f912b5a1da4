package promo

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("promo code not found")
	ErrInactive  = errors.New("promo code inactive")
	ErrExpired   = errors.New("promo code expired")
	ErrExhausted = errors.New("promo code usage limit reached")
)

type Store interface {
	Get(ctx context.Context, code string) (*Code, error)
	Reserve(ctx context.Context, code string) (bool, error)
	Release(ctx context.Context, code string) error
}

type Validator struct {
	Store Store
	Now   func() time.Time
}

func (v *Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Check reports why c cannot be redeemed right now, or nil.
func Check(c *Code, now time.Time) error {
	switch {
	case !c.Active:
		return ErrInactive
	case c.ValidUntil != nil && !c.ValidUntil.After(now):
		return ErrExpired
	case c.MaxUses != nil && c.UsedCount >= *c.MaxUses:
		return ErrExhausted
	}
	return nil
}

// ValidateAndReserve validates code against gross and consumes one use when the
// resulting discount is positive. A zero discount never consumes a use.
func (v *Validator) ValidateAndReserve(ctx context.Context, code string, gross int64) (Reservation, error) {
	code = Normalize(code)
	c, err := v.Store.Get(ctx, code)
	if err != nil {
		return Reservation{}, err
	}
	if err := Check(c, v.now()); err != nil {
		return Reservation{}, err
	}

	res := Reservation{Code: c.Code, Percent: c.DiscountPercent, Discount: Discount(gross, c.DiscountPercent)}
	if res.Discount == 0 {
		return res, nil
	}

	ok, err := v.Store.Reserve(ctx, c.Code)
	if err != nil {
		return Reservation{}, err
	}
	if !ok {
		// someone took the last use between Get and Reserve
		return Reservation{}, ErrExhausted
	}
	res.Reserved = true
	return res, nil
}

// Release undoes a reservation. It is a no-op when nothing was reserved.
func (v *Validator) Release(ctx context.Context, r Reservation) error {
	if !r.Reserved {
		return nil
	}
	return v.Store.Release(ctx, r.Code)
}

// ReleaseCode gives back one use of code. Used when only the stored order remembers the code.
func (v *Validator) ReleaseCode(ctx context.Context, code string) error {
	if code == "" {
		return nil
	}
	return v.Store.Release(ctx, code)
}
