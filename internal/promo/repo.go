package promo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Get(ctx context.Context, code string) (*Code, error) {
	var c Code
	err := r.DB.QueryRow(ctx, `
		SELECT code, discount_percent, active, valid_until, max_uses, used_count
		FROM promo_codes WHERE code=$1`, code,
	).Scan(&c.Code, &c.DiscountPercent, &c.Active, &c.ValidUntil, &c.MaxUses, &c.UsedCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Reserve consumes one use. The guard lives in the WHERE clause so two callers racing
// for the last use cannot both get ok=true.
func (r *Repo) Reserve(ctx context.Context, code string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE promo_codes SET used_count = used_count + 1
		WHERE code=$1 AND active
		  AND (valid_until IS NULL OR valid_until > NOW())
		  AND (max_uses IS NULL OR used_count < max_uses)`, code)
	if err != nil {
		return false, fmt.Errorf("reserve promo %s: %w", code, err)
	}
	return ct.RowsAffected() == 1, nil
}

// Release gives back a use taken by Reserve.
func (r *Repo) Release(ctx context.Context, code string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE promo_codes SET used_count = used_count - 1
		WHERE code=$1 AND used_count > 0`, code)
	if err != nil {
		return fmt.Errorf("release promo %s: %w", code, err)
	}
	return nil
}
