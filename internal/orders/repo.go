package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order transition")
)

type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, user_id, status, total_cents, currency, country, country_name, plan_name,
	data_amount, validity_days, package_code, COALESCE(promo_code, ''), discount_cents, external_ref,
	COALESCE(vendor_order_no, ''), created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents, &o.Currency, &o.Country, &o.CountryName,
		&o.PlanName, &o.DataAmount, &o.Validity, &o.PackageCode, &o.PromoCode, &o.Discount, &o.ExternalRef,
		&o.VendorOrderNo, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Create inserts o as PENDING. ID and ExternalRef are generated when empty.
func (r *Repo) Create(ctx context.Context, o *Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.ExternalRef == "" {
		o.ExternalRef = NewExternalRef()
	}
	o.Status = StatusPending
	var promo *string
	if o.PromoCode != "" {
		promo = &o.PromoCode
	}
	err := r.DB.QueryRow(ctx, `
		INSERT INTO orders(id, user_id, status, total_cents, currency, country, country_name, plan_name,
		                   data_amount, validity_days, package_code, promo_code, discount_cents, external_ref)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		o.ID, o.UserID, string(o.Status), o.TotalCents, o.Currency, o.Country, o.CountryName, o.PlanName,
		o.DataAmount, o.Validity, o.PackageCode, promo, o.Discount, o.ExternalRef,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
}

func (r *Repo) GetByExternalRef(ctx context.Context, ref string) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_ref=$1`, ref))
}

// Transition moves the order to `to` only while its current status is one of `from`.
// It is a single conditional UPDATE: of two racing callers exactly one sees ok=true.
func (r *Repo) Transition(ctx context.Context, id string, from []Status, to Status) (bool, error) {
	guard := make([]string, 0, len(from))
	for _, f := range from {
		if !CanTransition(f, to) {
			return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f, to)
		}
		guard = append(guard, string(f))
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=NOW()
		WHERE id=$1 AND status = ANY($3)`, id, string(to), guard)
	if err != nil {
		return false, fmt.Errorf("transition order %s: %w", id, err)
	}
	return ct.RowsAffected() == 1, nil
}

// SetVendorOrderNo records the vendor order number once; later calls keep the first value.
func (r *Repo) SetVendorOrderNo(ctx context.Context, id, vendorOrderNo string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE orders SET vendor_order_no=$2, updated_at=NOW()
		WHERE id=$1 AND vendor_order_no IS NULL`, id, vendorOrderNo)
	return err
}

// CompleteWithESim stores the provisioned profile and moves the order PAID -> COMPLETED
// in one transaction. ok=false means the order was no longer PAID and nothing was written.
func (r *Repo) CompleteWithESim(ctx context.Context, e *ESim) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status='COMPLETED', updated_at=NOW()
		WHERE id=$1 AND status='PAID'`, e.OrderID)
	if err != nil {
		return false, fmt.Errorf("complete order: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return false, nil
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = ESimInactive
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO esims(id, order_id, user_id, iccid, qr_code, activation_code, status,
		                  data_used, data_limit, expires_at, country, country_name, plan_name)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10,$11,$12,$13)`,
		e.ID, e.OrderID, e.UserID, e.ICCID, e.QRCode, e.ActivationCode, string(e.Status),
		e.DataUsed, e.DataLimit, e.ExpiresAt, e.Country, e.CountryName, e.PlanName,
	)
	if err != nil {
		return false, fmt.Errorf("insert esim: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repo) GetESimByOrder(ctx context.Context, orderID string) (*ESim, error) {
	var e ESim
	err := r.DB.QueryRow(ctx, `
		SELECT id, order_id, user_id, iccid, qr_code, COALESCE(activation_code, ''), status,
		       data_used, data_limit, expires_at, country, country_name, plan_name,
		       is_gifted, gifted_to_email, gifted_to_name, gift_message, gifted_at, created_at
		FROM esims WHERE order_id=$1`, orderID,
	).Scan(&e.ID, &e.OrderID, &e.UserID, &e.ICCID, &e.QRCode, &e.ActivationCode, &e.Status,
		&e.DataUsed, &e.DataLimit, &e.ExpiresAt, &e.Country, &e.CountryName, &e.PlanName,
		&e.IsGifted, &e.GiftedToEmail, &e.GiftedToName, &e.GiftMessage, &e.GiftedAt, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListStalePaid returns orders that have been PAID without an eSIM for at least minAge.
func (r *Repo) ListStalePaid(ctx context.Context, minAge time.Duration, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status='PAID' AND updated_at < NOW() - make_interval(secs => $1)
		ORDER BY updated_at
		LIMIT $2`, minAge.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *Repo) ListByUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE user_id=$1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}
