package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound          = errors.New("wallet transaction not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrInsufficientFunds = errors.New("insufficient credits")
)

type Repo struct{ DB *pgxpool.Pool }

const txColumns = `id, user_id, type, amount, balance, status, reference_id, description, created_at, completed_at`

func scanTx(row pgx.Row) (*Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Balance, &t.Status,
		&t.ReferenceID, &t.Description, &t.CreatedAt, &t.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreatePending inserts t as PENDING with the user's current credits as its balance snapshot.
func (r *Repo) CreatePending(ctx context.Context, t *Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.ReferenceID == "" {
		t.ReferenceID = NewReference()
	}
	t.Status = StatusPending
	err := r.DB.QueryRow(ctx, `
		INSERT INTO wallet_transactions(id, user_id, type, amount, balance, status, reference_id, description)
		SELECT $1, u.id, $3, $4, u.credits, $5, $6, $7 FROM users u WHERE u.id=$2
		RETURNING balance, created_at`,
		t.ID, t.UserID, string(t.Type), t.Amount, string(t.Status), t.ReferenceID, t.Description,
	).Scan(&t.Balance, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("insert wallet tx: %w", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Transaction, error) {
	return scanTx(r.DB.QueryRow(ctx, `SELECT `+txColumns+` FROM wallet_transactions WHERE id=$1`, id))
}

func (r *Repo) GetByReference(ctx context.Context, ref string) (*Transaction, error) {
	return scanTx(r.DB.QueryRow(ctx, `SELECT `+txColumns+` FROM wallet_transactions WHERE reference_id=$1`, ref))
}

// Complete applies a PENDING transaction to the user's credits. The status flip, the
// credits update and the balance snapshot commit together. ok=false means the
// transaction was not PENDING any more and nothing changed.
func (r *Repo) Complete(ctx context.Context, id string) (newBalance int64, ok bool, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		userID string
		typ    Type
		amount int64
	)
	err = tx.QueryRow(ctx, `
		UPDATE wallet_transactions SET status='COMPLETED'
		WHERE id=$1 AND status='PENDING'
		RETURNING user_id, type, amount`, id,
	).Scan(&userID, &typ, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("complete wallet tx: %w", err)
	}

	// the users row lock serializes concurrent completions for the same user
	err = tx.QueryRow(ctx, `
		UPDATE users SET credits = credits + $2, updated_at=NOW()
		WHERE id=$1 AND credits + $2 >= 0
		RETURNING credits`, userID, Effect(typ, amount),
	).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, ErrInsufficientFunds
	}
	if err != nil {
		return 0, false, fmt.Errorf("update credits: %w", err)
	}

	// stamped after the users lock, so completion order follows balance order;
	// NOW() would be the transaction start
	if _, err := tx.Exec(ctx, `
		UPDATE wallet_transactions SET balance=$2, completed_at=clock_timestamp()
		WHERE id=$1`, id, newBalance); err != nil {
		return 0, false, fmt.Errorf("snapshot balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, false, err
	}
	return newBalance, true, nil
}

// Fail moves a PENDING transaction to FAILED. Credits are never touched.
func (r *Repo) Fail(ctx context.Context, id string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE wallet_transactions SET status='FAILED'
		WHERE id=$1 AND status='PENDING'`, id)
	if err != nil {
		return false, fmt.Errorf("fail wallet tx: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) Balance(ctx context.Context, userID string) (int64, error) {
	var credits int64
	err := r.DB.QueryRow(ctx, `SELECT credits FROM users WHERE id=$1`, userID).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	return credits, err
}

func (r *Repo) List(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM wallet_transactions WHERE user_id=$1 ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// VerifyBalance checks users.credits against the replayed ledger and the latest snapshot.
func (r *Repo) VerifyBalance(ctx context.Context, userID string) (credits, replayed int64, ok bool, err error) {
	credits, err = r.Balance(ctx, userID)
	if err != nil {
		return 0, 0, false, err
	}
	txs, err := r.List(ctx, userID, 0)
	if err != nil {
		return 0, 0, false, err
	}
	replayed = Replay(txs)
	ok = credits == replayed
	if last, found := LastCompleted(txs); found && last.Balance != credits {
		ok = false
	}
	return credits, replayed, ok, nil
}

// NewReference returns the gateway reference id for a new wallet transaction.
func NewReference() string {
	return "WLT-" + uuid.NewString()
}
