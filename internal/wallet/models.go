package wallet

import "time"

type Type string

const (
	TypeTopup      Type = "TOPUP"
	TypePurchase   Type = "PURCHASE"
	TypeRefund     Type = "REFUND"
	TypeAdjustment Type = "ADJUSTMENT"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Transaction is one ledger entry. Amount is in minor units; its sign on the balance
// comes from Type (see Effect). Balance is only meaningful once COMPLETED.
type Transaction struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Type        Type       `json:"type"`
	Amount      int64      `json:"amount"`
	Balance     int64      `json:"balance"`
	Status      Status     `json:"status"`
	ReferenceID string     `json:"reference_id"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Effect is the signed change a transaction of type t applies to the balance.
func Effect(t Type, amount int64) int64 {
	switch t {
	case TypePurchase:
		if amount > 0 {
			return -amount
		}
		return amount
	case TypeAdjustment:
		return amount
	default:
		if amount < 0 {
			return -amount
		}
		return amount
	}
}
