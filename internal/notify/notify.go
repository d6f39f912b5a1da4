package notify

import (
	"context"
	"log/slog"
)

type Kind string

const (
	KindOrderPaid           Kind = "order_paid"
	KindOrderCompleted      Kind = "order_completed"
	KindProvisioningPending Kind = "provisioning_pending"
	KindTopupCompleted      Kind = "topup_completed"
)

// Message is what the mail and telegram workers render.
type Message struct {
	Kind          Kind   `json:"kind"`
	UserID        string `json:"user_id"`
	OrderID       string `json:"order_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	AmountCents   int64  `json:"amount_cents,omitempty"`
	Currency      string `json:"currency,omitempty"`
	PlanName      string `json:"plan_name,omitempty"`
	ICCID         string `json:"iccid,omitempty"`
}

// Notifier delivers fire-and-forget messages. Implementations never block the caller
// on delivery and never report errors back.
type Notifier interface {
	Notify(ctx context.Context, m Message)
}

// Log only writes the message to the log. Used when no broker is configured.
type Log struct{ Logger *slog.Logger }

func (l Log) Notify(_ context.Context, m Message) {
	l.Logger.Info("notification", "kind", m.Kind, "user_id", m.UserID, "order_id", m.OrderID, "transaction_id", m.TransactionID)
}
