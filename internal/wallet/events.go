package wallet

const (
	TopicTopupCompleted = "wallet.topup.completed"
	TopicTopupFailed    = "wallet.topup.failed"

	EventTopupCompleted = "WalletTopupCompleted"
	EventTopupFailed    = "WalletTopupFailed"
)

type TopupPayload struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount"`
	Balance       int64  `json:"balance,omitempty"`
	Channel       string `json:"channel"`
}
