package gateway

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrMalformed        = errors.New("webhook: malformed body")
	ErrMissingReference = errors.New("webhook: missing reference")
)

// Webhook is a validated gateway notification. Reference comes from referenceId,
// falling back to transactionId.
type Webhook struct {
	Reference  string
	Status     string
	ResultCode string
	Amount     decimal.NullDecimal
	Currency   string
}

type webhookBody struct {
	ReferenceID   string              `json:"referenceId"`
	TransactionID string              `json:"transactionId"`
	Status        string              `json:"status"`
	ResultCode    string              `json:"resultCode"`
	Amount        decimal.NullDecimal `json:"amount"`
	Currency      string              `json:"currency"`
}

func ParseWebhook(body []byte) (Webhook, error) {
	var b webhookBody
	if err := json.Unmarshal(body, &b); err != nil {
		return Webhook{}, ErrMalformed
	}
	ref := strings.TrimSpace(b.ReferenceID)
	if ref == "" {
		ref = strings.TrimSpace(b.TransactionID)
	}
	if ref == "" {
		return Webhook{}, ErrMissingReference
	}
	return Webhook{
		Reference:  ref,
		Status:     strings.TrimSpace(b.Status),
		ResultCode: strings.TrimSpace(b.ResultCode),
		Amount:     b.Amount,
		Currency:   b.Currency,
	}, nil
}
