package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

var ErrBadResponse = errors.New("payment gateway: bad response")

type CheckoutRequest struct {
	ReferenceID      string
	AmountCents      int64
	Currency         string
	ReturnURL        string
	SuccessReturnURL string
	DeclineReturnURL string
	WebhookURL       string
}

// Client creates hosted checkout sessions.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey, HTTP: &http.Client{Timeout: 20 * time.Second}}
}

type paymentBody struct {
	ReferenceID      string `json:"referenceId"`
	PaymentType      string `json:"paymentType"`
	Currency         string `json:"currency"`
	Amount           string `json:"amount"`
	ReturnURL        string `json:"returnUrl"`
	SuccessReturnURL string `json:"successReturnUrl,omitempty"`
	DeclineReturnURL string `json:"declineReturnUrl,omitempty"`
	WebhookURL       string `json:"webhookUrl"`
}

// CreateCheckout returns the URL the buyer has to be sent to.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (string, error) {
	body, err := json.Marshal(paymentBody{
		ReferenceID:      req.ReferenceID,
		PaymentType:      "DEPOSIT",
		Currency:         req.Currency,
		Amount:           decimal.New(req.AmountCents, -2).StringFixed(2),
		ReturnURL:        req.ReturnURL,
		SuccessReturnURL: req.SuccessReturnURL,
		DeclineReturnURL: req.DeclineReturnURL,
		WebhookURL:       req.WebhookURL,
	})
	if err != nil {
		return "", err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(hreq)
	if err != nil {
		return "", fmt.Errorf("payment gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("%w: http %d: %s", ErrBadResponse, resp.StatusCode, truncate(raw, 200))
	}
	var out struct {
		Result struct {
			RedirectURL string `json:"redirectUrl"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Result.RedirectURL == "" {
		return "", fmt.Errorf("%w: missing redirectUrl", ErrBadResponse)
	}
	return out.Result.RedirectURL, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
