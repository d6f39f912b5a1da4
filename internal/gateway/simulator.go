package gateway

import (
	"context"
	"net/url"
)

// Simulator skips the hosted page and sends the buyer straight back to the success URL
// flagged with dummy=true. Used when no gateway credentials are configured.
type Simulator struct{}

func (Simulator) CreateCheckout(_ context.Context, req CheckoutRequest) (string, error) {
	target := req.SuccessReturnURL
	if target == "" {
		target = req.ReturnURL
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("dummy", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
