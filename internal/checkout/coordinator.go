package checkout

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/esim-orders/internal/catalog"
	"github.com/ariefcatur/esim-orders/internal/gateway"
	"github.com/ariefcatur/esim-orders/internal/notify"
	"github.com/ariefcatur/esim-orders/internal/orders"
	"github.com/ariefcatur/esim-orders/internal/promo"
	"github.com/ariefcatur/esim-orders/internal/provisioning"
	"github.com/ariefcatur/esim-orders/internal/wallet"
)

type OrderStore interface {
	Create(ctx context.Context, o *orders.Order) error
	Get(ctx context.Context, id string) (*orders.Order, error)
	GetByExternalRef(ctx context.Context, ref string) (*orders.Order, error)
	Transition(ctx context.Context, id string, from []orders.Status, to orders.Status) (bool, error)
}

type WalletStore interface {
	CreatePending(ctx context.Context, t *wallet.Transaction) error
	Get(ctx context.Context, id string) (*wallet.Transaction, error)
	GetByReference(ctx context.Context, ref string) (*wallet.Transaction, error)
	Complete(ctx context.Context, id string) (int64, bool, error)
	Fail(ctx context.Context, id string) (bool, error)
}

type Promos interface {
	ValidateAndReserve(ctx context.Context, code string, gross int64) (promo.Reservation, error)
	ReleaseCode(ctx context.Context, code string) error
}

type Catalog interface {
	Resolve(ctx context.Context, ref string) (*catalog.Package, error)
}

type Gateway interface {
	CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (string, error)
}

type EventPublisher interface {
	Emit(ctx context.Context, topic, key, eventType string, payload any)
}

type StatusCache interface {
	Invalidate(ctx context.Context, orderID string)
}

// Coordinator turns purchase and top-up requests into ledger records and reconciles
// the callback and webhook confirmations for them. Every state change goes through a
// conditional update, so concurrent signals for the same record resolve to one winner.
type Coordinator struct {
	Orders      OrderStore
	Wallet      WalletStore
	Promos      Promos
	Catalog     Catalog
	Gateway     Gateway
	Provisioner provisioning.Provisioner
	Events      EventPublisher
	Notifier    notify.Notifier
	Cache       StatusCache // optional
	Logger      *slog.Logger

	BaseURL  string
	Currency string
	// Simulate honours dummy=true on callbacks.
	Simulate bool

	SigningKey        string
	// SignatureOptional accepts unsigned webhooks. Never set it in production.
	SignatureOptional bool
}

// VerifyWebhook authenticates and parses a raw gateway webhook.
func (c *Coordinator) VerifyWebhook(body []byte, h http.Header) (gateway.Webhook, error) {
	const op = "verify webhook"
	sig := gateway.SignatureFromHeader(h)
	if !gateway.Verify(c.SigningKey, body, sig) {
		if !c.SignatureOptional {
			return gateway.Webhook{}, newError(ErrSignature, op, nil)
		}
		c.Logger.Warn("accepting webhook without valid signature", "has_signature", sig != "")
	}
	w, err := gateway.ParseWebhook(body)
	if err != nil {
		return gateway.Webhook{}, newError(ErrValidation, op, err)
	}
	return w, nil
}

func (c *Coordinator) verdict(ch Channel, status, resultCode string, dummy bool) gateway.Verdict {
	if dummy {
		if c.Simulate {
			return gateway.Approved
		}
		// a forged dummy flag must not confirm anything
		return gateway.Unknown
	}
	if ch == ChannelCallback {
		// the browser leg is unsigned; with a live gateway only the webhook settles a payment
		if !c.Simulate {
			return gateway.Unknown
		}
		return gateway.ClassifyRedirect(status, resultCode)
	}
	return gateway.Classify(status, resultCode)
}

func (c *Coordinator) invalidate(ctx context.Context, orderID string) {
	if c.Cache != nil {
		c.Cache.Invalidate(ctx, orderID)
	}
}

func (c *Coordinator) notify(ctx context.Context, m notify.Message) {
	if c.Notifier != nil {
		c.Notifier.Notify(ctx, m)
	}
}

func (c *Coordinator) emit(ctx context.Context, topic, key, eventType string, payload any) {
	if c.Events != nil {
		c.Events.Emit(ctx, topic, key, eventType, payload)
	}
}
