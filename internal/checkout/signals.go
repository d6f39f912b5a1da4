package checkout

import (
	"strings"

	"github.com/ariefcatur/esim-orders/internal/gateway"
	"github.com/ariefcatur/esim-orders/internal/orders"
	"github.com/ariefcatur/esim-orders/internal/provisioning"
	"github.com/ariefcatur/esim-orders/internal/wallet"
)

type Channel string

const (
	ChannelCallback Channel = "callback"
	ChannelWebhook  Channel = "webhook"
)

// OrderSignal is one payment confirmation for an order. Callbacks carry OrderID,
// webhooks carry the gateway Reference.
type OrderSignal struct {
	Channel     Channel
	OrderID     string
	Reference   string
	Status      string
	ResultCode  string
	PackageCode string
	Dummy       bool
}

type TopupSignal struct {
	Channel       Channel
	TransactionID string
	Reference     string
	Status        string
	ResultCode    string
	Dummy         bool
}

// OrderOutcome describes what a signal did. Applied means this signal won the
// transition; Duplicate means the order had already left PENDING; Ignored means the
// status was not recognised and nothing changed.
type OrderOutcome struct {
	Order        *orders.Order
	Verdict      gateway.Verdict
	Applied      bool
	Duplicate    bool
	Ignored      bool
	Provisioning *provisioning.Result
}

// ProvisioningErr reports an approved payment whose eSIM was not issued by this call.
// The order stays PAID; the error only tells the caller fulfilment is still owed.
func (o OrderOutcome) ProvisioningErr() error {
	if o.Provisioning == nil {
		return nil
	}
	switch o.Provisioning.Status {
	case provisioning.StatusCompleted, provisioning.StatusSuperseded, provisioning.StatusInProgress:
		return nil
	}
	return newError(ErrProvisioning, "provision "+strings.ToLower(string(o.Provisioning.Status)), o.Provisioning.Err)
}

type TopupOutcome struct {
	Transaction *wallet.Transaction
	Verdict     gateway.Verdict
	Applied     bool
	Duplicate   bool
	Ignored     bool
	Balance     int64
}

type PurchaseRequest struct {
	UserID     string
	PackageRef string
	PromoCode  string
}

type PurchaseResult struct {
	OrderID       string `json:"orderId"`
	ExternalRef   string `json:"externalRef"`
	RedirectURL   string `json:"redirectUrl"`
	IsDummy       bool   `json:"isDummy,omitempty"`
	TotalCents    int64  `json:"totalCents"`
	DiscountCents int64  `json:"discountCents"`
	PromoError    string `json:"promoError,omitempty"`
}

type TopupResult struct {
	TransactionID string `json:"transactionId"`
	RedirectURL   string `json:"redirectUrl"`
	IsDummy       bool   `json:"isDummy,omitempty"`
	AmountCents   int64  `json:"amountCents"`
}
