package httpx

import (
	"errors"
	"testing"

	"github.com/ariefcatur/esim-orders/internal/checkout"
	"github.com/ariefcatur/esim-orders/internal/gateway"
	"github.com/ariefcatur/esim-orders/internal/orders"
	"github.com/ariefcatur/esim-orders/internal/provisioning"
	"github.com/ariefcatur/esim-orders/internal/wallet"
	"github.com/stretchr/testify/assert"
)

func order(s orders.Status) *orders.Order { return &orders.Order{ID: "o1", Status: s} }

func TestOrderRedirect(t *testing.T) {
	prov := func(s provisioning.Status) *provisioning.Result { return &provisioning.Result{Status: s} }

	cases := []struct {
		name string
		out  checkout.OrderOutcome
		err  error
		want string
	}{
		{"not found", checkout.OrderOutcome{}, checkout.ErrNotFound, "/checkout?error=order_not_found"},
		{"store error", checkout.OrderOutcome{}, errors.New("boom"), "/checkout?error=callback_failed"},
		{"provisioned", checkout.OrderOutcome{Order: order(orders.StatusCompleted), Verdict: gateway.Approved, Applied: true,
			Provisioning: prov(provisioning.StatusCompleted)}, nil, "/account/orders?success=true"},
		{"superseded", checkout.OrderOutcome{Order: order(orders.StatusPaid), Verdict: gateway.Approved, Applied: true,
			Provisioning: prov(provisioning.StatusSuperseded)}, nil, "/account/orders?success=true"},
		{"still polling", checkout.OrderOutcome{Order: order(orders.StatusPaid), Verdict: gateway.Approved, Applied: true,
			Provisioning: prov(provisioning.StatusPending)}, nil, "/account/orders?warning=esim_provisioning"},
		{"no package", checkout.OrderOutcome{Order: order(orders.StatusPaid), Verdict: gateway.Approved, Applied: true,
			Provisioning: prov(provisioning.StatusNoPackage)}, nil, "/account/orders?warning=esim_pending"},
		{"package gone", checkout.OrderOutcome{Order: order(orders.StatusPaid), Verdict: gateway.Approved, Applied: true,
			Provisioning: prov(provisioning.StatusPackageNotFound)}, nil, "/account/orders?warning=package_not_found"},
		{"vendor error", checkout.OrderOutcome{Order: order(orders.StatusPaid), Verdict: gateway.Approved, Applied: true,
			Provisioning: prov(provisioning.StatusVendorError)}, nil, "/account/orders?warning=esim_error"},
		{"declined", checkout.OrderOutcome{Order: order(orders.StatusFailed), Verdict: gateway.Declined, Applied: true},
			nil, "/checkout?error=payment_declined"},
		{"declined after paid", checkout.OrderOutcome{Order: order(orders.StatusPaid), Verdict: gateway.Declined, Duplicate: true},
			nil, "/account/orders?warning=esim_provisioning"},
		{"duplicate completed", checkout.OrderOutcome{Order: order(orders.StatusCompleted), Verdict: gateway.Approved, Duplicate: true},
			nil, "/account/orders?success=true"},
		{"unknown while pending", checkout.OrderOutcome{Order: order(orders.StatusPending), Verdict: gateway.Unknown, Ignored: true},
			nil, "/account/orders?warning=payment_pending"},
		{"refunded", checkout.OrderOutcome{Order: order(orders.StatusRefunded), Verdict: gateway.Refunded, Duplicate: true},
			nil, "/account/orders?error=invalid_order_status"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, orderRedirect(tc.out, tc.err))
		})
	}
}

func TestTopupRedirect(t *testing.T) {
	tx := func(s wallet.Status) *wallet.Transaction {
		return &wallet.Transaction{ID: "t1", Amount: 2550, Status: s}
	}

	cases := []struct {
		name string
		out  checkout.TopupOutcome
		err  error
		want string
	}{
		{"credited", checkout.TopupOutcome{Transaction: tx(wallet.StatusCompleted), Verdict: gateway.Approved, Applied: true},
			nil, "/dashboard?tab=wallet&success=topup&amount=25.50"},
		{"declined", checkout.TopupOutcome{Transaction: tx(wallet.StatusFailed), Verdict: gateway.Declined, Applied: true},
			nil, "/dashboard?tab=wallet&error=payment_declined"},
		{"already credited", checkout.TopupOutcome{Transaction: tx(wallet.StatusCompleted), Verdict: gateway.Approved, Duplicate: true},
			nil, "/dashboard?tab=wallet&success=true"},
		{"pending", checkout.TopupOutcome{Transaction: tx(wallet.StatusPending), Verdict: gateway.Unknown, Ignored: true},
			nil, "/dashboard?tab=wallet&warning=payment_pending"},
		{"failed earlier", checkout.TopupOutcome{Transaction: tx(wallet.StatusFailed), Verdict: gateway.Approved, Duplicate: true},
			nil, "/dashboard?tab=wallet&error=invalid_status"},
		{"missing", checkout.TopupOutcome{}, checkout.ErrNotFound, "/dashboard?tab=wallet&error=transaction_not_found"},
		{"store error", checkout.TopupOutcome{}, errors.New("boom"), "/dashboard?tab=wallet&error=callback_failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, topupRedirect(tc.out, tc.err))
		})
	}
}
