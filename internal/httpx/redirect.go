package httpx

import (
	"errors"
	"strings"

	"github.com/ariefcatur/esim-orders/internal/checkout"
	"github.com/ariefcatur/esim-orders/internal/gateway"
	"github.com/ariefcatur/esim-orders/internal/orders"
	"github.com/ariefcatur/esim-orders/internal/provisioning"
	"github.com/ariefcatur/esim-orders/internal/wallet"
)

// Query flags read by the frontend. The strings are part of its contract.
const (
	pathCheckout = "/checkout"
	pathOrders   = "/account/orders"
	pathWallet   = "/dashboard?tab=wallet"

	flagSuccess = "success=true"

	warnESimPending       = "warning=esim_pending"
	warnPackageNotFound   = "warning=package_not_found"
	warnESimProvisioning  = "warning=esim_provisioning"
	warnESimError         = "warning=esim_error"
	warnPaymentPending    = "warning=payment_pending"
	errMissingOrderID     = "error=missing_order_id"
	errOrderNotFound      = "error=order_not_found"
	errInvalidOrderStatus = "error=invalid_order_status"
	errCallbackFailed     = "error=callback_failed"
	errPaymentDeclined    = "error=payment_declined"

	errMissingTransaction  = "error=missing_transaction"
	errTransactionNotFound = "error=transaction_not_found"
	errInvalidStatus       = "error=invalid_status"
)

func withQuery(path, flag string) string {
	if strings.Contains(path, "?") {
		return path + "&" + flag
	}
	return path + "?" + flag
}

// orderRedirect picks where the buyer lands after the order callback.
func orderRedirect(out checkout.OrderOutcome, err error) string {
	switch {
	case errors.Is(err, checkout.ErrNotFound):
		return withQuery(pathCheckout, errOrderNotFound)
	case err != nil:
		return withQuery(pathCheckout, errCallbackFailed)
	}

	switch out.Verdict {
	case gateway.Unknown:
		if out.Order != nil && out.Order.Status == orders.StatusPending {
			return withQuery(pathOrders, warnPaymentPending)
		}
		return byOrderStatus(out)
	case gateway.Refunded:
		return withQuery(pathOrders, errInvalidOrderStatus)
	case gateway.Declined:
		if out.Applied || (out.Order != nil && out.Order.Status == orders.StatusFailed) {
			return withQuery(pathCheckout, errPaymentDeclined)
		}
		return byOrderStatus(out)
	}

	if out.Applied && out.Provisioning != nil {
		switch out.Provisioning.Status {
		case provisioning.StatusCompleted, provisioning.StatusSuperseded:
			return withQuery(pathOrders, flagSuccess)
		case provisioning.StatusNoPackage:
			return withQuery(pathOrders, warnESimPending)
		case provisioning.StatusPackageNotFound:
			return withQuery(pathOrders, warnPackageNotFound)
		case provisioning.StatusVendorError:
			return withQuery(pathOrders, warnESimError)
		default:
			return withQuery(pathOrders, warnESimProvisioning)
		}
	}
	return byOrderStatus(out)
}

func byOrderStatus(out checkout.OrderOutcome) string {
	if out.Order == nil {
		return withQuery(pathCheckout, errCallbackFailed)
	}
	switch out.Order.Status {
	case orders.StatusCompleted:
		return withQuery(pathOrders, flagSuccess)
	case orders.StatusPaid:
		// paid through the other channel, eSIM still on its way
		return withQuery(pathOrders, warnESimProvisioning)
	case orders.StatusPending:
		return withQuery(pathOrders, warnPaymentPending)
	default:
		return withQuery(pathOrders, errInvalidOrderStatus)
	}
}

// topupRedirect picks where the buyer lands after the wallet callback.
func topupRedirect(out checkout.TopupOutcome, err error) string {
	switch {
	case errors.Is(err, checkout.ErrNotFound):
		return withQuery(pathWallet, errTransactionNotFound)
	case err != nil:
		return withQuery(pathWallet, errCallbackFailed)
	}

	t := out.Transaction
	if t == nil {
		return withQuery(pathWallet, errCallbackFailed)
	}
	if out.Applied {
		if t.Status == wallet.StatusCompleted {
			return withQuery(pathWallet, "success=topup&amount="+wallet.FormatCents(t.Amount))
		}
		return withQuery(pathWallet, errPaymentDeclined)
	}
	switch t.Status {
	case wallet.StatusCompleted:
		return withQuery(pathWallet, flagSuccess)
	case wallet.StatusPending:
		return withQuery(pathWallet, warnPaymentPending)
	case wallet.StatusFailed:
		if out.Verdict == gateway.Declined {
			return withQuery(pathWallet, errPaymentDeclined)
		}
	}
	return withQuery(pathWallet, errInvalidStatus)
}
