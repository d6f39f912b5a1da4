package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ariefcatur/esim-orders/internal/catalog"
	"github.com/ariefcatur/esim-orders/internal/gateway"
	"github.com/ariefcatur/esim-orders/internal/notify"
	"github.com/ariefcatur/esim-orders/internal/orders"
	"github.com/ariefcatur/esim-orders/internal/promo"
	"github.com/ariefcatur/esim-orders/internal/provisioning"
)

// InitiatePurchase prices the plan, applies the promo code, records a PENDING order
// and opens a checkout session for it.
//
// A promo code that cannot be redeemed does not block the purchase: the order is
// created at full price and PromoError says why.
func (c *Coordinator) InitiatePurchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	const op = "initiate purchase"
	if req.UserID == "" {
		return nil, newError(ErrValidation, op, errors.New("user required"))
	}
	ref := strings.TrimSpace(req.PackageRef)
	if ref == "" {
		return nil, newError(ErrValidation, op, errors.New("package code or slug required"))
	}

	pkg, err := c.Catalog.Resolve(ctx, ref)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, newError(ErrNotFound, op, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res := &PurchaseResult{}
	var reservation promo.Reservation
	if code := promo.Normalize(req.PromoCode); code != "" {
		reservation, err = c.Promos.ValidateAndReserve(ctx, code, pkg.PriceCents)
		if err != nil {
			c.Logger.Info("promo code not applied", "code", code, "user_id", req.UserID, "err", err)
			res.PromoError = err.Error()
			reservation = promo.Reservation{}
		}
	}

	o := &orders.Order{
		UserID:      req.UserID,
		TotalCents:  promo.ApplyDiscount(pkg.PriceCents, reservation.Discount),
		Currency:    c.Currency,
		Country:     pkg.Country,
		CountryName: pkg.CountryName,
		PlanName:    pkg.PlanName,
		DataAmount:  pkg.DataAmount,
		Validity:    pkg.DurationDays,
		PackageCode: pkg.Code,
		Discount:    reservation.Discount,
	}
	if reservation.Reserved {
		o.PromoCode = reservation.Code
	}
	if err := c.Orders.Create(ctx, o); err != nil {
		c.releasePromo(ctx, o)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log := c.Logger.With("order_id", o.ID, "external_ref", o.ExternalRef)

	callback := c.BaseURL + "/checkout/callback?orderId=" + url.QueryEscape(o.ID) + "&packageCode=" + url.QueryEscape(pkg.Code)
	redirect, err := c.Gateway.CreateCheckout(ctx, gateway.CheckoutRequest{
		ReferenceID:      o.ExternalRef,
		AmountCents:      o.TotalCents,
		Currency:         o.Currency,
		ReturnURL:        c.BaseURL + "/account/orders",
		SuccessReturnURL: callback,
		DeclineReturnURL: c.BaseURL + "/checkout?error=payment_declined",
		WebhookURL:       c.BaseURL + "/checkout/webhook",
	})
	if err != nil {
		log.Error("checkout session failed", "err", err)
		c.failOrder(ctx, o, "initiate")
		return nil, newError(ErrGateway, op, err)
	}

	log.Info("order created", "total_cents", o.TotalCents, "discount_cents", o.Discount, "simulate", c.Simulate)
	res.OrderID = o.ID
	res.ExternalRef = o.ExternalRef
	res.RedirectURL = redirect
	res.IsDummy = c.Simulate
	res.TotalCents = o.TotalCents
	res.DiscountCents = o.Discount
	return res, nil
}

// ConfirmOrder applies one confirmation signal. It is idempotent: a signal for an
// order that already left PENDING, or that loses the race to the other channel,
// returns Duplicate with no change. An approved payment runs provisioning before
// returning; provisioning problems never undo the payment.
func (c *Coordinator) ConfirmOrder(ctx context.Context, sig OrderSignal) (OrderOutcome, error) {
	const op = "confirm order"
	o, err := c.lookupOrder(ctx, sig)
	if errors.Is(err, orders.ErrNotFound) {
		return OrderOutcome{}, newError(ErrNotFound, op, err)
	}
	if err != nil {
		return OrderOutcome{}, fmt.Errorf("%s: %w", op, err)
	}

	verdict := c.verdict(sig.Channel, sig.Status, sig.ResultCode, sig.Dummy)
	out := OrderOutcome{Order: o, Verdict: verdict}
	log := c.Logger.With("order_id", o.ID, "channel", sig.Channel, "verdict", verdict.String())

	switch verdict {
	case gateway.Unknown:
		log.Warn("unrecognised payment status, ignored", "status", sig.Status, "result_code", sig.ResultCode, "dummy", sig.Dummy)
		out.Ignored = true
		return out, nil
	case gateway.Refunded:
		return c.refundOrder(ctx, o, sig.Channel, out)
	}

	if o.Status != orders.StatusPending {
		log.Info("order already processed", "status", o.Status)
		out.Duplicate = true
		return out, nil
	}

	to := orders.StatusPaid
	if verdict == gateway.Declined {
		to = orders.StatusFailed
	}
	ok, err := c.Orders.Transition(ctx, o.ID, []orders.Status{orders.StatusPending}, to)
	if err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		log.Info("lost confirmation race, nothing to do")
		if cur, err := c.Orders.Get(ctx, o.ID); err == nil {
			out.Order = cur
		}
		out.Duplicate = true
		return out, nil
	}
	out.Applied = true
	c.invalidate(ctx, o.ID)

	if to == orders.StatusFailed {
		o.Status = orders.StatusFailed
		c.emit(ctx, orders.TopicOrderFailed, o.ID, orders.EventOrderFailed,
			orders.StatusChanged(o, orders.StatusPending, orders.StatusFailed, string(sig.Channel)))
		c.releasePromo(ctx, o)
		log.Info("payment declined", "status", sig.Status, "result_code", sig.ResultCode)
		return out, nil
	}

	o.Status = orders.StatusPaid
	c.emit(ctx, orders.TopicOrderPaid, o.ID, orders.EventOrderPaid,
		orders.StatusChanged(o, orders.StatusPending, orders.StatusPaid, string(sig.Channel)))
	log.Info("payment confirmed", "total_cents", o.TotalCents)
	c.notify(ctx, notify.Message{
		Kind: notify.KindOrderPaid, UserID: o.UserID, OrderID: o.ID,
		AmountCents: o.TotalCents, Currency: o.Currency, PlanName: o.PlanName,
	})

	if o.PackageCode == "" {
		o.PackageCode = sig.PackageCode
	}
	res := c.Provisioner.Provision(ctx, o)
	out.Provisioning = &res
	switch res.Status {
	case provisioning.StatusCompleted:
		o.Status = orders.StatusCompleted
		c.invalidate(ctx, o.ID)
		m := notify.Message{Kind: notify.KindOrderCompleted, UserID: o.UserID, OrderID: o.ID, PlanName: o.PlanName}
		if res.ESim != nil {
			m.ICCID = res.ESim.ICCID
		}
		c.notify(ctx, m)
	case provisioning.StatusInProgress, provisioning.StatusSuperseded:
		// another run owns the outcome
	default:
		c.notify(ctx, notify.Message{Kind: notify.KindProvisioningPending, UserID: o.UserID, OrderID: o.ID, PlanName: o.PlanName})
	}
	return out, nil
}

func (c *Coordinator) refundOrder(ctx context.Context, o *orders.Order, ch Channel, out OrderOutcome) (OrderOutcome, error) {
	from := o.Status
	ok, err := c.Orders.Transition(ctx, o.ID, []orders.Status{orders.StatusPaid, orders.StatusCompleted}, orders.StatusRefunded)
	if err != nil {
		return out, fmt.Errorf("refund order: %w", err)
	}
	if !ok {
		c.Logger.Info("refund ignored, order not refundable", "order_id", o.ID, "status", o.Status)
		out.Duplicate = true
		return out, nil
	}
	o.Status = orders.StatusRefunded
	out.Applied = true
	c.invalidate(ctx, o.ID)
	c.emit(ctx, orders.TopicOrderRefunded, o.ID, orders.EventOrderRefunded,
		orders.StatusChanged(o, from, orders.StatusRefunded, string(ch)))
	c.Logger.Info("order refunded", "order_id", o.ID, "from", from)
	return out, nil
}

func (c *Coordinator) lookupOrder(ctx context.Context, sig OrderSignal) (*orders.Order, error) {
	if sig.OrderID != "" {
		return c.Orders.Get(ctx, sig.OrderID)
	}
	if sig.Reference != "" {
		return c.Orders.GetByExternalRef(ctx, sig.Reference)
	}
	return nil, orders.ErrNotFound
}

// failOrder moves a still-PENDING order to FAILED and gives its promo use back.
func (c *Coordinator) failOrder(ctx context.Context, o *orders.Order, channel string) {
	ok, err := c.Orders.Transition(ctx, o.ID, []orders.Status{orders.StatusPending}, orders.StatusFailed)
	if err != nil {
		c.Logger.Error("mark order failed", "order_id", o.ID, "err", err)
		return
	}
	if !ok {
		return
	}
	o.Status = orders.StatusFailed
	c.invalidate(ctx, o.ID)
	c.emit(ctx, orders.TopicOrderFailed, o.ID, orders.EventOrderFailed,
		orders.StatusChanged(o, orders.StatusPending, orders.StatusFailed, channel))
	c.releasePromo(ctx, o)
}

func (c *Coordinator) releasePromo(ctx context.Context, o *orders.Order) {
	if o.PromoCode == "" {
		return
	}
	if err := c.Promos.ReleaseCode(ctx, o.PromoCode); err != nil {
		c.Logger.Error("promo release failed", "order_id", o.ID, "code", o.PromoCode, "err", err)
	}
}
