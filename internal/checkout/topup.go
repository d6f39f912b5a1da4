package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/ariefcatur/esim-orders/internal/gateway"
	"github.com/ariefcatur/esim-orders/internal/notify"
	"github.com/ariefcatur/esim-orders/internal/wallet"
	"github.com/shopspring/decimal"
)

// InitiateTopup records a PENDING top-up of amount (currency units) and opens a
// checkout session for it.
func (c *Coordinator) InitiateTopup(ctx context.Context, userID string, amount decimal.Decimal) (*TopupResult, error) {
	const op = "initiate topup"
	if userID == "" {
		return nil, newError(ErrValidation, op, errors.New("user required"))
	}
	cents, err := wallet.TopupCents(amount)
	if err != nil {
		return nil, newError(ErrValidation, op, err)
	}

	t := &wallet.Transaction{
		UserID:      userID,
		Type:        wallet.TypeTopup,
		Amount:      cents,
		Description: "Wallet top-up $" + wallet.FormatCents(cents),
	}
	if err := c.Wallet.CreatePending(ctx, t); err != nil {
		if errors.Is(err, wallet.ErrUserNotFound) {
			return nil, newError(ErrNotFound, op, err)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log := c.Logger.With("transaction_id", t.ID, "user_id", userID)

	callback := c.BaseURL + "/wallet/topup/callback?transactionId=" + url.QueryEscape(t.ID)
	redirect, err := c.Gateway.CreateCheckout(ctx, gateway.CheckoutRequest{
		ReferenceID:      t.ReferenceID,
		AmountCents:      cents,
		Currency:         c.Currency,
		ReturnURL:        callback,
		SuccessReturnURL: callback,
		WebhookURL:       c.BaseURL + "/wallet/topup/webhook",
	})
	if err != nil {
		log.Error("topup checkout session failed", "err", err)
		if _, ferr := c.Wallet.Fail(ctx, t.ID); ferr != nil {
			log.Error("mark topup failed", "err", ferr)
		}
		return nil, newError(ErrGateway, op, err)
	}

	log.Info("topup created", "amount", cents, "simulate", c.Simulate)
	return &TopupResult{TransactionID: t.ID, RedirectURL: redirect, IsDummy: c.Simulate, AmountCents: cents}, nil
}

// ConfirmTopup applies one confirmation signal to a wallet transaction. Approval
// credits the wallet exactly once; the credit and the ledger entry commit together.
func (c *Coordinator) ConfirmTopup(ctx context.Context, sig TopupSignal) (TopupOutcome, error) {
	const op = "confirm topup"
	t, err := c.lookupTopup(ctx, sig)
	if errors.Is(err, wallet.ErrNotFound) {
		return TopupOutcome{}, newError(ErrNotFound, op, err)
	}
	if err != nil {
		return TopupOutcome{}, fmt.Errorf("%s: %w", op, err)
	}

	verdict := c.verdict(sig.Channel, sig.Status, sig.ResultCode, sig.Dummy)
	out := TopupOutcome{Transaction: t, Verdict: verdict, Balance: t.Balance}
	log := c.Logger.With("transaction_id", t.ID, "channel", sig.Channel, "verdict", verdict.String())

	if verdict == gateway.Unknown || verdict == gateway.Refunded {
		log.Warn("unhandled topup status, ignored", "status", sig.Status, "result_code", sig.ResultCode, "dummy", sig.Dummy)
		out.Ignored = true
		return out, nil
	}
	if t.Status != wallet.StatusPending {
		log.Info("topup already processed", "status", t.Status)
		out.Duplicate = true
		return out, nil
	}

	if verdict == gateway.Declined {
		ok, err := c.Wallet.Fail(ctx, t.ID)
		if err != nil {
			return out, fmt.Errorf("%s: %w", op, err)
		}
		if !ok {
			return c.topupRaceLost(ctx, out, log.Info)
		}
		t.Status = wallet.StatusFailed
		out.Applied = true
		c.emit(ctx, wallet.TopicTopupFailed, t.ID, wallet.EventTopupFailed, wallet.TopupPayload{
			TransactionID: t.ID, UserID: t.UserID, Amount: t.Amount, Channel: string(sig.Channel),
		})
		log.Info("topup declined", "status", sig.Status, "result_code", sig.ResultCode)
		return out, nil
	}

	balance, ok, err := c.Wallet.Complete(ctx, t.ID)
	if err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return c.topupRaceLost(ctx, out, log.Info)
	}
	t.Status = wallet.StatusCompleted
	t.Balance = balance
	out.Applied = true
	out.Balance = balance
	c.emit(ctx, wallet.TopicTopupCompleted, t.ID, wallet.EventTopupCompleted, wallet.TopupPayload{
		TransactionID: t.ID, UserID: t.UserID, Amount: t.Amount, Balance: balance, Channel: string(sig.Channel),
	})
	c.notify(ctx, notify.Message{
		Kind: notify.KindTopupCompleted, UserID: t.UserID, TransactionID: t.ID,
		AmountCents: t.Amount, Currency: c.Currency,
	})
	log.Info("wallet credited", "amount", t.Amount, "balance", balance)
	return out, nil
}

func (c *Coordinator) topupRaceLost(ctx context.Context, out TopupOutcome, logf func(string, ...any)) (TopupOutcome, error) {
	logf("lost topup confirmation race, nothing to do")
	if cur, err := c.Wallet.Get(ctx, out.Transaction.ID); err == nil {
		out.Transaction = cur
		out.Balance = cur.Balance
	}
	out.Duplicate = true
	return out, nil
}

func (c *Coordinator) lookupTopup(ctx context.Context, sig TopupSignal) (*wallet.Transaction, error) {
	if sig.TransactionID != "" {
		return c.Wallet.Get(ctx, sig.TransactionID)
	}
	if sig.Reference != "" {
		return c.Wallet.GetByReference(ctx, sig.Reference)
	}
	return nil, wallet.ErrNotFound
}
