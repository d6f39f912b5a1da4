package checkout

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/esim-orders/internal/gateway"
	"github.com/ariefcatur/esim-orders/internal/orders"
	"github.com/ariefcatur/esim-orders/internal/promo"
	"github.com/ariefcatur/esim-orders/internal/provisioning"
	"github.com/ariefcatur/esim-orders/internal/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestInitiatePurchase_Simulated(t *testing.T) {
	h := newHarness()

	res, err := h.c.InitiatePurchase(context.Background(), PurchaseRequest{UserID: "u1", PackageRef: "JP-1GB-7D"})
	require.NoError(t, err)

	assert.True(t, res.IsDummy)
	assert.Equal(t, int64(1000), res.TotalCents)
	u, err := url.Parse(res.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "/checkout/callback", u.Path)
	assert.Equal(t, res.OrderID, u.Query().Get("orderId"))
	assert.Equal(t, "JP-1GB-7D", u.Query().Get("packageCode"))
	assert.Equal(t, "true", u.Query().Get("dummy"))
	assert.Equal(t, orders.StatusPending, h.orders.status(res.OrderID))
}

func TestInitiatePurchase_Validation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.c.InitiatePurchase(ctx, PurchaseRequest{UserID: "u1"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.c.InitiatePurchase(ctx, PurchaseRequest{PackageRef: "JP-1GB-7D"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.c.InitiatePurchase(ctx, PurchaseRequest{UserID: "u1", PackageRef: "NOPE"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInitiatePurchase_GatewayFailureFailsOrder(t *testing.T) {
	h := newHarness()
	h.c.Gateway = failingGateway{}
	h.promos.codes["SAVE10"] = &promo.Code{Code: "SAVE10", DiscountPercent: 10, Active: true, MaxUses: intPtr(5)}

	_, err := h.c.InitiatePurchase(context.Background(), PurchaseRequest{UserID: "u1", PackageRef: "JP-1GB-7D", PromoCode: "save10"})
	require.ErrorIs(t, err, ErrGateway)
	assert.ErrorIs(t, err, gateway.ErrBadResponse)

	o, err := h.orders.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFailed, o.Status)
	assert.Equal(t, 0, h.promos.used("SAVE10"), "promo use is given back")
	assert.Equal(t, 1, h.rec.count(orders.EventOrderFailed))
}

// Webhook first, then the redirect for the same payment.
func TestConfirmOrder_WebhookThenCallbackCompletesOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	res, err := h.c.InitiatePurchase(ctx, PurchaseRequest{UserID: "u1", PackageRef: "JP-1GB-7D"})
	require.NoError(t, err)
	require.Equal(t, int64(1000), res.TotalCents)

	first, err := h.c.ConfirmOrder(ctx, OrderSignal{Channel: ChannelWebhook, Reference: res.ExternalRef, Status: "COMPLETED"})
	require.NoError(t, err)
	assert.True(t, first.Applied)
	require.NotNil(t, first.Provisioning)
	assert.Equal(t, provisioning.StatusCompleted, first.Provisioning.Status)
	assert.NoError(t, first.ProvisioningErr())

	second, err := h.c.ConfirmOrder(ctx, OrderSignal{Channel: ChannelCallback, OrderID: res.OrderID, PackageCode: "JP-1GB-7D", Dummy: true})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Applied)
	assert.Equal(t, orders.StatusCompleted, second.Order.Status)

	assert.Equal(t, orders.StatusCompleted, h.orders.status(res.OrderID))
	assert.Equal(t, 1, h.orders.esimCount())
	assert.Equal(t, 1, h.vendor.orders)
	assert.Equal(t, 1, h.rec.count(orders.EventOrderPaid))
	assert.Equal(t, 1, h.rec.count(orders.EventOrderCompleted))
}

func TestConfirmOrder_ConcurrentChannels(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	res, err := h.c.InitiatePurchase(ctx, PurchaseRequest{UserID: "u1", PackageRef: "JP-1GB-7D"})
	require.NoError(t, err)

	signals := []OrderSignal{
		{Channel: ChannelWebhook, Reference: res.ExternalRef, Status: "COMPLETED"},
		{Channel: ChannelCallback, OrderID: res.OrderID, Dummy: true},
		{Channel: ChannelWebhook, Reference: res.ExternalRef, Status: "SUCCESS"},
		{Channel: ChannelCallback, OrderID: res.OrderID},
	}
	var applied int32
	var wg sync.WaitGroup
	for _, s := range signals {
		wg.Add(1)
		go func(s OrderSignal) {
			defer wg.Done()
			out, err := h.c.ConfirmOrder(ctx, s)
			assert.NoError(t, err)
			if out.Applied {
				atomic.AddInt32(&applied, 1)
			}
		}(s)
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied)
	assert.Equal(t, orders.StatusCompleted, h.orders.status(res.OrderID))
	assert.Equal(t, 1, h.orders.esimCount())
	assert.Equal(t, 1, h.rec.count(orders.EventOrderPaid))
}

func TestConfirmOrder_DeclinedReleasesPromo(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.promos.codes["SAVE10"] = &promo.Code{Code: "SAVE10", DiscountPercent: 10, Active: true, MaxUses: intPtr(1)}

	res, err := h.c.InitiatePurchase(ctx, PurchaseRequest{UserID: "u1", PackageRef: "JP-1GB-7D", PromoCode: "SAVE10"})
	require.NoError(t, err)
	assert.Equal(t, int64(900), res.TotalCents)
	assert.Equal(t, 1, h.promos.used("SAVE10"))

	out, err := h.c.ConfirmOrder(ctx, OrderSignal{Channel: ChannelWebhook, Reference: res.ExternalRef, Status: "DECLINED"})
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, orders.StatusFailed, h.orders.status(res.OrderID))
	assert.Equal(t, 0, h.promos.used("SAVE10"))

	// a late approval cannot resurrect the order
	out, err = h.c.ConfirmOrder(ctx, OrderSignal{Channel: ChannelCallback, OrderID: res.OrderID, Dummy: true})
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Equal(t, orders.StatusFailed, h.orders.status(res.OrderID))
	assert.Equal(t, 0, h.orders.esimCount())
}

func TestConfirmOrder_UnknownStatusIgnored(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	res, err := h.c.InitiatePurchase(ctx, PurchaseRequest{UserID: "u1", PackageRef: "JP-1GB-7D"})
	require.NoError(t, err)

	out, err := h.c.ConfirmOrder(ctx, OrderSignal{Channel: ChannelWebhook, Reference: res.ExternalRef, Status: "PROCESSING"})
	require.NoError(t, err)
	assert.True(t, out.Ignored)
	assert.Equal(t, orders.StatusPending, h.orders.status(res.OrderID))
}

func TestConfirmOrder_DummyOutsideSimulateIgnored(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	res, err := h.c.InitiatePurchase(ctx, PurchaseRequest{UserID: "u1", PackageRef: "JP-1GB-7D"})
	require.NoError(t, err)
	h.c.Simulate = false

	out, err := h.c.ConfirmOrder(ctx, OrderSignal{Channel: ChannelCallback, OrderID: res.OrderID, Dummy: true})
	require.NoError(t, err)
	assert.True(t, out.Ignored)
	assert.Equal(t, orders.StatusPending, h.orders.status(res.OrderID))
}

func TestConfirmOrder_LiveCallbackNeverSettles(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	res, err := h.c.InitiatePurchase(ctx, PurchaseRequest{UserID: "u1", PackageRef: "JP-1GB-7D"})
	require.NoError(t, err)
	h.c.Simulate = false

	for _, sig := range []OrderSignal{
		{Channel: ChannelCallback, OrderID: res.OrderID},
		{Channel: ChannelCallback, OrderID: res.OrderID, Status: "COMPLETED", ResultCode: "0"},
		{Channel: ChannelCallback, OrderID: res.OrderID, ResultCode: "51"},
	} {
		out, err := h.c.ConfirmOrder(ctx, sig)
		require.NoError(t, err)
		assert.True(t, out.Ignored)
		assert.False(t, out.Applied)
	}
	assert.Equal(t, orders.StatusPending, h.orders.status(res.OrderID))
	assert.Equal(t, 0, h.orders.esimCount())
	assert.Equal(t, 0, h.vendor.orders)

	// the signed webhook still settles it
	out, err := h.c.ConfirmOrder(ctx, OrderSignal{Channel: ChannelWebhook, Reference: res.ExternalRef, Status: "COMPLETED"})
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, orders.StatusCompleted, h.orders.status(res.OrderID))
}

func TestConfirmTopup_LiveCallbackNeverCredits(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	res, err := h.c.InitiateTopup(ctx, "u1", decimal.NewFromInt(2000))
	require.NoError(t, err)
	h.c.Simulate = false

	for _, sig := range []TopupSignal{
		{Channel: ChannelCallback, TransactionID: res.TransactionID},
		{Channel: ChannelCallback, TransactionID: res.TransactionID, Status: "SUCCESS"},
	} {
		out, err := h.c.ConfirmTopup(ctx, sig)
		require.NoError(t, err)
		assert.True(t, out.Ignored)
		assert.False(t, out.Applied)
	}
	tx, err := h.wallet.Get(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, wallet.StatusPending, tx.Status)
	assert.Equal(t, int64(0), h.wallet.balance("u1"))
}

func TestConfirmOrder_NotFound(t *testing.T) {
	h := newHarness()
	_, err := h.c.ConfirmOrder(context.Background(), OrderSignal{Channel: ChannelWebhook, Reference: "missing", Status: "COMPLETED"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.c.ConfirmOrder(context.Background(), OrderSignal{Channel: ChannelCallback})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfirmOrder_Refund(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	res, err := h.c.InitiatePurchase(ctx, PurchaseRequest{UserID: "u1", PackageRef: "JP-1GB-7D"})
	require.NoError(t, err)

	out, err := h.c.ConfirmOrder(ctx, OrderSignal{Channel: ChannelWebhook, Reference: res.ExternalRef, Status: "REFUNDED"})
	require.NoError(t, err)
	assert.True(t, out.Duplicate, "a PENDING order cannot be refunded")
	assert.Equal(t, orders.StatusPending, h.orders.status(res.OrderID))

	_, err = h.c.ConfirmOrder(ctx, OrderSignal{Channel: ChannelWebhook, Reference: res.ExternalRef, Status: "COMPLETED"})
	require.NoError(t, err)
	out, err = h.c.ConfirmOrder(ctx, OrderSignal{Channel: ChannelWebhook, Reference: res.ExternalRef, Status: "REFUNDED"})
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, orders.StatusRefunded, h.orders.status(res.OrderID))
	assert.Equal(t, 1, h.rec.count(orders.EventOrderRefunded))
}

// Two buyers race for the last use of SAVE10.
func TestInitiatePurchase_PromoLastUseRace(t *testing.T) {
	h := newHarness()
	h.promos.codes["SAVE10"] = &promo.Code{Code: "SAVE10", DiscountPercent: 10, Active: true, MaxUses: intPtr(1)}

	results := make([]*PurchaseResult, 2)
	var wg sync.WaitGroup
	for i, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			res, err := h.c.InitiatePurchase(context.Background(), PurchaseRequest{UserID: user, PackageRef: "JP-1GB-7D", PromoCode: "SAVE10"})
			assert.NoError(t, err)
			results[i] = res
		}(i, user)
	}
	wg.Wait()

	discounted, full := 0, 0
	for _, r := range results {
		require.NotNil(t, r)
		switch r.TotalCents {
		case 900:
			discounted++
			assert.Empty(t, r.PromoError)
		case 1000:
			full++
			assert.NotEmpty(t, r.PromoError)
		}
	}
	assert.Equal(t, 1, discounted)
	assert.Equal(t, 1, full)
	assert.Equal(t, 1, h.promos.used("SAVE10"))
}

// The vendor never issues a profile.
func TestConfirmOrder_ProvisioningPendingKeepsPaid(t *testing.T) {
	h := newHarness()
	h.vendor.empty = true
	ctx := context.Background()
	res, err := h.c.InitiatePurchase(ctx, PurchaseRequest{UserID: "u1", PackageRef: "JP-1GB-7D"})
	require.NoError(t, err)

	out, err := h.c.ConfirmOrder(ctx, OrderSignal{Channel: ChannelCallback, OrderID: res.OrderID, Dummy: true})
	require.NoError(t, err)

	assert.True(t, out.Applied)
	require.NotNil(t, out.Provisioning)
	assert.Equal(t, provisioning.StatusPending, out.Provisioning.Status)
	assert.Equal(t, provisioning.DefaultMaxAttempts, out.Provisioning.Attempts)
	assert.LessOrEqual(t, h.sleeps, 30*time.Second)
	assert.Equal(t, orders.StatusPaid, h.orders.status(res.OrderID))
	assert.Equal(t, 0, h.orders.esimCount())
	assert.Equal(t, 0, h.rec.count(orders.EventOrderFailed))
	assert.Equal(t, 1, h.rec.count(orders.EventProvisioningPending))
	assert.ErrorIs(t, out.ProvisioningErr(), ErrProvisioning)
}

func TestInitiateTopup_Validation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.c.InitiateTopup(ctx, "u1", decimal.RequireFromString("0.5"))
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.c.InitiateTopup(ctx, "u1", decimal.NewFromInt(2001))
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.c.InitiateTopup(ctx, "nobody", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrNotFound)
}

// A declined top-up leaves credits alone.
func TestConfirmTopup_DeclinedLeavesBalance(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	res, err := h.c.InitiateTopup(ctx, "u1", decimal.NewFromInt(50))
	require.NoError(t, err)
	require.Equal(t, int64(5000), res.AmountCents)
	tx, _ := h.wallet.Get(ctx, res.TransactionID)

	out, err := h.c.ConfirmTopup(ctx, TopupSignal{Channel: ChannelWebhook, Reference: tx.ReferenceID, Status: "declined"})
	require.NoError(t, err)
	assert.True(t, out.Applied)

	tx, _ = h.wallet.Get(ctx, res.TransactionID)
	assert.Equal(t, wallet.StatusFailed, tx.Status)
	assert.Equal(t, int64(0), h.wallet.balance("u1"))
}

func TestConfirmTopup_CreditsOnceUnderRace(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	res, err := h.c.InitiateTopup(ctx, "u1", decimal.NewFromInt(50))
	require.NoError(t, err)
	tx, _ := h.wallet.Get(ctx, res.TransactionID)

	var applied int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sig := TopupSignal{Channel: ChannelWebhook, Reference: tx.ReferenceID, Status: "COMPLETED"}
			if i%2 == 1 {
				sig = TopupSignal{Channel: ChannelCallback, TransactionID: tx.ID, Dummy: true}
			}
			out, err := h.c.ConfirmTopup(ctx, sig)
			assert.NoError(t, err)
			if out.Applied {
				atomic.AddInt32(&applied, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied)
	assert.Equal(t, int64(5000), h.wallet.balance("u1"))

	txs := h.wallet.all("u1")
	last, ok := wallet.LastCompleted(txs)
	require.True(t, ok)
	assert.Equal(t, h.wallet.balance("u1"), last.Balance)
	assert.Equal(t, h.wallet.balance("u1"), wallet.Replay(txs))
}

func TestConfirmTopup_SequentialTopupsKeepInvariant(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	for _, amt := range []int64{10, 25, 100} {
		res, err := h.c.InitiateTopup(ctx, "u2", decimal.NewFromInt(amt))
		require.NoError(t, err)
		_, err = h.c.ConfirmTopup(ctx, TopupSignal{Channel: ChannelCallback, TransactionID: res.TransactionID, Dummy: true})
		require.NoError(t, err)
	}
	// one left pending
	_, err := h.c.InitiateTopup(ctx, "u2", decimal.NewFromInt(7))
	require.NoError(t, err)

	txs := h.wallet.all("u2")
	assert.Equal(t, int64(13500), h.wallet.balance("u2"))
	assert.Equal(t, int64(13500), wallet.Replay(txs))
}

func TestVerifyWebhook(t *testing.T) {
	h := newHarness()
	body := []byte(`{"referenceId":"ESIM-REF-1","status":"COMPLETED"}`)

	hdr := http.Header{}
	_, err := h.c.VerifyWebhook(body, hdr)
	assert.ErrorIs(t, err, ErrSignature)

	hdr.Set("x-g2pay-signature", gateway.Sign("whsec", body))
	w, err := h.c.VerifyWebhook(body, hdr)
	require.NoError(t, err)
	assert.Equal(t, "ESIM-REF-1", w.Reference)

	h.c.SignatureOptional = true
	_, err = h.c.VerifyWebhook(body, http.Header{})
	assert.NoError(t, err)

	_, err = h.c.VerifyWebhook([]byte(`{"status":"COMPLETED"}`), http.Header{})
	assert.ErrorIs(t, err, ErrValidation)
}
