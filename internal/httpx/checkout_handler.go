package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ariefcatur/esim-orders/internal/checkout"
	"github.com/ariefcatur/esim-orders/internal/gateway"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const maxWebhookBody = 1 << 20

// Coordinator is what the payment handlers need from checkout.Coordinator.
type Coordinator interface {
	InitiatePurchase(ctx context.Context, req checkout.PurchaseRequest) (*checkout.PurchaseResult, error)
	ConfirmOrder(ctx context.Context, sig checkout.OrderSignal) (checkout.OrderOutcome, error)
	InitiateTopup(ctx context.Context, userID string, amount decimal.Decimal) (*checkout.TopupResult, error)
	ConfirmTopup(ctx context.Context, sig checkout.TopupSignal) (checkout.TopupOutcome, error)
	VerifyWebhook(body []byte, h http.Header) (gateway.Webhook, error)
}

type CheckoutHandler struct {
	Coord   Coordinator
	BaseURL string
	Logger  *slog.Logger
}

type createCheckoutReq struct {
	PackageCode string `json:"packageCode"`
	Slug        string `json:"slug"`
	PromoCode   string `json:"promoCode"`
}

// Register mounts the routes. protect wraps the buyer-initiated endpoints.
func (h *CheckoutHandler) Register(r chi.Router, protect func(http.Handler) http.Handler) {
	r.With(protect).Post("/checkout", h.create)
	r.Get("/checkout/callback", h.callback)
	r.Post("/checkout/webhook", h.webhook)
	r.Get("/checkout/webhook", ping)
}

func ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *CheckoutHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	ref := req.PackageCode
	if ref == "" {
		ref = req.Slug
	}

	res, err := h.Coord.InitiatePurchase(r.Context(), checkout.PurchaseRequest{
		UserID:     UserID(r.Context()),
		PackageRef: ref,
		PromoCode:  req.PromoCode,
	})
	if err != nil {
		h.writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*checkout.PurchaseResult
	}{true, res})
}

func (h *CheckoutHandler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orderID := q.Get("orderId")
	if orderID == "" {
		http.Redirect(w, r, h.BaseURL+withQuery(pathCheckout, errMissingOrderID), http.StatusFound)
		return
	}

	out, err := h.Coord.ConfirmOrder(r.Context(), checkout.OrderSignal{
		Channel:     checkout.ChannelCallback,
		OrderID:     orderID,
		Status:      q.Get("status"),
		ResultCode:  firstNonEmpty(q.Get("resultCode"), q.Get("result_code")),
		PackageCode: q.Get("packageCode"),
		Dummy:       q.Get("dummy") == "true",
	})
	if err != nil && !errors.Is(err, checkout.ErrNotFound) {
		h.Logger.Error("order callback failed", "order_id", orderID, "err", err)
	}
	if perr := out.ProvisioningErr(); perr != nil {
		h.Logger.Warn("order paid, esim still owed", "order_id", orderID, "err", perr)
	}
	http.Redirect(w, r, h.BaseURL+orderRedirect(out, err), http.StatusFound)
}

func (h *CheckoutHandler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	wh, err := h.Coord.VerifyWebhook(body, r.Header)
	if err != nil {
		h.writeCoordError(w, err)
		return
	}

	out, err := h.Coord.ConfirmOrder(r.Context(), checkout.OrderSignal{
		Channel:    checkout.ChannelWebhook,
		Reference:  wh.Reference,
		Status:     wh.Status,
		ResultCode: wh.ResultCode,
	})
	if err != nil {
		h.writeCoordError(w, err)
		return
	}
	resp := map[string]any{"success": true}
	if out.Duplicate {
		resp["message"] = "already processed"
	}
	if out.Ignored {
		resp["message"] = "status ignored"
	}
	// the payment is recorded either way, so the gateway still gets a 2xx
	if perr := out.ProvisioningErr(); perr != nil {
		h.Logger.Warn("order paid, esim still owed", "reference", wh.Reference, "err", perr)
		resp["provisioning"] = string(out.Provisioning.Status)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CheckoutHandler) writeCoordError(w http.ResponseWriter, err error) {
	writeCoordError(w, h.Logger, err)
}

func writeCoordError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, checkout.ErrSignature):
		writeError(w, http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, checkout.ErrValidation):
		writeError(w, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, checkout.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, checkout.ErrGateway):
		writeError(w, http.StatusBadGateway, "payment gateway error, please try again")
	default:
		logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func validationMessage(err error) string {
	var ce *checkout.Error
	if errors.As(err, &ce) && ce.Err != nil {
		return ce.Err.Error()
	}
	return "invalid request"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
