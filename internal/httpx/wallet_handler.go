package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/esim-orders/internal/checkout"
	"github.com/ariefcatur/esim-orders/internal/wallet"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type WalletReader interface {
	Balance(ctx context.Context, userID string) (int64, error)
	List(ctx context.Context, userID string, limit int) ([]wallet.Transaction, error)
	VerifyBalance(ctx context.Context, userID string) (credits, replayed int64, ok bool, err error)
}

type WalletHandler struct {
	Coord   Coordinator
	Wallet  WalletReader
	BaseURL string
	Logger  *slog.Logger
}

func (h *WalletHandler) Register(r chi.Router, protect func(http.Handler) http.Handler) {
	r.With(protect).Post("/wallet/topup", h.topup)
	r.With(protect).Get("/wallet", h.get)
	r.With(protect).Get("/wallet/verify", h.verify)
	r.Get("/wallet/topup/callback", h.callback)
	r.Post("/wallet/topup/webhook", h.webhook)
	r.Get("/wallet/topup/webhook", ping)
}

func (h *WalletHandler) topup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := h.Coord.InitiateTopup(r.Context(), UserID(r.Context()), req.Amount)
	if err != nil {
		writeCoordError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*checkout.TopupResult
	}{true, res})
}

func (h *WalletHandler) get(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	bal, err := h.Wallet.Balance(r.Context(), userID)
	if errors.Is(err, wallet.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeCoordError(w, h.Logger, err)
		return
	}
	txs, err := h.Wallet.List(r.Context(), userID, 20)
	if err != nil {
		writeCoordError(w, h.Logger, err)
		return
	}
	if txs == nil {
		txs = []wallet.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":          bal,
		"balanceFormatted": "$" + wallet.FormatCents(bal),
		"transactions":     txs,
	})
}

func (h *WalletHandler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("transactionId")
	if id == "" {
		http.Redirect(w, r, h.BaseURL+withQuery(pathWallet, errMissingTransaction), http.StatusFound)
		return
	}

	out, err := h.Coord.ConfirmTopup(r.Context(), checkout.TopupSignal{
		Channel:       checkout.ChannelCallback,
		TransactionID: id,
		Status:        q.Get("status"),
		ResultCode:    firstNonEmpty(q.Get("resultCode"), q.Get("result_code")),
		Dummy:         q.Get("dummy") == "true",
	})
	if err != nil && !errors.Is(err, checkout.ErrNotFound) {
		h.Logger.Error("wallet callback failed", "transaction_id", id, "err", err)
	}
	http.Redirect(w, r, h.BaseURL+topupRedirect(out, err), http.StatusFound)
}

func (h *WalletHandler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	wh, err := h.Coord.VerifyWebhook(body, r.Header)
	if err != nil {
		writeCoordError(w, h.Logger, err)
		return
	}
	out, err := h.Coord.ConfirmTopup(r.Context(), checkout.TopupSignal{
		Channel:    checkout.ChannelWebhook,
		Reference:  wh.Reference,
		Status:     wh.Status,
		ResultCode: wh.ResultCode,
	})
	if err != nil {
		writeCoordError(w, h.Logger, err)
		return
	}
	resp := map[string]any{"success": true}
	if out.Duplicate {
		resp["message"] = "already processed"
	}
	if out.Ignored {
		resp["message"] = "status ignored"
	}
	writeJSON(w, http.StatusOK, resp)
}

// verify replays the caller's ledger and compares it with the cached balance.
func (h *WalletHandler) verify(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	credits, replayed, ok, err := h.Wallet.VerifyBalance(r.Context(), userID)
	if errors.Is(err, wallet.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeCoordError(w, h.Logger, err)
		return
	}
	if !ok {
		h.Logger.Error("wallet balance drift", "user_id", userID, "credits", credits, "replayed", replayed)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":    credits,
		"replayed":   replayed,
		"consistent": ok,
	})
}
