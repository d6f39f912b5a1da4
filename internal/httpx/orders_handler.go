package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/esim-orders/internal/orders"
	"github.com/go-chi/chi/v5"
)

type OrderReader interface {
	Get(ctx context.Context, id string) (*orders.Order, error)
	GetESimByOrder(ctx context.Context, orderID string) (*orders.ESim, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]orders.Order, error)
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) ([]byte, bool)
	Set(ctx context.Context, orderID string, v []byte)
}

type OrdersHandler struct {
	Orders OrderReader
	Cache  StatusCache // optional
	Logger *slog.Logger
}

func (h *OrdersHandler) Register(r chi.Router, protect func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(protect)
		r.Get("/orders", h.list)
		r.Get("/orders/{id}", h.get)
		r.Get("/orders/{id}/status", h.status)
	})
}

type orderView struct {
	*orders.Order
	ESim *orders.ESim `json:"esim,omitempty"`
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.Orders.ListByUser(r.Context(), UserID(r.Context()), 50)
	if err != nil {
		writeCoordError(w, h.Logger, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) owned(w http.ResponseWriter, r *http.Request) (*orders.Order, bool) {
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, orders.ErrNotFound) || (err == nil && o.UserID != UserID(r.Context())) {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	if err != nil {
		writeCoordError(w, h.Logger, err)
		return nil, false
	}
	return o, true
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	o, ok := h.owned(w, r)
	if !ok {
		return
	}
	v := orderView{Order: o}
	if e, err := h.Orders.GetESimByOrder(r.Context(), o.ID); err == nil {
		v.ESim = e
	} else if !errors.Is(err, orders.ErrNotFound) {
		h.Logger.Warn("load esim failed", "order_id", o.ID, "err", err)
	}
	writeJSON(w, http.StatusOK, v)
}

// status is polled by the UI while provisioning runs, so it goes to Redis first.
func (h *OrdersHandler) status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.Cache != nil {
		if b, ok := h.Cache.Get(r.Context(), id); ok {
			var cached struct {
				UserID string `json:"user_id"`
			}
			if json.Unmarshal(b, &cached) == nil && cached.UserID == UserID(r.Context()) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(b)
				return
			}
		}
	}

	o, ok := h.owned(w, r)
	if !ok {
		return
	}
	b, _ := json.Marshal(map[string]any{"order_id": o.ID, "user_id": o.UserID, "status": o.Status})
	if h.Cache != nil {
		h.Cache.Set(r.Context(), id, b)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
