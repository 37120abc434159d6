package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Jamesmallon1/event-driven-shop/internal/events"
	"github.com/Jamesmallon1/event-driven-shop/internal/order"
)

// OrderPlacer accepts a new order request. Satisfied by order.Intake.
type OrderPlacer interface {
	Place(ctx context.Context, req order.Request) (*order.Order, error)
}

type OrderHandler struct {
	placer OrderPlacer
	repo   order.Repository
}

func NewOrderHandler(placer OrderPlacer, repo order.Repository) *OrderHandler {
	return &OrderHandler{placer: placer, repo: repo}
}

func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req order.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.placer.Place(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrValidation), errors.Is(err, order.ErrUnknownItem):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, order.ErrInsufficientStock):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, events.ErrBusUnavailable):
			// The order row exists and the outbox relay will deliver the
			// event, but the caller should not treat this as confirmed.
			body := map[string]string{"error": "order stored but event delivery is delayed"}
			if o != nil {
				body["order_id"] = o.ID
			}
			writeJSON(w, http.StatusServiceUnavailable, body)
		case errors.Is(err, order.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "temporarily unable to take orders")
		default:
			writeError(w, http.StatusInternalServerError, "failed to place order")
		}
		return
	}

	writeJSON(w, http.StatusCreated, o)
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing orderID")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.repo.GetByID(ctx, orderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	writeJSON(w, http.StatusOK, o)
}
