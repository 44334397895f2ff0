package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/logger"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/orchestrator"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/saga"
)

// OrderService is the part of the orchestrator the HTTP API needs.
type OrderService interface {
	StartSaga(ctx context.Context, userID string, items []order.Item) (string, error)
	GetOrder(ctx context.Context, orderID string) (*order.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]*order.Order, error)
	GetSaga(ctx context.Context, orderID string) (*saga.Saga, error)
	ResolveCompensation(ctx context.Context, orderID string) error
}

type OrderHandler struct {
	svc    OrderService
	logger *zap.Logger
}

func NewOrderHandler(svc OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{svc: svc, logger: logger}
}

type createOrderRequest struct {
	UserID string       `json:"userId"`
	Items  []order.Item `json:"items"`
}

func (r createOrderRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.Items, validation.Required),
	)
}

func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	orderID, err := h.svc.StartSaga(ctx, req.UserID, req.Items)
	if errors.Is(err, order.ErrInvalidOrder) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log(r).Error("start saga", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create order")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"orderId": orderID})
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.svc.GetOrder(ctx, orderID)
	if errors.Is(err, order.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.log(r).Error("get order", zap.String("order_id", orderID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}

	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) ListOrdersByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orders, err := h.svc.ListOrdersByUser(ctx, userID)
	if err != nil {
		h.log(r).Error("list orders", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load orders")
		return
	}
	if orders == nil {
		orders = []*order.Order{}
	}

	writeJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) GetSaga(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	s, err := h.svc.GetSaga(ctx, orderID)
	if errors.Is(err, saga.ErrNotFound) {
		writeError(w, http.StatusNotFound, "saga not found")
		return
	}
	if err != nil {
		h.log(r).Error("get saga", zap.String("order_id", orderID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load saga")
		return
	}

	writeJSON(w, http.StatusOK, s)
}

func (h *OrderHandler) ResolveCompensation(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	err := h.svc.ResolveCompensation(ctx, orderID)
	switch {
	case errors.Is(err, saga.ErrNotFound):
		writeError(w, http.StatusNotFound, "saga not found")
	case errors.Is(err, orchestrator.ErrNotCompensating):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.log(r).Error("resolve compensation", zap.String("order_id", orderID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resolve compensation")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *OrderHandler) log(r *http.Request) *zap.Logger {
	return logger.FromContext(r.Context(), h.logger)
}
