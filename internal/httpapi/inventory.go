package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/logger"
)

type StockService interface {
	Get(ctx context.Context, productID string) (inventory.StockItem, error)
	SetAvailable(ctx context.Context, productID, name string, available int) error
}

type InventoryHandler struct {
	svc    StockService
	logger *zap.Logger
}

func NewInventoryHandler(svc StockService, logger *zap.Logger) *InventoryHandler {
	return &InventoryHandler{svc: svc, logger: logger}
}

func (h *InventoryHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	item, err := h.svc.Get(r.Context(), productID)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		logger.FromContext(r.Context(), h.logger).Error("get stock", zap.String("product_id", productID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, item)
}

type adjustRequest struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Available int    `json:"available"`
}

func (r adjustRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ProductID, validation.Required),
		validation.Field(&r.Available, validation.Min(0)),
	)
}

func (h *InventoryHandler) AdjustAvailability(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.SetAvailable(r.Context(), req.ProductID, req.Name, req.Available); err != nil {
		logger.FromContext(r.Context(), h.logger).Error("adjust stock", zap.String("product_id", req.ProductID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
