package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/logger"
)

func NewOrderRouter(h *OrderHandler, log *zap.Logger) http.Handler {
	r := newRouter("order-service", log)

	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/{orderId}", h.GetOrder)
		r.Get("/{orderId}/saga", h.GetSaga)
		r.Post("/{orderId}/saga/compensation", h.ResolveCompensation)
	})
	r.Get("/api/users/{userId}/orders", h.ListOrdersByUser)

	return r
}

func NewInventoryRouter(h *InventoryHandler, log *zap.Logger) http.Handler {
	r := newRouter("inventory-service", log)

	r.Route("/api/inventory", func(r chi.Router) {
		r.Get("/{productId}", h.GetAvailability)
		r.Post("/adjust", h.AdjustAvailability)
	})

	return r
}

// NewHealthRouter serves only /health, for services without an API.
func NewHealthRouter(service string, log *zap.Logger) http.Handler {
	return newRouter(service, log)
}

func newRouter(service string, log *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logger.Middleware(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": service,
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
