package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewOrderRouter wires the order service HTTP surface.
func NewOrderRouter(h *OrderHandler) http.Handler {
	r := newRouter("order-service")

	r.Post("/order", h.PlaceOrder)
	r.Get("/order/{orderID}", h.GetOrder)

	return r
}

// NewCatalogRouter wires the catalog service HTTP surface.
func NewCatalogRouter(h *CatalogHandler) http.Handler {
	r := newRouter("catalog-service")

	r.Get("/catalog", h.ListProducts)
	r.Get("/catalog/stock/{itemID}", h.GetStock)

	return r
}

func newRouter(service string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/health", healthHandler(service))

	return r
}

func healthHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": service,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
