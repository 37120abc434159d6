package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Jamesmallon1/event-driven-shop/internal/catalog"
)

// CatalogReader serves product listings and per-item stock.
type CatalogReader interface {
	List(ctx context.Context) ([]catalog.Product, error)
	Get(ctx context.Context, id int64) (catalog.Product, error)
}

// SnapshotCache caches the rendered product listing between stock changes.
type SnapshotCache interface {
	Snapshot(ctx context.Context) ([]byte, error)
	SetSnapshot(ctx context.Context, data []byte) error
}

type CatalogHandler struct {
	repo  CatalogReader
	cache SnapshotCache
	log   *zap.Logger
}

// NewCatalogHandler builds the catalog read API. The cache may be nil, in
// which case every request hits the database.
func NewCatalogHandler(repo CatalogReader, cache SnapshotCache, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{repo: repo, cache: cache, log: logger}
}

func (h *CatalogHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		data, err := h.cache.Snapshot(r.Context())
		if err != nil {
			h.log.Warn("read catalog snapshot", zap.Error(err))
		} else if data != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
	}

	products, err := h.repo.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load catalog")
		return
	}

	data, err := json.Marshal(products)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode catalog")
		return
	}
	if h.cache != nil {
		if err := h.cache.SetSnapshot(r.Context(), data); err != nil {
			h.log.Warn("store catalog snapshot", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *CatalogHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil || itemID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	p, err := h.repo.Get(r.Context(), itemID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load stock")
		return
	}

	writeJSON(w, http.StatusOK, catalog.StockLevel{ItemID: p.ID, Quantity: p.Quantity})
}
