package controllers

import (
	"net/http"
	"time"

	"github.com/bakeline/storesync-backend/api/responses"
	"github.com/bakeline/storesync-backend/api/validators"
	"github.com/bakeline/storesync-backend/internal/mirror"
	"github.com/bakeline/storesync-backend/pkg/logger"
)

type stockMirrorResponse struct {
	StoreID   string    `json:"store_id"`
	SKU       string    `json:"sku"`
	Qty       int       `json:"qty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StockMirrorList serves the central read-optimized stock copy. Values may lag
// the stores by up to one mirror tick.
func StockMirrorList(repo *mirror.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit, err := validators.ParseQueryInt(r, "limit", 100, 1, 500)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		storeID := r.URL.Query().Get("store_id")

		rows, err := repo.List(ctx, storeID, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]stockMirrorResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, stockMirrorResponse{
				StoreID:   row.StoreID,
				SKU:       row.SKU,
				Qty:       row.Qty,
				UpdatedAt: row.UpdatedAt,
			})
		}
		responses.WriteSuccess(w, map[string]any{"stock": out})
	}
}

// StoreList reports the store ids present in the mirror.
func StoreList(repo *mirror.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		stores, err := repo.Stores(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"stores": stores})
	}
}
