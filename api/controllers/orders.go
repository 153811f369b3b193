package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bakeline/storesync-backend/api/responses"
	"github.com/bakeline/storesync-backend/api/validators"
	"github.com/bakeline/storesync-backend/internal/ledger"
	"github.com/bakeline/storesync-backend/pkg/db/models"
	pkgerrors "github.com/bakeline/storesync-backend/pkg/errors"
	"github.com/bakeline/storesync-backend/pkg/logger"
)

type ledgerOrderResponse struct {
	ID           string                    `json:"id"`
	StoreID      string                    `json:"store_id"`
	StoreOrderID *string                   `json:"store_order_id,omitempty"`
	TotalCents   int64                     `json:"total_cents"`
	Status       string                    `json:"status"`
	CreatedAt    time.Time                 `json:"created_at"`
	Items        []ledgerOrderItemResponse `json:"items"`
}

type ledgerOrderItemResponse struct {
	SKU        string `json:"sku"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

// LedgerOrderList serves the central ledger read: newest orders, optionally
// filtered to one store.
func LedgerOrderList(repo *ledger.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		storeID := r.URL.Query().Get("store_id")

		orders, err := repo.List(ctx, storeID, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]ledgerOrderResponse, 0, len(orders))
		for i := range orders {
			out = append(out, toLedgerOrderResponse(&orders[i]))
		}
		responses.WriteSuccess(w, map[string]any{"orders": out})
	}
}

// LedgerOrderDetail serves one ledger order by its central id.
func LedgerOrderDetail(repo *ledger.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order id must be a uuid"))
			return
		}

		order, err := repo.GetByID(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if order == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}

		responses.WriteSuccess(w, toLedgerOrderResponse(order))
	}
}

func toLedgerOrderResponse(order *models.Order) ledgerOrderResponse {
	resp := ledgerOrderResponse{
		ID:         order.ID.String(),
		StoreID:    order.StoreID,
		TotalCents: order.TotalCents,
		Status:     string(order.Status),
		CreatedAt:  order.CreatedAt,
		Items:      make([]ledgerOrderItemResponse, 0, len(order.Items)),
	}
	if order.StoreOrderID != nil {
		id := order.StoreOrderID.String()
		resp.StoreOrderID = &id
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, ledgerOrderItemResponse{
			SKU:        item.SKU,
			Qty:        item.Qty,
			PriceCents: item.PriceCents,
		})
	}
	return resp
}
