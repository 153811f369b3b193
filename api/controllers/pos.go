package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bakeline/storesync-backend/api/responses"
	"github.com/bakeline/storesync-backend/api/validators"
	"github.com/bakeline/storesync-backend/internal/storeops"
	"github.com/bakeline/storesync-backend/pkg/db/models"
	pkgerrors "github.com/bakeline/storesync-backend/pkg/errors"
	"github.com/bakeline/storesync-backend/pkg/logger"
)

type posService interface {
	CreateOrder(ctx context.Context, input storeops.CreateOrderInput) (*models.LocalOrder, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.LocalOrder, error)
	PaySuccess(ctx context.Context, orderID uuid.UUID) (*models.LocalOrder, error)
	PayFailure(ctx context.Context, orderID uuid.UUID) (*models.LocalOrder, error)
	Refund(ctx context.Context, orderID uuid.UUID) (*models.LocalOrder, error)
	Availability(ctx context.Context, sku string) (int, error)
	SetStock(ctx context.Context, sku string, qty int) error
}

type posOrderItemRequest struct {
	SKU        string `json:"sku" validate:"required"`
	Qty        int    `json:"qty" validate:"gt=0"`
	PriceCents int64  `json:"price_cents" validate:"gte=0"`
}

type posCreateOrderRequest struct {
	CustomerID *string               `json:"customer_id,omitempty"`
	Items      []posOrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type posOrderResponse struct {
	ID         string                 `json:"id"`
	CustomerID string                 `json:"customer_id"`
	IsGuest    bool                   `json:"is_guest"`
	TotalCents int64                  `json:"total_cents"`
	Status     string                 `json:"status"`
	CreatedAt  time.Time              `json:"created_at"`
	Items      []posOrderItemResponse `json:"items"`
}

type posOrderItemResponse struct {
	SKU        string `json:"sku"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

// POSCreateOrder opens a PENDING order on the bound store.
func POSCreateOrder(svc posService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req posCreateOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := storeops.CreateOrderInput{}
		if req.CustomerID != nil {
			customerID, err := uuid.Parse(*req.CustomerID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "customer id must be a uuid"))
				return
			}
			input.CustomerID = &customerID
		}
		for _, item := range req.Items {
			input.Items = append(input.Items, storeops.CreateOrderItem{
				SKU:        item.SKU,
				Qty:        item.Qty,
				PriceCents: item.PriceCents,
			})
		}

		order, err := svc.CreateOrder(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toPOSOrderResponse(order))
	}
}

// POSGetOrder loads one local order.
func POSGetOrder(svc posService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.GetOrder(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPOSOrderResponse(order))
	}
}

// POSPaySuccess confirms payment: stock decremented, order PAID and the
// order.created event enqueued atomically.
func POSPaySuccess(svc posService, logg *logger.Logger) http.HandlerFunc {
	return posTransition(svc.PaySuccess, logg)
}

// POSPayFailure cancels a pending order after a declined payment.
func POSPayFailure(svc posService, logg *logger.Logger) http.HandlerFunc {
	return posTransition(svc.PayFailure, logg)
}

// POSRefund cancels a paid order and enqueues the order.cancelled event.
func POSRefund(svc posService, logg *logger.Logger) http.HandlerFunc {
	return posTransition(svc.Refund, logg)
}

func posTransition(fn func(context.Context, uuid.UUID) (*models.LocalOrder, error), logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := fn(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPOSOrderResponse(order))
	}
}

// POSAvailability reports the on-hand quantity for a SKU.
func POSAvailability(svc posService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sku := strings.TrimSpace(r.URL.Query().Get("sku"))
		if sku == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "sku query parameter is required"))
			return
		}

		qty, err := svc.Availability(ctx, sku)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"sku": sku, "qty": qty})
	}
}

type posSetStockRequest struct {
	SKU string `json:"sku" validate:"required"`
	Qty int    `json:"qty" validate:"gte=0"`
}

// POSSetStock writes an absolute on-hand quantity for a SKU.
func POSSetStock(svc posService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req posSetStockRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := svc.SetStock(ctx, req.SKU, req.Qty); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"sku": req.SKU, "qty": req.Qty})
	}
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id must be a uuid")
	}
	return orderID, nil
}

func toPOSOrderResponse(order *models.LocalOrder) posOrderResponse {
	resp := posOrderResponse{
		ID:         order.ID.String(),
		CustomerID: order.CustomerID.String(),
		IsGuest:    order.IsGuest,
		TotalCents: order.TotalCents,
		Status:     string(order.Status),
		CreatedAt:  order.CreatedAt,
		Items:      make([]posOrderItemResponse, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, posOrderItemResponse{
			SKU:        item.SKU,
			Qty:        item.Qty,
			PriceCents: item.PriceCents,
		})
	}
	return resp
}
