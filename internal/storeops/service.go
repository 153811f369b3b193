package storeops

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bakeline/storesync-backend/internal/outbox"
	"github.com/bakeline/storesync-backend/pkg/db"
	"github.com/bakeline/storesync-backend/pkg/db/models"
	"github.com/bakeline/storesync-backend/pkg/enums"
	pkgerrors "github.com/bakeline/storesync-backend/pkg/errors"
	"github.com/bakeline/storesync-backend/pkg/logger"
)

type ServiceParams struct {
	StoreID string
	DB      *db.Client
	Repo    *Repository
	Outbox  *outbox.Service
	Logger  *logger.Logger
}

// Service implements the POS operations on one store's local database. The
// payment transitions that matter centrally enqueue their outbox event inside
// the same transaction as the local write.
type Service struct {
	storeID string
	db      *db.Client
	repo    *Repository
	outbox  *outbox.Service
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.StoreID == "" {
		return nil, errors.New("store id is required")
	}
	if params.DB == nil {
		return nil, errors.New("db client is required")
	}
	if params.Repo == nil {
		return nil, errors.New("repository is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox service is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		storeID: params.StoreID,
		db:      params.DB,
		repo:    params.Repo,
		outbox:  params.Outbox,
		logg:    params.Logger,
	}, nil
}

// CreateOrderInput is a POS checkout request. A missing customer id means a
// guest sale.
type CreateOrderInput struct {
	CustomerID *uuid.UUID
	Items      []CreateOrderItem
}

type CreateOrderItem struct {
	SKU        string
	Qty        int
	PriceCents int64
}

// CreateOrder opens a PENDING order. Stock is not touched until payment
// succeeds.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.LocalOrder, error) {
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order needs at least one item")
	}

	order := models.LocalOrder{
		ID:      uuid.New(),
		IsGuest: input.CustomerID == nil,
		Status:  enums.OrderStatusPending,
	}
	if input.CustomerID != nil {
		order.CustomerID = *input.CustomerID
	} else {
		order.CustomerID = uuid.New()
	}

	for _, item := range input.Items {
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("item %s has non-positive quantity", item.SKU))
		}
		order.TotalCents += int64(item.Qty) * item.PriceCents
		order.Items = append(order.Items, models.LocalOrderItem{
			SKU:        item.SKU,
			Qty:        item.Qty,
			PriceCents: item.PriceCents,
		})
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.InsertOrderTx(tx, &order)
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithField(ctx, "order_id", order.ID.String()), "local order created")
	return &order, nil
}

// PaySuccess marks the order PAID, decrements stock per item and enqueues the
// order.created event, all in one local transaction. Replaying a confirmation
// for an already PAID order is a no-op.
func (s *Service) PaySuccess(ctx context.Context, orderID uuid.UUID) (*models.LocalOrder, error) {
	var paid *models.LocalOrder

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.repo.GetOrderTx(tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.Status == enums.OrderStatusPaid {
			paid = order
			return nil
		}
		if order.Status != enums.OrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeConflict,
				fmt.Sprintf("order is %s, cannot confirm payment", order.Status))
		}

		for _, item := range order.Items {
			ok, err := s.repo.DecrementStockTx(tx, item.SKU, item.Qty)
			if err != nil {
				return err
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeConflict,
					fmt.Sprintf("insufficient stock for %s", item.SKU)).
					WithDetails(map[string]any{"sku": item.SKU, "qty": item.Qty})
			}
		}

		flipped, err := s.repo.UpdateStatusTx(tx, order.ID, enums.OrderStatusPending, enums.OrderStatusPaid)
		if err != nil {
			return err
		}
		if !flipped {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently")
		}
		order.Status = enums.OrderStatusPaid

		if err := s.outbox.Emit(tx, enums.TopicOrderCreated, s.orderCreatedPayload(order)); err != nil {
			return err
		}

		paid = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithField(ctx, "order_id", orderID.String()), "order paid")
	return paid, nil
}

// PayFailure cancels a PENDING order after a declined payment. Nothing crosses
// to the central side since the order never existed there.
func (s *Service) PayFailure(ctx context.Context, orderID uuid.UUID) (*models.LocalOrder, error) {
	var cancelled *models.LocalOrder

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.repo.GetOrderTx(tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.Status == enums.OrderStatusCancelled {
			cancelled = order
			return nil
		}
		if order.Status != enums.OrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeConflict,
				fmt.Sprintf("order is %s, cannot fail payment", order.Status))
		}

		flipped, err := s.repo.UpdateStatusTx(tx, order.ID, enums.OrderStatusPending, enums.OrderStatusCancelled)
		if err != nil {
			return err
		}
		if !flipped {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently")
		}
		order.Status = enums.OrderStatusCancelled
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithField(ctx, "order_id", orderID.String()), "order payment failed, cancelled")
	return cancelled, nil
}

// Refund cancels a PAID order, returns its stock and enqueues the
// order.cancelled event in the same transaction.
func (s *Service) Refund(ctx context.Context, orderID uuid.UUID) (*models.LocalOrder, error) {
	var refunded *models.LocalOrder

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.repo.GetOrderTx(tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.Status == enums.OrderStatusCancelled {
			refunded = order
			return nil
		}
		if order.Status != enums.OrderStatusPaid {
			return pkgerrors.New(pkgerrors.CodeConflict,
				fmt.Sprintf("order is %s, only paid orders can be refunded", order.Status))
		}

		flipped, err := s.repo.UpdateStatusTx(tx, order.ID, enums.OrderStatusPaid, enums.OrderStatusCancelled)
		if err != nil {
			return err
		}
		if !flipped {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently")
		}
		order.Status = enums.OrderStatusCancelled

		for _, item := range order.Items {
			if err := s.repo.IncrementStockTx(tx, item.SKU, item.Qty); err != nil {
				return err
			}
		}

		payload := outbox.OrderCancelledPayload{
			StoreID:      s.storeID,
			StoreOrderID: &order.ID,
		}
		if err := s.outbox.Emit(tx, enums.TopicOrderCancelled, payload); err != nil {
			return err
		}

		refunded = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithField(ctx, "order_id", orderID.String()), "order refunded")
	return refunded, nil
}

// GetOrder loads one local order.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.LocalOrder, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

// Availability reports the on-hand quantity for one SKU.
func (s *Service) Availability(ctx context.Context, sku string) (int, error) {
	qty, found, err := s.repo.GetStock(ctx, sku)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "sku not found")
	}
	return qty, nil
}

// SetStock writes an absolute on-hand quantity, the restock entry point.
func (s *Service) SetStock(ctx context.Context, sku string, qty int) error {
	if sku == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "sku is required")
	}
	if qty < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity cannot be negative")
	}
	return s.repo.SetStock(ctx, sku, qty)
}

func (s *Service) orderCreatedPayload(order *models.LocalOrder) outbox.OrderCreatedPayload {
	id := order.ID
	payload := outbox.OrderCreatedPayload{
		StoreID:      s.storeID,
		StoreOrderID: &id,
		TotalCents:   order.TotalCents,
		Status:       order.Status,
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, outbox.OrderItemPayload{
			SKU:        item.SKU,
			Qty:        item.Qty,
			PriceCents: item.PriceCents,
		})
	}
	return payload
}
