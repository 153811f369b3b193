package ledger

import (
	"context"
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

const storeOrderUniqueIndex = "ux_orders_store_order"

// Importer applies drained outbox events to the central ledger. Every apply is
// one central transaction; redelivering the same event is always safe.
type Importer struct {
	db   *db.Client
	repo *Repository
	logg *logger.Logger
}

type ImporterParams struct {
	DB     *db.Client
	Repo   *Repository
	Logger *logger.Logger
}

func NewImporter(params ImporterParams) (*Importer, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("importer requires a db client")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("importer requires a repository")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("importer requires a logger")
	}
	return &Importer{db: params.DB, repo: params.Repo, logg: params.Logger}, nil
}

// ImportOrderCreated writes the order snapshot into the ledger. When the
// (store_id, store_order_id) pair is already present the existing row wins and
// the duplicate is acked without touching it. Snapshots without a
// store_order_id cannot be deduplicated and insert unconditionally.
func (i *Importer) ImportOrderCreated(ctx context.Context, payload outbox.OrderCreatedPayload) (uuid.UUID, error) {
	var orderID uuid.UUID

	err := i.db.WithTx(ctx, func(tx *gorm.DB) error {
		if payload.StoreOrderID != nil {
			existing, err := i.repo.FindByStoreOrderTx(tx, payload.StoreID, *payload.StoreOrderID)
			if err != nil {
				return err
			}
			if existing != nil {
				orderID = existing.ID
				i.logg.Info(i.logg.WithField(ctx, "order_id", existing.ID.String()),
					"order already imported, acking duplicate")
				return nil
			}
		}

		order := models.Order{
			ID:           uuid.New(),
			StoreID:      payload.StoreID,
			StoreOrderID: payload.StoreOrderID,
			TotalCents:   payload.TotalCents,
			Status:       payload.Status,
		}
		for _, item := range payload.Items {
			order.Items = append(order.Items, models.OrderItem{
				SKU:        item.SKU,
				Qty:        item.Qty,
				PriceCents: item.PriceCents,
			})
		}
		if err := i.repo.InsertTx(tx, &order); err != nil {
			return err
		}
		orderID = order.ID
		return nil
	})

	// A concurrent import of the same event can slip past the existence check;
	// the partial unique index catches it and the earlier row wins.
	if db.IsUniqueViolation(err, storeOrderUniqueIndex) && payload.StoreOrderID != nil {
		return i.findExisting(ctx, payload.StoreID, *payload.StoreOrderID)
	}
	if err != nil {
		return uuid.Nil, err
	}
	return orderID, nil
}

func (i *Importer) findExisting(ctx context.Context, storeID string, storeOrderID uuid.UUID) (uuid.UUID, error) {
	var orderID uuid.UUID
	err := i.db.WithTx(ctx, func(tx *gorm.DB) error {
		existing, err := i.repo.FindByStoreOrderTx(tx, storeID, storeOrderID)
		if err != nil {
			return err
		}
		if existing == nil {
			return pkgerrors.New(pkgerrors.CodeInternal, "unique violation without a ledger row")
		}
		orderID = existing.ID
		return nil
	})
	return orderID, err
}

// ApplyCancellation flips the referenced ledger order to CANCELLED. When the
// order has not been imported yet the event arrived ahead of its creation, so
// the error is dependency-coded and the caller retries later.
func (i *Importer) ApplyCancellation(ctx context.Context, payload outbox.OrderCancelledPayload) error {
	if payload.StoreOrderID == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "cancellation payload missing store_order_id")
	}
	return i.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := i.repo.UpdateStatusByStoreOrderTx(tx, payload.StoreID, *payload.StoreOrderID, enums.OrderStatusCancelled)
		if err != nil {
			return err
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeDependency,
				fmt.Sprintf("order %s for store %s not imported yet", payload.StoreOrderID, payload.StoreID))
		}
		return nil
	})
}
