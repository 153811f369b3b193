package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bakeline/storesync-backend/pkg/db"
	"github.com/bakeline/storesync-backend/pkg/db/models"
	"github.com/bakeline/storesync-backend/pkg/enums"
)

// Repository is the only writer of the central order ledger. All writes run
// inside transactions owned by the importer.
type Repository struct {
	db *db.Client
}

func NewRepository(client *db.Client) (*Repository, error) {
	if client == nil {
		return nil, fmt.Errorf("ledger repository requires a db client")
	}
	return &Repository{db: client}, nil
}

// FindByStoreOrderTx looks up the ledger row for (storeID, storeOrderID).
// Returns nil when no row exists.
func (r *Repository) FindByStoreOrderTx(tx *gorm.DB, storeID string, storeOrderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := tx.
		Where("store_id = ? AND store_order_id = ?", storeID, storeOrderID).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up ledger order for store %s: %w", storeID, err)
	}
	return &order, nil
}

// InsertTx writes the order and its items in the caller's transaction.
func (r *Repository) InsertTx(tx *gorm.DB, order *models.Order) error {
	return tx.Create(order).Error
}

// UpdateStatusByStoreOrderTx flips the status of the row matching
// (storeID, storeOrderID) and reports how many rows matched.
func (r *Repository) UpdateStatusByStoreOrderTx(tx *gorm.DB, storeID string, storeOrderID uuid.UUID, status enums.OrderStatus) (int64, error) {
	result := tx.
		Model(&models.Order{}).
		Where("store_id = ? AND store_order_id = ?", storeID, storeOrderID).
		Update("status", status)
	if result.Error != nil {
		return 0, fmt.Errorf("updating ledger order status for store %s: %w", storeID, result.Error)
	}
	return result.RowsAffected, nil
}

// GetByID loads one ledger order with its items.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.DB().WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading ledger order %s: %w", id, err)
	}
	return &order, nil
}

// List returns the newest ledger orders, optionally scoped to one store.
func (r *Repository) List(ctx context.Context, storeID string, limit int) ([]models.Order, error) {
	query := r.db.DB().WithContext(ctx).
		Preload("Items").
		Order("created_at desc").
		Limit(limit)
	if storeID != "" {
		query = query.Where("store_id = ?", storeID)
	}

	var orders []models.Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("listing ledger orders: %w", err)
	}
	return orders, nil
}
