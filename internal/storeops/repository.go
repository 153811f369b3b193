package storeops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bakeline/storesync-backend/pkg/db"
	"github.com/bakeline/storesync-backend/pkg/db/models"
	"github.com/bakeline/storesync-backend/pkg/enums"
)

// Repository is the data access layer for one store's local database: POS
// orders and the authoritative stock table.
type Repository struct {
	db *db.Client
}

func NewRepository(client *db.Client) (*Repository, error) {
	if client == nil {
		return nil, fmt.Errorf("storeops repository requires a db client")
	}
	return &Repository{db: client}, nil
}

// InsertOrderTx writes the order and its items in the caller's transaction.
func (r *Repository) InsertOrderTx(tx *gorm.DB, order *models.LocalOrder) error {
	return tx.Create(order).Error
}

// GetOrderTx loads one order with items inside a transaction.
func (r *Repository) GetOrderTx(tx *gorm.DB, id uuid.UUID) (*models.LocalOrder, error) {
	var order models.LocalOrder
	err := tx.Preload("Items").Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading local order %s: %w", id, err)
	}
	return &order, nil
}

// GetOrder loads one order with items.
func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (*models.LocalOrder, error) {
	return r.GetOrderTx(r.db.DB().WithContext(ctx), id)
}

// UpdateStatusTx flips the order status only when the current status matches,
// reporting whether a row changed. The conditional write is what makes the
// payment transitions safe to replay.
func (r *Repository) UpdateStatusTx(tx *gorm.DB, id uuid.UUID, from, to enums.OrderStatus) (bool, error) {
	result := tx.
		Model(&models.LocalOrder{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, fmt.Errorf("updating local order %s status: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// DecrementStockTx takes qty units of a SKU, refusing to go negative.
func (r *Repository) DecrementStockTx(tx *gorm.DB, sku string, qty int) (bool, error) {
	result := tx.
		Model(&models.LocalStock{}).
		Where("sku = ? AND qty >= ?", sku, qty).
		Updates(map[string]any{
			"qty":        gorm.Expr("qty - ?", qty),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("decrementing stock for %s: %w", sku, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// IncrementStockTx returns qty units of a SKU, e.g. on refund.
func (r *Repository) IncrementStockTx(tx *gorm.DB, sku string, qty int) error {
	err := tx.
		Model(&models.LocalStock{}).
		Where("sku = ?", sku).
		Updates(map[string]any{
			"qty":        gorm.Expr("qty + ?", qty),
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("incrementing stock for %s: %w", sku, err)
	}
	return nil
}

// SetStock writes an absolute quantity for a SKU, creating the row if needed.
func (r *Repository) SetStock(ctx context.Context, sku string, qty int) error {
	row := models.LocalStock{SKU: sku, Qty: qty, UpdatedAt: time.Now().UTC()}
	err := r.db.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sku"}},
		DoUpdates: clause.AssignmentColumns([]string{"qty", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("setting stock for %s: %w", sku, err)
	}
	return nil
}

// GetStock returns the on-hand quantity for one SKU. The second return is
// false when the SKU is unknown.
func (r *Repository) GetStock(ctx context.Context, sku string) (int, bool, error) {
	var row models.LocalStock
	err := r.db.DB().WithContext(ctx).Where("sku = ?", sku).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("loading stock for %s: %w", sku, err)
	}
	return row.Qty, true, nil
}

// StockSnapshot reads the full stock table, the unit the mirror loop pulls.
func (r *Repository) StockSnapshot(ctx context.Context) ([]models.LocalStock, error) {
	var rows []models.LocalStock
	err := r.db.DB().WithContext(ctx).Order("sku asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("reading stock snapshot: %w", err)
	}
	return rows, nil
}
