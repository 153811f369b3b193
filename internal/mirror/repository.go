package mirror

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bakeline/storesync-backend/pkg/db"
	"github.com/bakeline/storesync-backend/pkg/db/models"
)

// Repository owns the central stock mirror table. Only the pull loop and the
// manual resync write through it.
type Repository struct {
	db *db.Client
}

func NewRepository(client *db.Client) (*Repository, error) {
	if client == nil {
		return nil, fmt.Errorf("mirror repository requires a db client")
	}
	return &Repository{db: client}, nil
}

// UpsertTx writes a snapshot batch, inserting unseen (store_id, sku) pairs and
// overwriting quantities for known ones.
func (r *Repository) UpsertTx(tx *gorm.DB, rows []models.StockMirrorRow) error {
	if len(rows) == 0 {
		return nil
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_id"}, {Name: "sku"}},
		DoUpdates: clause.AssignmentColumns([]string{"qty", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upserting stock mirror rows: %w", err)
	}
	return nil
}

// DeleteStoreTx clears every mirror row belonging to one store.
func (r *Repository) DeleteStoreTx(tx *gorm.DB, storeID string) error {
	err := tx.Where("store_id = ?", storeID).Delete(&models.StockMirrorRow{}).Error
	if err != nil {
		return fmt.Errorf("clearing stock mirror for store %s: %w", storeID, err)
	}
	return nil
}

// List returns mirror rows, optionally scoped to one store, ordered for stable
// pagination.
func (r *Repository) List(ctx context.Context, storeID string, limit int) ([]models.StockMirrorRow, error) {
	query := r.db.DB().WithContext(ctx).
		Order("store_id asc, sku asc").
		Limit(limit)
	if storeID != "" {
		query = query.Where("store_id = ?", storeID)
	}

	var rows []models.StockMirrorRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing stock mirror rows: %w", err)
	}
	return rows, nil
}

// Stores returns the distinct store ids present in the mirror.
func (r *Repository) Stores(ctx context.Context) ([]string, error) {
	var stores []string
	err := r.db.DB().WithContext(ctx).
		Model(&models.StockMirrorRow{}).
		Distinct("store_id").
		Order("store_id asc").
		Pluck("store_id", &stores).Error
	if err != nil {
		return nil, fmt.Errorf("listing mirrored stores: %w", err)
	}
	return stores, nil
}
