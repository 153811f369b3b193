package drain

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bakeline/storesync-backend/pkg/db"
	"github.com/bakeline/storesync-backend/pkg/db/models"
)

// DLQRepository writes given-up events into the central dead letter table. The
// insert cannot share a transaction with the store-side status flip since the
// two rows live in different databases; the drain loop orders the writes so a
// crash in between leaves the event undelivered, not lost.
type DLQRepository struct {
	db *db.Client
}

func NewDLQRepository(client *db.Client) (*DLQRepository, error) {
	if client == nil {
		return nil, fmt.Errorf("dlq repository requires a db client")
	}
	return &DLQRepository{db: client}, nil
}

// Insert records one dead-lettered event.
func (r *DLQRepository) Insert(ctx context.Context, entry models.OutboxDLQ) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if err := r.db.DB().WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("inserting dlq entry for outbox %d: %w", entry.OutboxID, err)
	}
	return nil
}

// ListByStore returns the newest dead-lettered events for one store.
func (r *DLQRepository) ListByStore(ctx context.Context, storeID string, limit int) ([]models.OutboxDLQ, error) {
	var entries []models.OutboxDLQ
	err := r.db.DB().WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("created_at desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("listing dlq entries for store %s: %w", storeID, err)
	}
	return entries, nil
}
