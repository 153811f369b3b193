package outbox

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/bakeline/storesync-backend/pkg/db"
	"github.com/bakeline/storesync-backend/pkg/db/models"
)

// Repository reads and flips rows of one store's outbox table. Inserts go
// through InsertTx so they share the transaction of the business write that
// produced them.
type Repository struct {
	db *db.Client
}

func NewRepository(client *db.Client) (*Repository, error) {
	if client == nil {
		return nil, fmt.Errorf("outbox repository requires a db client")
	}
	return &Repository{db: client}, nil
}

// InsertTx appends an event inside the caller's transaction.
func (r *Repository) InsertTx(tx *gorm.DB, event *models.OutboxEvent) error {
	return tx.Create(event).Error
}

// FetchUndelivered returns the oldest undelivered events, ascending by id. The
// id order is the delivery order.
func (r *Repository) FetchUndelivered(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	err := r.db.DB().WithContext(ctx).
		Where("delivered = ?", false).
		Order("id asc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("fetching undelivered outbox events: %w", err)
	}
	return events, nil
}

// CountUndelivered reports the current backlog size.
func (r *Repository) CountUndelivered(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.DB().WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("delivered = ?", false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting undelivered outbox events: %w", err)
	}
	return count, nil
}

// Recent returns the newest events regardless of delivery state, for the
// operator summary endpoint.
func (r *Repository) Recent(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	err := r.db.DB().WithContext(ctx).
		Order("id desc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("fetching recent outbox events: %w", err)
	}
	return events, nil
}

// MarkDelivered acks an event and clears any stale failure note.
func (r *Repository) MarkDelivered(ctx context.Context, id int64) error {
	err := r.db.DB().WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{"delivered": true, "last_error": nil}).Error
	if err != nil {
		return fmt.Errorf("marking outbox event %d delivered: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed attempt and bumps the attempt counter.
func (r *Repository) MarkFailed(ctx context.Context, id int64, message string) error {
	err := r.db.DB().WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    truncateError(message),
		}).Error
	if err != nil {
		return fmt.Errorf("marking outbox event %d failed: %w", id, err)
	}
	return nil
}

// MarkWaiting records a failure that does not count against the attempt cap,
// used when the event only needs an earlier one to land first.
func (r *Repository) MarkWaiting(ctx context.Context, id int64, message string) error {
	err := r.db.DB().WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Update("last_error", truncateError(message)).Error
	if err != nil {
		return fmt.Errorf("marking outbox event %d waiting: %w", id, err)
	}
	return nil
}

// MarkDeadLettered flips delivered so the row stops blocking the queue while
// keeping the terminal error for inspection.
func (r *Repository) MarkDeadLettered(ctx context.Context, id int64, message string) error {
	err := r.db.DB().WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"delivered":  true,
			"last_error": truncateError(message),
		}).Error
	if err != nil {
		return fmt.Errorf("dead-lettering outbox event %d: %w", id, err)
	}
	return nil
}

const maxErrorLen = 512

func truncateError(message string) string {
	if len(message) > maxErrorLen {
		return message[:maxErrorLen]
	}
	return message
}
