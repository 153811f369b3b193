package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/bakeline/storesync-backend/api/responses"
	"github.com/bakeline/storesync-backend/api/validators"
	"github.com/bakeline/storesync-backend/pkg/db/models"
	"github.com/bakeline/storesync-backend/pkg/logger"
)

type outboxReader interface {
	CountUndelivered(ctx context.Context) (int64, error)
	Recent(ctx context.Context, limit int) ([]models.OutboxEvent, error)
}

type outboxEventSummary struct {
	ID           int64     `json:"id"`
	Topic        string    `json:"topic"`
	Delivered    bool      `json:"delivered"`
	AttemptCount int       `json:"attempt_count"`
	LastError    *string   `json:"last_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// OutboxSummary reports the bound store's backlog and its newest events, the
// operator window into sync lag.
func OutboxSummary(storeID string, reader outboxReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		undelivered, err := reader.CountUndelivered(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		recent, err := reader.Recent(ctx, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		events := make([]outboxEventSummary, 0, len(recent))
		for _, event := range recent {
			events = append(events, outboxEventSummary{
				ID:           event.ID,
				Topic:        string(event.Topic),
				Delivered:    event.Delivered,
				AttemptCount: event.AttemptCount,
				LastError:    event.LastError,
				CreatedAt:    event.CreatedAt,
			})
		}

		responses.WriteSuccess(w, map[string]any{
			"store_id":          storeID,
			"undelivered_count": undelivered,
			"recent":            events,
		})
	}
}
