package controllers

import (
	"context"
	"net/http"

	"github.com/bakeline/storesync-backend/api/responses"
	"github.com/bakeline/storesync-backend/pkg/logger"
)

type mirrorSyncer interface {
	SyncNow(ctx context.Context) error
	Reset(ctx context.Context) error
}

// MirrorSync runs one mirror upsert pass for the bound store, synchronously.
func MirrorSync(storeID string, svc mirrorSyncer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := svc.SyncNow(ctx); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"store_id": storeID, "status": "synced"})
	}
}

// MirrorReset rebuilds the bound store's mirror slice, pruning rows for SKUs
// the store no longer carries.
func MirrorReset(storeID string, svc mirrorSyncer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := svc.Reset(ctx); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"store_id": storeID, "status": "reset"})
	}
}
