package controllers

import (
	"net/http"

	"github.com/bakeline/storesync-backend/api/responses"
	"github.com/bakeline/storesync-backend/pkg/config"
	"github.com/bakeline/storesync-backend/pkg/db"
	pkgerrors "github.com/bakeline/storesync-backend/pkg/errors"
	"github.com/bakeline/storesync-backend/pkg/logger"
	"github.com/bakeline/storesync-backend/pkg/redis"
)

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-StoreSync-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, central db.Pinger, redisClient redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-StoreSync-Env", cfg.App.Env)
		ctx := r.Context()

		if central != nil {
			if err := central.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "central database unavailable"))
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redis unavailable"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
