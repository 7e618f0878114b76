package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/cartsync/api/responses"
	"github.com/angelmondragon/cartsync/pkg/config"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/redis"
)

const readinessTimeout = 2 * time.Second

// SessionCounter reports open cart sessions.
type SessionCounter interface {
	Len() int
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Cartsync-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the snapshot store when one is configured. pinger may be nil.
func HealthReady(cfg *config.Config, pinger redis.Pinger, sessions SessionCounter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Cartsync-Env", cfg.App.Env)
		if pinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()
			if err := pinger.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "snapshot store unavailable"))
				return
			}
		}
		payload := map[string]any{"status": "ready"}
		if sessions != nil {
			payload["sessions"] = sessions.Len()
		}
		responses.WriteSuccess(w, payload)
	}
}
