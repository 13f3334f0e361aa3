package controllers

import (
	"context"
	"net/http"

	"github.com/nqluong/appointment-microservice-sub001/api/responses"
	"github.com/nqluong/appointment-microservice-sub001/pkg/config"
	pkgerrors "github.com/nqluong/appointment-microservice-sub001/pkg/errors"
	"github.com/nqluong/appointment-microservice-sub001/pkg/logger"
)

// Pinger reports whether a backing resource is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Booking-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, db, redis, pubsub Pinger) http.HandlerFunc {
	checks := map[string]Pinger{
		"db":     db,
		"redis":  redis,
		"pubsub": pubsub,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Booking-Env", cfg.App.Env)
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check.Ping(r.Context()); err != nil {
				wrapped := pkgerrors.Wrap(pkgerrors.CodeDependency, err, "readiness check failed").WithDetails(map[string]string{"component": name})
				responses.WriteError(r.Context(), logg, w, wrapped)
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
