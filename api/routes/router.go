package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nqluong/appointment-microservice-sub001/api/controllers"
	"github.com/nqluong/appointment-microservice-sub001/api/middleware"
	"github.com/nqluong/appointment-microservice-sub001/pkg/config"
	"github.com/nqluong/appointment-microservice-sub001/pkg/logger"
	pkgredis "github.com/nqluong/appointment-microservice-sub001/pkg/redis"
)

type idempotencyStore interface {
	pkgredis.IdempotencyStore
	controllers.Pinger
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient idempotencyStore,
	pubsubClient controllers.Pinger,
	bookingService controllers.BookingStarter,
	bookingReader controllers.BookingReader,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient, pubsubClient))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/bookings", func(r chi.Router) {
		r.Use(middleware.Idempotency(redisClient, logg))
		r.Post("/", controllers.BookingCreate(bookingService, logg))
		r.Get("/{sagaId}", controllers.BookingStatus(bookingReader, logg))
	})

	return r
}
