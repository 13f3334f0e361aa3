package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nqluong/appointment-microservice-sub001/api/routes"
	"github.com/nqluong/appointment-microservice-sub001/internal/saga"
	"github.com/nqluong/appointment-microservice-sub001/internal/slots"
	"github.com/nqluong/appointment-microservice-sub001/pkg/backoff"
	"github.com/nqluong/appointment-microservice-sub001/pkg/billing"
	"github.com/nqluong/appointment-microservice-sub001/pkg/config"
	"github.com/nqluong/appointment-microservice-sub001/pkg/db"
	"github.com/nqluong/appointment-microservice-sub001/pkg/logger"
	"github.com/nqluong/appointment-microservice-sub001/pkg/metrics"
	"github.com/nqluong/appointment-microservice-sub001/pkg/migrate"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox"
	"github.com/nqluong/appointment-microservice-sub001/pkg/pubsub"
	"github.com/nqluong/appointment-microservice-sub001/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	billingClient, err := billing.NewClient(cfg.Collaborators.BillingBaseURL,
		billing.WithHTTPClient(&http.Client{Timeout: cfg.Collaborators.RequestTimeout}),
		billing.WithRetryPolicy(backoff.Policy{
			Attempts:   cfg.Collaborators.RetryAttempts,
			BaseDelay:  cfg.Collaborators.RetryBaseDelay,
			Multiplier: cfg.Collaborators.RetryMultiplier,
		}))
	if err != nil {
		logg.Error(context.Background(), "failed to create billing client", err)
		os.Exit(1)
	}

	sagaRepo := saga.NewRepository(dbClient.DB())
	slotService, err := slots.NewService(slots.ServiceParams{
		DB:     dbClient,
		Repo:   slots.NewRepository(dbClient.DB()),
		Config: cfg.Saga,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create slot service", err)
		os.Exit(1)
	}

	orchestrator, err := saga.NewService(saga.ServiceParams{
		DB:      dbClient,
		Repo:    sagaRepo,
		Slots:   slotService,
		Outbox:  outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Billing: billingClient,
		Logger:  logg,
		Metrics: metrics.NewSagaMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create saga orchestrator", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting booking api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, pubsubClient, orchestrator, sagaRepo),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
