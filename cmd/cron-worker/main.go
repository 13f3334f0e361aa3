package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nqluong/appointment-microservice-sub001/internal/cron"
	"github.com/nqluong/appointment-microservice-sub001/internal/saga"
	"github.com/nqluong/appointment-microservice-sub001/internal/slots"
	"github.com/nqluong/appointment-microservice-sub001/pkg/config"
	"github.com/nqluong/appointment-microservice-sub001/pkg/db"
	"github.com/nqluong/appointment-microservice-sub001/pkg/logger"
	"github.com/nqluong/appointment-microservice-sub001/pkg/metrics"
	"github.com/nqluong/appointment-microservice-sub001/pkg/migrate"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox"
	"github.com/nqluong/appointment-microservice-sub001/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
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

	ttlJob, err := cron.NewAppointmentTTLJob(cron.AppointmentTTLJobParams{
		Logger:         logg,
		DB:             dbClient,
		Sagas:          sagaRepo,
		Outbox:         outbox.NewService(outboxRepo, logg),
		Metrics:        metricsCollector,
		PendingTimeout: cfg.Saga.PendingTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create appointment ttl job", err)
		os.Exit(1)
	}

	sweepJob, err := cron.NewReservationSweepJob(cron.ReservationSweepJobParams{
		Logger:  logg,
		Slots:   slotService,
		Metrics: metricsCollector,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation sweep job", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Metrics:    metricsCollector,
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(ttlJob, sweepJob, retentionJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Saga.SweepInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
