package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	sagaconsumer "github.com/nqluong/appointment-microservice-sub001/internal/consumers/saga"
	"github.com/nqluong/appointment-microservice-sub001/internal/saga"
	"github.com/nqluong/appointment-microservice-sub001/internal/slots"
	"github.com/nqluong/appointment-microservice-sub001/internal/validation"
	"github.com/nqluong/appointment-microservice-sub001/pkg/backoff"
	"github.com/nqluong/appointment-microservice-sub001/pkg/billing"
	"github.com/nqluong/appointment-microservice-sub001/pkg/config"
	"github.com/nqluong/appointment-microservice-sub001/pkg/db"
	"github.com/nqluong/appointment-microservice-sub001/pkg/identity"
	"github.com/nqluong/appointment-microservice-sub001/pkg/logger"
	"github.com/nqluong/appointment-microservice-sub001/pkg/medical"
	"github.com/nqluong/appointment-microservice-sub001/pkg/metrics"
	"github.com/nqluong/appointment-microservice-sub001/pkg/migrate"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox/idempotency"
	"github.com/nqluong/appointment-microservice-sub001/pkg/pubsub"
	"github.com/nqluong/appointment-microservice-sub001/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "saga-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "saga-worker"

	logg = logger.New(logger.Options{
		ServiceName: "saga-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "failed to close database", err)
		}
	}()

	err = migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient)
	requireResource(ctx, logg, "dev migrations", err)

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	manager, err := idempotency.NewManager(redisClient, cfg.Saga.IdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	retryPolicy := backoff.Policy{
		Attempts:   cfg.Collaborators.RetryAttempts,
		BaseDelay:  cfg.Collaborators.RetryBaseDelay,
		Multiplier: cfg.Collaborators.RetryMultiplier,
	}
	httpClient := &http.Client{Timeout: cfg.Collaborators.RequestTimeout}

	identityClient, err := identity.NewClient(cfg.Collaborators.IdentityBaseURL,
		identity.WithHTTPClient(httpClient),
		identity.WithRetryPolicy(retryPolicy))
	requireResource(ctx, logg, "identity client", err)

	medicalClient, err := medical.NewClient(cfg.Collaborators.MedicalBaseURL,
		medical.WithHTTPClient(httpClient),
		medical.WithRetryPolicy(retryPolicy))
	requireResource(ctx, logg, "medical client", err)

	billingClient, err := billing.NewClient(cfg.Collaborators.BillingBaseURL,
		billing.WithHTTPClient(httpClient),
		billing.WithRetryPolicy(retryPolicy))
	requireResource(ctx, logg, "billing client", err)

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	sagaRepo := saga.NewRepository(dbClient.DB())

	slotService, err := slots.NewService(slots.ServiceParams{
		DB:     dbClient,
		Repo:   slots.NewRepository(dbClient.DB()),
		Config: cfg.Saga,
		Logger: logg,
	})
	requireResource(ctx, logg, "slot service", err)

	orchestrator, err := saga.NewService(saga.ServiceParams{
		DB:      dbClient,
		Repo:    sagaRepo,
		Slots:   slotService,
		Outbox:  outboxService,
		Billing: billingClient,
		Logger:  logg,
		Metrics: metrics.NewSagaMetrics(prometheus.DefaultRegisterer),
	})
	requireResource(ctx, logg, "saga orchestrator", err)

	patientHandler, err := validation.NewPatientHandler(validation.PatientHandlerParams{
		DB:       dbClient,
		Outbox:   outboxService,
		Identity: identityClient,
		Logger:   logg,
	})
	requireResource(ctx, logg, "patient validation handler", err)

	doctorHandler, err := validation.NewDoctorHandler(validation.DoctorHandlerParams{
		DB:           dbClient,
		Outbox:       outboxService,
		Medical:      medicalClient,
		Appointments: sagaRepo,
		Slots:        slotService,
		Logger:       logg,
	})
	requireResource(ctx, logg, "doctor validation handler", err)

	dispatcher, err := sagaconsumer.NewDispatcher(orchestrator, patientHandler, doctorHandler)
	requireResource(ctx, logg, "saga dispatcher", err)

	sagaSub := pubsubClient.SagaSubscription()
	if sagaSub == nil {
		requireResource(ctx, logg, "saga subscription", errors.New("subscription not configured"))
	}
	sagaService, err := sagaconsumer.NewService(sagaSub, "saga-consumer", cfg.Consumers.Concurrency, dispatcher, manager, logg)
	requireResource(ctx, logg, "saga consumer", err)

	consumers := []*sagaconsumer.Service{sagaService}

	// The payment stream is optional; deployments without a billing
	// integration run the saga stream alone.
	if paymentsSub := pubsubClient.PaymentsSubscription(); paymentsSub != nil {
		paymentsService, err := sagaconsumer.NewService(paymentsSub, "payments-consumer", cfg.Consumers.Concurrency, dispatcher, manager, logg)
		requireResource(ctx, logg, "payments consumer", err)
		consumers = append(consumers, paymentsService)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "saga worker ready")

	errCh := make(chan error, len(consumers))
	for _, consumer := range consumers {
		consumer := consumer
		go func() {
			errCh <- consumer.Run(runCtx)
		}()
	}

	// The first consumer to stop takes the worker down; the shared context
	// cancellation drains the rest.
	var runErr error
	for range consumers {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) && runErr == nil {
			runErr = err
		}
		stop()
	}
	if runErr != nil {
		logg.Error(runCtx, "saga worker failed", runErr)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
