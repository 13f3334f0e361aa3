package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/nqluong/appointment-microservice-sub001/internal/saga"
	"github.com/nqluong/appointment-microservice-sub001/pkg/db/models"
	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
	"github.com/nqluong/appointment-microservice-sub001/pkg/logger"
	"github.com/nqluong/appointment-microservice-sub001/pkg/metrics"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox/payloads"
)

const (
	defaultPendingTimeout = 15 * time.Minute
	defaultSweepBatch     = 100

	pendingTimeoutReason  = "APPOINTMENT_PENDING_TIMEOUT"
	pendingTimeoutService = "appointment-expiration"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// AppointmentTTLJobParams configure the pending appointment reaper.
type AppointmentTTLJobParams struct {
	Logger         *logger.Logger
	DB             txRunner
	Sagas          saga.Repository
	Outbox         outboxEmitter
	Metrics        *metrics.CronJobMetrics
	PendingTimeout time.Duration
	BatchSize      int
}

// NewAppointmentTTLJob builds the job that fails sagas whose appointment
// stayed pending past the timeout. The emitted failure event drives the
// regular compensation path through the consumer.
func NewAppointmentTTLJob(params AppointmentTTLJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Sagas == nil {
		return nil, fmt.Errorf("saga repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	timeout := params.PendingTimeout
	if timeout <= 0 {
		timeout = defaultPendingTimeout
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &appointmentTTLJob{
		logg:    params.Logger,
		db:      params.DB,
		sagas:   params.Sagas,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		timeout: timeout,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type appointmentTTLJob struct {
	logg    *logger.Logger
	db      txRunner
	sagas   saga.Repository
	outbox  outboxEmitter
	metrics *metrics.CronJobMetrics
	timeout time.Duration
	batch   int
	now     func() time.Time
}

func (j *appointmentTTLJob) Name() string { return "appointment-ttl" }

func (j *appointmentTTLJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.timeout)
	appointments, err := j.sagas.ListPendingBefore(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query pending appointments: %w", err)
	}

	var errs error
	expired := 0
	for _, appointment := range appointments {
		apptCtx := j.logg.WithAppointmentID(ctx, appointment.ID.String())
		if err := j.expireAppointment(apptCtx, appointment); err != nil {
			j.logg.Error(apptCtx, "expire pending appointment", err)
			errs = multierr.Append(errs, err)
			continue
		}
		expired++
	}
	j.metrics.AddSwept(j.Name(), expired)

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"scanned": len(appointments),
		"expired": expired,
	})
	j.logg.Info(logCtx, "pending appointment sweep complete")
	return errs
}

func (j *appointmentTTLJob) expireAppointment(ctx context.Context, appointment models.Appointment) error {
	state, err := j.sagas.FindSagaByAppointment(ctx, appointment.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			j.logg.Warn(ctx, "pending appointment has no saga state")
			return nil
		}
		return fmt.Errorf("load saga state: %w", err)
	}
	if state.Status.IsTerminal() {
		return nil
	}
	if state.Status == enums.SagaStatusFailed || state.Status == enums.SagaStatusCompensating {
		// Already failing. Re-emitting the failure event nudges a stuck
		// compensation back through the consumer.
		return j.emitTimeout(ctx, state)
	}
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		reason := pendingTimeoutReason
		moved, err := j.sagas.WithTx(tx).TransitionSaga(ctx, state.SagaID, state.Status, enums.SagaStatusFailed, enums.SagaStepCompensation, &reason)
		if err != nil {
			return fmt.Errorf("fail saga: %w", err)
		}
		if !moved {
			// The saga advanced since the listing. Let the next sweep
			// re-evaluate it.
			return nil
		}
		return j.outbox.EmitIfNotExists(ctx, tx, j.timeoutEvent(state))
	})
}

func (j *appointmentTTLJob) emitTimeout(ctx context.Context, state *models.SagaState) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		return j.outbox.EmitIfNotExists(ctx, tx, j.timeoutEvent(state))
	})
}

func (j *appointmentTTLJob) timeoutEvent(state *models.SagaState) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventValidationFailed,
		AggregateType: enums.AggregateSaga,
		AggregateID:   state.SagaID,
		Data: payloads.ValidationFailedEvent{
			SagaID:        state.SagaID,
			AppointmentID: state.AppointmentID,
			Reason:        pendingTimeoutReason,
			FailedService: pendingTimeoutService,
			Timestamp:     j.now().UTC(),
		},
	}
}
