package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nqluong/appointment-microservice-sub001/internal/slots"
	"github.com/nqluong/appointment-microservice-sub001/pkg/billing"
	"github.com/nqluong/appointment-microservice-sub001/pkg/db/models"
	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
	pkgerrors "github.com/nqluong/appointment-microservice-sub001/pkg/errors"
	"github.com/nqluong/appointment-microservice-sub001/pkg/logger"
	"github.com/nqluong/appointment-microservice-sub001/pkg/metrics"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox/payloads"
)

type dbClient interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type slotService interface {
	Reserve(ctx context.Context, input slots.ReserveInput) (*models.SlotReservation, error)
	Confirm(ctx context.Context, reservationID uuid.UUID) error
	Release(ctx context.Context, reservationID uuid.UUID, reason string) error
	GetSlot(ctx context.Context, slotID uuid.UUID) (*models.DoctorAvailableSlot, error)
	ActiveReservation(ctx context.Context, slotID uuid.UUID) (*models.SlotReservation, error)
}

type paymentClient interface {
	CreatePaymentSession(ctx context.Context, req billing.PaymentSessionRequest) (*billing.PaymentSession, error)
}

// Orchestrator drives the booking saga: it owns every state transition and
// emits the outbox event that triggers the next stage.
type Orchestrator interface {
	StartSaga(ctx context.Context, req BookingRequest) (*StartResult, error)

	OnSlotReservationRequested(ctx context.Context, evt payloads.SlotReservationRequestedEvent) error
	OnSlotReserved(ctx context.Context, evt payloads.SlotReservedEvent) error
	OnPatientValidated(ctx context.Context, evt payloads.PatientValidatedEvent) error
	OnDoctorValidated(ctx context.Context, evt payloads.DoctorValidatedEvent) error
	OnPaymentCompleted(ctx context.Context, evt payloads.PaymentCompletedEvent) error
	OnPaymentFailed(ctx context.Context, evt payloads.PaymentFailedEvent) error
	OnValidationFailed(ctx context.Context, evt payloads.ValidationFailedEvent) error
}

// ServiceParams carries the dependencies for NewService.
type ServiceParams struct {
	DB      dbClient
	Repo    Repository
	Slots   slotService
	Outbox  outboxEmitter
	Billing paymentClient
	Logger  *logger.Logger
	Metrics *metrics.SagaMetrics
}

type service struct {
	db      dbClient
	repo    Repository
	slots   slotService
	outbox  outboxEmitter
	billing paymentClient
	logger  *logger.Logger
	metrics *metrics.SagaMetrics
	comp    *Compensator
}

// NewService builds the saga orchestrator.
func NewService(params ServiceParams) (Orchestrator, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("saga repository required")
	}
	if params.Slots == nil {
		return nil, fmt.Errorf("slot service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	svc := &service{
		db:      params.DB,
		repo:    params.Repo,
		slots:   params.Slots,
		outbox:  params.Outbox,
		billing: params.Billing,
		logger:  params.Logger,
		metrics: params.Metrics,
	}
	svc.comp = newCompensator(svc)
	return svc, nil
}

func (s *service) StartSaga(ctx context.Context, req BookingRequest) (*StartResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	appointment := &models.Appointment{
		ID:              uuid.New(),
		DoctorID:        req.DoctorID,
		PatientID:       req.PatientID,
		SlotID:          req.SlotID,
		Status:          enums.AppointmentStatusPending,
		ConsultationFee: req.ConsultationFee,
	}
	state := &models.SagaState{
		SagaID:        uuid.New(),
		AppointmentID: appointment.ID,
		Status:        enums.SagaStatusStarted,
		CurrentStep:   enums.SagaStepSlotReservation,
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateAppointment(ctx, appointment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create appointment")
		}
		if err := repo.CreateSaga(ctx, state); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create saga state")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSlotReservationRequested,
			AggregateType: enums.AggregateSaga,
			AggregateID:   state.SagaID,
			Data: payloads.SlotReservationRequestedEvent{
				SagaID:         state.SagaID,
				SlotID:         req.SlotID,
				DoctorID:       req.DoctorID,
				PatientID:      req.PatientID,
				IdempotencyKey: req.IdempotencyKey,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		logCtx := s.logger.WithSagaID(ctx, state.SagaID.String())
		logCtx = s.logger.WithAppointmentID(logCtx, appointment.ID.String())
		s.logger.Info(logCtx, "booking saga started")
	}
	return &StartResult{SagaID: state.SagaID, AppointmentID: appointment.ID}, nil
}

func (s *service) OnSlotReservationRequested(ctx context.Context, evt payloads.SlotReservationRequestedEvent) error {
	state, err := s.loadSaga(ctx, evt.SagaID)
	if err != nil || state == nil {
		return err
	}
	if state.Status != enums.SagaStatusStarted {
		s.logNoOp(ctx, state, enums.EventSlotReservationRequested)
		return nil
	}

	reservation, err := s.slots.Reserve(ctx, slots.ReserveInput{
		SlotID:         evt.SlotID,
		PatientID:      evt.PatientID,
		IdempotencyKey: evt.IdempotencyKey,
	})
	if err != nil {
		if pkgerrors.IsRetryable(err) {
			return err
		}
		return s.fail(ctx, state, "slot-reservation", err.Error())
	}

	slot, err := s.slots.GetSlot(ctx, evt.SlotID)
	if err != nil {
		return err
	}

	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSlotReserved,
			AggregateType: enums.AggregateSaga,
			AggregateID:   state.SagaID,
			Data: payloads.SlotReservedEvent{
				SagaID:          state.SagaID,
				SlotID:          evt.SlotID,
				AppointmentID:   state.AppointmentID,
				AppointmentDate: slot.Date,
				StartTime:       slot.StartTime,
				EndTime:         slot.EndTime,
				ReservedBy:      reservation.PatientID,
				DoctorUserID:    slot.DoctorID,
				Timestamp:       time.Now().UTC(),
			},
		})
	})
}

func (s *service) OnSlotReserved(ctx context.Context, evt payloads.SlotReservedEvent) error {
	return s.advance(ctx, evt.SagaID, enums.EventSlotReserved, func(tx *gorm.DB, state *models.SagaState) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPatientValidationRequested,
			AggregateType: enums.AggregateSaga,
			AggregateID:   state.SagaID,
			Data: payloads.PatientValidationRequestedEvent{
				SagaID:        state.SagaID,
				AppointmentID: state.AppointmentID,
				PatientUserID: evt.ReservedBy,
				DoctorUserID:  evt.DoctorUserID,
			},
		})
	})
}

func (s *service) OnPatientValidated(ctx context.Context, evt payloads.PatientValidatedEvent) error {
	return s.advance(ctx, evt.SagaID, enums.EventPatientValidated, func(tx *gorm.DB, state *models.SagaState) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDoctorValidationRequested,
			AggregateType: enums.AggregateSaga,
			AggregateID:   state.SagaID,
			Data: payloads.DoctorValidationRequestedEvent{
				SagaID:        state.SagaID,
				AppointmentID: state.AppointmentID,
				DoctorUserID:  evt.DoctorUserID,
				PatientUserID: evt.PatientUserID,
			},
		})
	})
}

// OnDoctorValidated is the last validation stage. After recording it the
// orchestrator moves the saga to completed and opens a payment session. The
// appointment and the slot hold stay untouched until the payment service
// reports settlement.
func (s *service) OnDoctorValidated(ctx context.Context, evt payloads.DoctorValidatedEvent) error {
	if err := s.advance(ctx, evt.SagaID, enums.EventDoctorValidated, nil); err != nil {
		return err
	}
	return s.complete(ctx, evt.SagaID)
}

func (s *service) complete(ctx context.Context, sagaID uuid.UUID) error {
	state, err := s.loadSaga(ctx, sagaID)
	if err != nil || state == nil {
		return err
	}
	next, ok := Next(state.Status, enums.EventDoctorValidated)
	if !ok {
		s.logNoOp(ctx, state, enums.EventDoctorValidated)
		return nil
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.repo.WithTx(tx).TransitionSaga(ctx, state.SagaID, state.Status, next, stepFor(next), nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "transition saga")
		}
		if moved {
			s.metrics.IncTransition(string(state.Status), string(next))
		}
		return nil
	})
	if err != nil {
		return err
	}

	appointment, err := s.repo.FindAppointment(ctx, state.AppointmentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load appointment")
	}
	s.createPaymentSession(ctx, state, appointment)
	return nil
}

// createPaymentSession asks the payment service for a hosted checkout URL.
// Failures are logged, not returned: the payment service retries settlement
// on its own and reports back through payment events.
func (s *service) createPaymentSession(ctx context.Context, state *models.SagaState, appointment *models.Appointment) {
	if s.billing == nil {
		return
	}
	session, err := s.billing.CreatePaymentSession(ctx, billing.PaymentSessionRequest{
		AppointmentID: appointment.ID,
		PatientID:     appointment.PatientID,
		Amount:        appointment.ConsultationFee,
	})
	logCtx := ctx
	if s.logger != nil {
		logCtx = s.logger.WithSagaID(ctx, state.SagaID.String())
		logCtx = s.logger.WithAppointmentID(logCtx, appointment.ID.String())
	}
	if err != nil {
		if s.logger != nil {
			s.logger.Error(logCtx, "create payment session", err)
		}
		return
	}
	if s.logger != nil {
		logCtx = s.logger.WithField(logCtx, "payment_url", session.PaymentURL)
		s.logger.Info(logCtx, "payment session created")
	}
}

// OnPaymentCompleted settles the booking. Only here does the appointment
// move to confirmed: the reservation is locked in, the appointment flips,
// and the confirmation event goes out in the same transaction.
func (s *service) OnPaymentCompleted(ctx context.Context, evt payloads.PaymentCompletedEvent) error {
	state, err := s.loadSagaByAppointment(ctx, evt.AppointmentID)
	if err != nil || state == nil {
		return err
	}
	next, ok := Next(state.Status, enums.EventPaymentCompleted)
	if !ok {
		s.logNoOp(ctx, state, enums.EventPaymentCompleted)
		return nil
	}

	appointment, err := s.repo.FindAppointment(ctx, state.AppointmentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load appointment")
	}

	reservation, err := s.slots.ActiveReservation(ctx, appointment.SlotID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			// The hold expired before the payment settled; fail and compensate.
			return s.fail(ctx, state, "confirmation", "reservation expired before confirmation")
		}
		return err
	}
	if err := s.slots.Confirm(ctx, reservation.ID); err != nil {
		if pkgerrors.IsRetryable(err) {
			return err
		}
		return s.fail(ctx, state, "confirmation", err.Error())
	}

	now := time.Now().UTC()
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.ConfirmAppointment(ctx, appointment.ID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "confirm appointment")
		}
		moved, err := repo.TransitionSaga(ctx, state.SagaID, state.Status, next, stepFor(next), nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "transition saga")
		}
		if !moved {
			return nil
		}
		s.metrics.IncTransition(string(state.Status), string(next))
		s.metrics.IncCompleted()
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAppointmentConfirmed,
			AggregateType: enums.AggregateAppointment,
			AggregateID:   appointment.ID,
			Data: payloads.AppointmentConfirmedEvent{
				AppointmentID: appointment.ID,
				SlotID:        appointment.SlotID,
				SagaID:        state.SagaID,
				PatientUserID: appointment.PatientID,
				DoctorUserID:  appointment.DoctorID,
				PaymentID:     evt.PaymentID,
				Amount:        appointment.ConsultationFee,
				TransactionID: evt.TransactionID,
				Timestamp:     now,
			},
		})
	})
}

func (s *service) OnPaymentFailed(ctx context.Context, evt payloads.PaymentFailedEvent) error {
	state, err := s.loadSagaByAppointment(ctx, evt.AppointmentID)
	if err != nil || state == nil {
		return err
	}
	if _, ok := Next(state.Status, enums.EventPaymentFailed); !ok {
		s.logNoOp(ctx, state, enums.EventPaymentFailed)
		return nil
	}
	return s.fail(ctx, state, evt.FailedService, evt.Reason)
}

// OnValidationFailed moves an active saga to failed when needed and runs
// compensation. Redelivery while compensation is incomplete re-runs it; the
// actions are idempotent.
func (s *service) OnValidationFailed(ctx context.Context, evt payloads.ValidationFailedEvent) error {
	state, err := s.loadSaga(ctx, evt.SagaID)
	if err != nil || state == nil {
		return err
	}

	switch state.Status {
	case enums.SagaStatusFailed, enums.SagaStatusCompensating:
		return s.comp.Run(ctx, state)
	case enums.SagaStatusCompensated, enums.SagaStatusPaymentCompleted:
		s.logNoOp(ctx, state, enums.EventValidationFailed)
		return nil
	}

	next, ok := Next(state.Status, enums.EventValidationFailed)
	if !ok {
		s.logNoOp(ctx, state, enums.EventValidationFailed)
		return nil
	}
	reason := evt.Reason
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.repo.WithTx(tx).TransitionSaga(ctx, state.SagaID, state.Status, next, stepFor(next), &reason)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "transition saga")
		}
		if moved {
			s.metrics.IncTransition(string(state.Status), string(next))
			s.metrics.IncFailed(string(state.CurrentStep))
		}
		return nil
	})
	if err != nil {
		return err
	}

	state.Status = enums.SagaStatusFailed
	return s.comp.Run(ctx, state)
}

// fail records the failure and emits the failure event. Compensation runs
// when that event comes back through the consumer.
func (s *service) fail(ctx context.Context, state *models.SagaState, failedService, reason string) error {
	next, ok := Next(state.Status, enums.EventValidationFailed)
	if !ok {
		next, ok = Next(state.Status, enums.EventPaymentFailed)
		if !ok {
			s.logNoOp(ctx, state, enums.EventValidationFailed)
			return nil
		}
	}
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		moved, err := repo.TransitionSaga(ctx, state.SagaID, state.Status, next, stepFor(next), &reason)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "transition saga")
		}
		if !moved {
			return nil
		}
		s.metrics.IncTransition(string(state.Status), string(next))
		s.metrics.IncFailed(string(state.CurrentStep))
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventValidationFailed,
			AggregateType: enums.AggregateSaga,
			AggregateID:   state.SagaID,
			Data: payloads.ValidationFailedEvent{
				SagaID:        state.SagaID,
				AppointmentID: state.AppointmentID,
				Reason:        reason,
				FailedService: failedService,
				Timestamp:     time.Now().UTC(),
			},
		})
	})
}

func (s *service) advance(ctx context.Context, sagaID uuid.UUID, event enums.OutboxEventType, emit func(tx *gorm.DB, state *models.SagaState) error) error {
	state, err := s.loadSaga(ctx, sagaID)
	if err != nil || state == nil {
		return err
	}
	next, ok := Next(state.Status, event)
	if !ok {
		s.logNoOp(ctx, state, event)
		return nil
	}
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.repo.WithTx(tx).TransitionSaga(ctx, sagaID, state.Status, next, stepFor(next), nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "transition saga")
		}
		if !moved {
			// A concurrent delivery already applied this transition.
			return nil
		}
		s.metrics.IncTransition(string(state.Status), string(next))
		if emit == nil {
			return nil
		}
		return emit(tx, state)
	})
}

func (s *service) loadSaga(ctx context.Context, sagaID uuid.UUID) (*models.SagaState, error) {
	state, err := s.repo.FindSaga(ctx, sagaID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if s.logger != nil {
				logCtx := s.logger.WithSagaID(ctx, sagaID.String())
				s.logger.Warn(logCtx, "event for unknown saga dropped")
			}
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load saga")
	}
	return state, nil
}

func (s *service) loadSagaByAppointment(ctx context.Context, appointmentID uuid.UUID) (*models.SagaState, error) {
	state, err := s.repo.FindSagaByAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if s.logger != nil {
				logCtx := s.logger.WithAppointmentID(ctx, appointmentID.String())
				s.logger.Warn(logCtx, "payment event for unknown appointment dropped")
			}
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load saga by appointment")
	}
	return state, nil
}

func (s *service) logNoOp(ctx context.Context, state *models.SagaState, event enums.OutboxEventType) {
	if s.logger == nil {
		return
	}
	logCtx := s.logger.WithSagaID(ctx, state.SagaID.String())
	logCtx = s.logger.WithFields(logCtx, map[string]any{
		"event_type": event,
		"status":     state.Status,
	})
	s.logger.Warn(logCtx, "duplicate or out-of-order event dropped")
}
