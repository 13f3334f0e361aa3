package saga

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/nqluong/appointment-microservice-sub001/pkg/db/models"
	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
	pkgerrors "github.com/nqluong/appointment-microservice-sub001/pkg/errors"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox/payloads"
)

// ReleaseReasonCompensation marks reservations released while unwinding a
// failed saga.
const ReleaseReasonCompensation = "SAGA_COMPENSATION"

// Compensator unwinds a failed saga. Each action is idempotent and isolated:
// one action failing does not stop the others, and the saga only reaches
// compensated once every action has succeeded. Until then redeliveries of the
// failure event re-run the remaining work.
type Compensator struct {
	svc *service
}

func newCompensator(svc *service) *Compensator {
	return &Compensator{svc: svc}
}

// Run executes the compensation actions for a saga in failed or compensating
// status.
func (c *Compensator) Run(ctx context.Context, state *models.SagaState) error {
	svc := c.svc

	if state.Status == enums.SagaStatusFailed {
		moved, err := svc.repo.TransitionSaga(ctx, state.SagaID, enums.SagaStatusFailed, enums.SagaStatusCompensating, enums.SagaStepCompensation, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "begin compensation")
		}
		if moved {
			svc.metrics.IncTransition(string(enums.SagaStatusFailed), string(enums.SagaStatusCompensating))
		}
		state.Status = enums.SagaStatusCompensating
	}
	if state.Status != enums.SagaStatusCompensating {
		return nil
	}

	appointment, err := svc.repo.FindAppointment(ctx, state.AppointmentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load appointment for compensation")
	}

	var errs error
	errs = multierr.Append(errs, c.releaseReservation(ctx, appointment))
	errs = multierr.Append(errs, c.cancelAppointment(ctx, state, appointment))
	if errs != nil {
		// Leave the saga in compensating; the next delivery retries.
		return errs
	}

	moved, err := svc.repo.TransitionSaga(ctx, state.SagaID, enums.SagaStatusCompensating, enums.SagaStatusCompensated, enums.SagaStepCompensation, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finish compensation")
	}
	if moved {
		svc.metrics.IncTransition(string(enums.SagaStatusCompensating), string(enums.SagaStatusCompensated))
		if svc.logger != nil {
			logCtx := svc.logger.WithSagaID(ctx, state.SagaID.String())
			svc.logger.Info(logCtx, "saga compensated")
		}
	}
	return nil
}

// releaseReservation frees the slot hold. A missing or already released
// reservation is fine.
func (c *Compensator) releaseReservation(ctx context.Context, appointment *models.Appointment) error {
	svc := c.svc

	reservation, err := svc.slots.ActiveReservation(ctx, appointment.SlotID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			svc.metrics.IncCompensation("release_reservation", "noop")
			return nil
		}
		svc.metrics.IncCompensation("release_reservation", "error")
		return err
	}
	if reservation.PatientID != appointment.PatientID {
		// The slot was re-reserved by someone else after our hold expired.
		svc.metrics.IncCompensation("release_reservation", "noop")
		return nil
	}
	if err := svc.slots.Release(ctx, reservation.ID, ReleaseReasonCompensation); err != nil {
		svc.metrics.IncCompensation("release_reservation", "error")
		return err
	}
	svc.metrics.IncCompensation("release_reservation", "ok")
	return nil
}

// cancelAppointment moves the appointment to cancelled and queues the
// cancellation notice. Reruns skip both steps.
func (c *Compensator) cancelAppointment(ctx context.Context, state *models.SagaState, appointment *models.Appointment) error {
	svc := c.svc

	reason := "booking saga failed"
	if state.FailureReason != nil && *state.FailureReason != "" {
		reason = *state.FailureReason
	}

	err := svc.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := svc.repo.WithTx(tx)
		changed, err := repo.CancelAppointment(ctx, appointment.ID, time.Now().UTC())
		if err != nil {
			return err
		}
		if !changed {
			// A previous run cancelled and queued the notice already.
			return nil
		}
		return svc.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAppointmentCancelled,
			AggregateType: enums.AggregateAppointment,
			AggregateID:   appointment.ID,
			Data: payloads.AppointmentCancelledEvent{
				AppointmentID: appointment.ID,
				SlotID:        appointment.SlotID,
				PatientUserID: appointment.PatientID,
				DoctorUserID:  appointment.DoctorID,
				Reason:        reason,
				CancelledBy:   enums.CancelActorSystem,
				CancelledAt:   time.Now().UTC(),
			},
		})
	})
	if err != nil {
		svc.metrics.IncCompensation("cancel_appointment", "error")
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel appointment")
	}
	svc.metrics.IncCompensation("cancel_appointment", "ok")
	return nil
}
