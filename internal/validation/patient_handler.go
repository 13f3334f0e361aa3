// Package validation holds the saga stages that vet the two parties of a
// booking against their owning services.
package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
	pkgerrors "github.com/nqluong/appointment-microservice-sub001/pkg/errors"
	"github.com/nqluong/appointment-microservice-sub001/pkg/identity"
	"github.com/nqluong/appointment-microservice-sub001/pkg/logger"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox/payloads"
)

type dbClient interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type identityClient interface {
	GetUserStatus(ctx context.Context, userID uuid.UUID) (*identity.UserStatus, error)
}

// PatientHandler reacts to patient validation requests: it checks the patient
// against the identity service and reports the outcome through the outbox.
type PatientHandler struct {
	db       dbClient
	outbox   outboxEmitter
	identity identityClient
	logger   *logger.Logger
}

// PatientHandlerParams carries the dependencies for NewPatientHandler.
type PatientHandlerParams struct {
	DB       dbClient
	Outbox   outboxEmitter
	Identity identityClient
	Logger   *logger.Logger
}

// NewPatientHandler builds the patient validation stage.
func NewPatientHandler(params PatientHandlerParams) (*PatientHandler, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Identity == nil {
		return nil, fmt.Errorf("identity client required")
	}
	return &PatientHandler{
		db:       params.DB,
		outbox:   params.Outbox,
		identity: params.Identity,
		logger:   params.Logger,
	}, nil
}

// Handle validates the patient. Transient collaborator failures are returned
// so the message is redelivered; business rejections emit ValidationFailed.
func (h *PatientHandler) Handle(ctx context.Context, evt payloads.PatientValidationRequestedEvent) error {
	status, err := h.identity.GetUserStatus(ctx, evt.PatientUserID)
	if err != nil {
		if pkgerrors.IsRetryable(err) {
			return err
		}
		return h.reject(ctx, evt, rejectionReason(err, "patient lookup rejected"))
	}

	if !status.Active {
		return h.reject(ctx, evt, "patient account is not active")
	}
	if status.Role != identity.RolePatient {
		return h.reject(ctx, evt, "user does not hold the patient role")
	}

	return h.db.WithTx(ctx, func(tx *gorm.DB) error {
		return h.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPatientValidated,
			AggregateType: enums.AggregateSaga,
			AggregateID:   evt.SagaID,
			Data: payloads.PatientValidatedEvent{
				SagaID:        evt.SagaID,
				AppointmentID: evt.AppointmentID,
				PatientUserID: evt.PatientUserID,
				PatientName:   status.FullName,
				PatientEmail:  status.Email,
				PatientPhone:  status.Phone,
				DoctorUserID:  evt.DoctorUserID,
				Timestamp:     time.Now().UTC(),
			},
		})
	})
}

func (h *PatientHandler) reject(ctx context.Context, evt payloads.PatientValidationRequestedEvent, reason string) error {
	if h.logger != nil {
		logCtx := h.logger.WithSagaID(ctx, evt.SagaID.String())
		logCtx = h.logger.WithField(logCtx, "reason", reason)
		h.logger.Warn(logCtx, "patient validation rejected")
	}
	return h.db.WithTx(ctx, func(tx *gorm.DB) error {
		return h.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventValidationFailed,
			AggregateType: enums.AggregateSaga,
			AggregateID:   evt.SagaID,
			Data: payloads.ValidationFailedEvent{
				SagaID:        evt.SagaID,
				AppointmentID: evt.AppointmentID,
				Reason:        reason,
				FailedService: "patient-validation",
				Timestamp:     time.Now().UTC(),
			},
		})
	})
}

func rejectionReason(err error, fallback string) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	if err != nil {
		return err.Error()
	}
	return fallback
}
