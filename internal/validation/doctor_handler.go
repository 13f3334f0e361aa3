package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nqluong/appointment-microservice-sub001/pkg/db/models"
	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
	pkgerrors "github.com/nqluong/appointment-microservice-sub001/pkg/errors"
	"github.com/nqluong/appointment-microservice-sub001/pkg/logger"
	"github.com/nqluong/appointment-microservice-sub001/pkg/medical"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox/payloads"
)

type medicalClient interface {
	GetDoctorStatus(ctx context.Context, doctorID uuid.UUID) (*medical.DoctorStatus, error)
	HasOverlappingAppointment(ctx context.Context, window medical.AppointmentWindow) (bool, error)
}

type appointmentReader interface {
	FindAppointment(ctx context.Context, id uuid.UUID) (*models.Appointment, error)
}

type slotReader interface {
	GetSlot(ctx context.Context, slotID uuid.UUID) (*models.DoctorAvailableSlot, error)
}

// DoctorHandler reacts to doctor validation requests: it checks the doctor's
// approval and schedule against the medical service and reports the outcome
// through the outbox.
type DoctorHandler struct {
	db           dbClient
	outbox       outboxEmitter
	medical      medicalClient
	appointments appointmentReader
	slots        slotReader
	logger       *logger.Logger
}

// DoctorHandlerParams carries the dependencies for NewDoctorHandler.
type DoctorHandlerParams struct {
	DB           dbClient
	Outbox       outboxEmitter
	Medical      medicalClient
	Appointments appointmentReader
	Slots        slotReader
	Logger       *logger.Logger
}

// NewDoctorHandler builds the doctor validation stage.
func NewDoctorHandler(params DoctorHandlerParams) (*DoctorHandler, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Medical == nil {
		return nil, fmt.Errorf("medical client required")
	}
	if params.Appointments == nil {
		return nil, fmt.Errorf("appointment reader required")
	}
	if params.Slots == nil {
		return nil, fmt.Errorf("slot reader required")
	}
	return &DoctorHandler{
		db:           params.DB,
		outbox:       params.Outbox,
		medical:      params.Medical,
		appointments: params.Appointments,
		slots:        params.Slots,
		logger:       params.Logger,
	}, nil
}

// Handle validates the doctor side of the booking. Transient collaborator
// failures are returned so the message is redelivered; business rejections
// emit ValidationFailed.
func (h *DoctorHandler) Handle(ctx context.Context, evt payloads.DoctorValidationRequestedEvent) error {
	status, err := h.medical.GetDoctorStatus(ctx, evt.DoctorUserID)
	if err != nil {
		if pkgerrors.IsRetryable(err) {
			return err
		}
		return h.reject(ctx, evt, rejectionReason(err, "doctor lookup rejected"))
	}
	if !status.Approved {
		return h.reject(ctx, evt, "doctor is not approved for bookings")
	}

	window, err := h.appointmentWindow(ctx, evt)
	if err != nil {
		return err
	}
	overlap, err := h.medical.HasOverlappingAppointment(ctx, window)
	if err != nil {
		if pkgerrors.IsRetryable(err) {
			return err
		}
		return h.reject(ctx, evt, rejectionReason(err, "overlap check rejected"))
	}
	if overlap {
		return h.reject(ctx, evt, "doctor already has an appointment in this window")
	}

	return h.db.WithTx(ctx, func(tx *gorm.DB) error {
		return h.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDoctorValidated,
			AggregateType: enums.AggregateSaga,
			AggregateID:   evt.SagaID,
			Data: payloads.DoctorValidatedEvent{
				SagaID:          evt.SagaID,
				AppointmentID:   evt.AppointmentID,
				DoctorUserID:    evt.DoctorUserID,
				DoctorName:      status.FullName,
				DoctorEmail:     status.Email,
				SpecialtyName:   status.SpecialtyName,
				ConsultationFee: status.Fee,
				Timestamp:       time.Now().UTC(),
			},
		})
	})
}

func (h *DoctorHandler) appointmentWindow(ctx context.Context, evt payloads.DoctorValidationRequestedEvent) (medical.AppointmentWindow, error) {
	appointment, err := h.appointments.FindAppointment(ctx, evt.AppointmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return medical.AppointmentWindow{}, pkgerrors.New(pkgerrors.CodeNotFound, "appointment not found")
		}
		return medical.AppointmentWindow{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load appointment")
	}
	slot, err := h.slots.GetSlot(ctx, appointment.SlotID)
	if err != nil {
		return medical.AppointmentWindow{}, err
	}
	return medical.AppointmentWindow{
		DoctorID:  evt.DoctorUserID,
		Date:      slot.Date.Format("2006-01-02"),
		StartTime: slot.StartTime.Format("15:04"),
		EndTime:   slot.EndTime.Format("15:04"),
	}, nil
}

func (h *DoctorHandler) reject(ctx context.Context, evt payloads.DoctorValidationRequestedEvent, reason string) error {
	if h.logger != nil {
		logCtx := h.logger.WithSagaID(ctx, evt.SagaID.String())
		logCtx = h.logger.WithField(logCtx, "reason", reason)
		h.logger.Warn(logCtx, "doctor validation rejected")
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
				FailedService: "doctor-validation",
				Timestamp:     time.Now().UTC(),
			},
		})
	})
}
