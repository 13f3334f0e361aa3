// Package saga consumes booking saga events from Pub/Sub and routes them to
// the orchestrator and validation stages.
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
	pkgerrors "github.com/nqluong/appointment-microservice-sub001/pkg/errors"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox/payloads"
)

// Orchestrator is the subset of the saga service the consumer drives.
type Orchestrator interface {
	OnSlotReservationRequested(ctx context.Context, evt payloads.SlotReservationRequestedEvent) error
	OnSlotReserved(ctx context.Context, evt payloads.SlotReservedEvent) error
	OnPatientValidated(ctx context.Context, evt payloads.PatientValidatedEvent) error
	OnDoctorValidated(ctx context.Context, evt payloads.DoctorValidatedEvent) error
	OnPaymentCompleted(ctx context.Context, evt payloads.PaymentCompletedEvent) error
	OnPaymentFailed(ctx context.Context, evt payloads.PaymentFailedEvent) error
	OnValidationFailed(ctx context.Context, evt payloads.ValidationFailedEvent) error
}

// PatientValidator handles patient validation requests.
type PatientValidator interface {
	Handle(ctx context.Context, evt payloads.PatientValidationRequestedEvent) error
}

// DoctorValidator handles doctor validation requests.
type DoctorValidator interface {
	Handle(ctx context.Context, evt payloads.DoctorValidationRequestedEvent) error
}

// ErrUnhandledEvent marks event types this consumer does not route.
var ErrUnhandledEvent = errors.New("event type not handled by saga consumer")

// Dispatcher routes decoded envelopes to the stage that owns the event type.
type Dispatcher struct {
	orchestrator Orchestrator
	patients     PatientValidator
	doctors      DoctorValidator
}

// NewDispatcher builds the saga event dispatcher.
func NewDispatcher(orchestrator Orchestrator, patients PatientValidator, doctors DoctorValidator) (*Dispatcher, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator required")
	}
	if patients == nil {
		return nil, fmt.Errorf("patient validator required")
	}
	if doctors == nil {
		return nil, fmt.Errorf("doctor validator required")
	}
	return &Dispatcher{
		orchestrator: orchestrator,
		patients:     patients,
		doctors:      doctors,
	}, nil
}

// Dispatch decodes the envelope payload for the event type and invokes the
// owning handler. Unknown event types return ErrUnhandledEvent.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	switch eventType {
	case enums.EventSlotReservationRequested:
		var evt payloads.SlotReservationRequestedEvent
		if err := decode(envelope, &evt); err != nil {
			return err
		}
		return d.orchestrator.OnSlotReservationRequested(ctx, evt)
	case enums.EventSlotReserved:
		var evt payloads.SlotReservedEvent
		if err := decode(envelope, &evt); err != nil {
			return err
		}
		return d.orchestrator.OnSlotReserved(ctx, evt)
	case enums.EventPatientValidationRequested:
		var evt payloads.PatientValidationRequestedEvent
		if err := decode(envelope, &evt); err != nil {
			return err
		}
		return d.patients.Handle(ctx, evt)
	case enums.EventPatientValidated:
		var evt payloads.PatientValidatedEvent
		if err := decode(envelope, &evt); err != nil {
			return err
		}
		return d.orchestrator.OnPatientValidated(ctx, evt)
	case enums.EventDoctorValidationRequested:
		var evt payloads.DoctorValidationRequestedEvent
		if err := decode(envelope, &evt); err != nil {
			return err
		}
		return d.doctors.Handle(ctx, evt)
	case enums.EventDoctorValidated:
		var evt payloads.DoctorValidatedEvent
		if err := decode(envelope, &evt); err != nil {
			return err
		}
		return d.orchestrator.OnDoctorValidated(ctx, evt)
	case enums.EventValidationFailed:
		var evt payloads.ValidationFailedEvent
		if err := decode(envelope, &evt); err != nil {
			return err
		}
		return d.orchestrator.OnValidationFailed(ctx, evt)
	case enums.EventPaymentCompleted:
		var evt payloads.PaymentCompletedEvent
		if err := decode(envelope, &evt); err != nil {
			return err
		}
		return d.orchestrator.OnPaymentCompleted(ctx, evt)
	case enums.EventPaymentFailed:
		var evt payloads.PaymentFailedEvent
		if err := decode(envelope, &evt); err != nil {
			return err
		}
		return d.orchestrator.OnPaymentFailed(ctx, evt)
	default:
		return ErrUnhandledEvent
	}
}

// decode failures are terminal: redelivering a malformed payload can never
// succeed.
func decode(envelope outbox.PayloadEnvelope, dest any) error {
	if len(envelope.Data) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "empty event payload")
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event payload")
	}
	return nil
}
