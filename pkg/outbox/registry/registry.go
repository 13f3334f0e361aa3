package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nqluong/appointment-microservice-sub001/pkg/config"
	"github.com/nqluong/appointment-microservice-sub001/pkg/db/models"
	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate/topic/payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry maps each published event type to its descriptor. The set is
// closed at construction; rows with unknown types are non-retryable.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the publisher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

// Error implements error.
func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewEventRegistry builds the registry with the configured topic names.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.SagaTopic == "" {
		return nil, fmt.Errorf("saga topic is required")
	}
	if cfg.NotificationTopic == "" {
		return nil, fmt.Errorf("notification topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	sagaTopic := cfg.SagaTopic
	notificationTopic := cfg.NotificationTopic

	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventSlotReservationRequested,
			AggregateType:  enums.AggregateSaga,
			Topic:          sagaTopic,
			PayloadFactory: func() interface{} { return &payloads.SlotReservationRequestedEvent{} },
		},
		{
			EventType:      enums.EventSlotReserved,
			AggregateType:  enums.AggregateSaga,
			Topic:          sagaTopic,
			PayloadFactory: func() interface{} { return &payloads.SlotReservedEvent{} },
		},
		{
			EventType:      enums.EventPatientValidationRequested,
			AggregateType:  enums.AggregateSaga,
			Topic:          sagaTopic,
			PayloadFactory: func() interface{} { return &payloads.PatientValidationRequestedEvent{} },
		},
		{
			EventType:      enums.EventPatientValidated,
			AggregateType:  enums.AggregateSaga,
			Topic:          sagaTopic,
			PayloadFactory: func() interface{} { return &payloads.PatientValidatedEvent{} },
		},
		{
			EventType:      enums.EventDoctorValidationRequested,
			AggregateType:  enums.AggregateSaga,
			Topic:          sagaTopic,
			PayloadFactory: func() interface{} { return &payloads.DoctorValidationRequestedEvent{} },
		},
		{
			EventType:      enums.EventDoctorValidated,
			AggregateType:  enums.AggregateSaga,
			Topic:          sagaTopic,
			PayloadFactory: func() interface{} { return &payloads.DoctorValidatedEvent{} },
		},
		{
			EventType:      enums.EventValidationFailed,
			AggregateType:  enums.AggregateSaga,
			Topic:          sagaTopic,
			PayloadFactory: func() interface{} { return &payloads.ValidationFailedEvent{} },
		},
	} {
		reg.register(desc)
	}
	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventAppointmentConfirmed,
			AggregateType:  enums.AggregateAppointment,
			Topic:          notificationTopic,
			PayloadFactory: func() interface{} { return &payloads.AppointmentConfirmedEvent{} },
		},
		{
			EventType:      enums.EventAppointmentCancelled,
			AggregateType:  enums.AggregateAppointment,
			Topic:          notificationTopic,
			PayloadFactory: func() interface{} { return &payloads.AppointmentCancelledEvent{} },
		},
	} {
		reg.register(desc)
	}

	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}

	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload := desc.PayloadFactory()
	if payload == nil {
		return nil, NewNonRetryableError(fmt.Errorf("payload factory not configured for %s", event.EventType))
	}
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}
