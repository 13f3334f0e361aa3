package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateAppointment OutboxAggregateType = "appointment"
	AggregateSaga        OutboxAggregateType = "saga"
	AggregateSlot        OutboxAggregateType = "slot"
	AggregatePayment     OutboxAggregateType = "payment"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateAppointment,
	AggregateSaga,
	AggregateSlot,
	AggregatePayment,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventSlotReservationRequested   OutboxEventType = "slot_reservation_requested"
	EventSlotReserved               OutboxEventType = "slot_reserved"
	EventPatientValidationRequested OutboxEventType = "patient_validation_requested"
	EventPatientValidated           OutboxEventType = "patient_validated"
	EventDoctorValidationRequested  OutboxEventType = "doctor_validation_requested"
	EventDoctorValidated            OutboxEventType = "doctor_validated"
	EventValidationFailed           OutboxEventType = "validation_failed"
	EventPaymentCompleted           OutboxEventType = "payment_completed"
	EventPaymentFailed              OutboxEventType = "payment_failed"
	EventAppointmentConfirmed       OutboxEventType = "appointment_confirmed"
	EventAppointmentCancelled       OutboxEventType = "appointment_cancelled"
)

var validOutboxEventTypes = []OutboxEventType{
	EventSlotReservationRequested,
	EventSlotReserved,
	EventPatientValidationRequested,
	EventPatientValidated,
	EventDoctorValidationRequested,
	EventDoctorValidated,
	EventValidationFailed,
	EventPaymentCompleted,
	EventPaymentFailed,
	EventAppointmentConfirmed,
	EventAppointmentCancelled,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
