package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
)

// SlotReservationRequestedEvent asks the slot reservation manager to hold a
// slot for the saga.
type SlotReservationRequestedEvent struct {
	SagaID         uuid.UUID `json:"sagaId"`
	SlotID         uuid.UUID `json:"slotId"`
	DoctorID       uuid.UUID `json:"doctorId"`
	PatientID      uuid.UUID `json:"patientId"`
	IdempotencyKey string    `json:"idempotencyKey"`
}

// SlotReservedEvent reports a successful hold back to the orchestrator.
type SlotReservedEvent struct {
	SagaID          uuid.UUID `json:"sagaId"`
	SlotID          uuid.UUID `json:"slotId"`
	AppointmentID   uuid.UUID `json:"appointmentId"`
	AppointmentDate time.Time `json:"appointmentDate"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	ReservedBy      uuid.UUID `json:"reservedBy"`
	DoctorUserID    uuid.UUID `json:"doctorUserId"`
	Timestamp       time.Time `json:"timestamp"`
}

// PatientValidationRequestedEvent asks the patient service to vet the booking.
type PatientValidationRequestedEvent struct {
	SagaID        uuid.UUID `json:"sagaId"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	PatientUserID uuid.UUID `json:"patientUserId"`
	DoctorUserID  uuid.UUID `json:"doctorUserId"`
}

// PatientValidatedEvent carries the vetted patient profile.
type PatientValidatedEvent struct {
	SagaID        uuid.UUID `json:"sagaId"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	PatientUserID uuid.UUID `json:"patientUserId"`
	PatientName   string    `json:"patientName"`
	PatientEmail  string    `json:"patientEmail"`
	PatientPhone  string    `json:"patientPhone"`
	DoctorUserID  uuid.UUID `json:"doctorUserId"`
	Timestamp     time.Time `json:"timestamp"`
}

// DoctorValidationRequestedEvent asks the medical profile service to vet the
// doctor side of the booking.
type DoctorValidationRequestedEvent struct {
	SagaID        uuid.UUID `json:"sagaId"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	DoctorUserID  uuid.UUID `json:"doctorUserId"`
	PatientUserID uuid.UUID `json:"patientUserId"`
}

// DoctorValidatedEvent carries the vetted doctor profile and fee.
type DoctorValidatedEvent struct {
	SagaID          uuid.UUID       `json:"sagaId"`
	AppointmentID   uuid.UUID       `json:"appointmentId"`
	DoctorUserID    uuid.UUID       `json:"doctorUserId"`
	DoctorName      string          `json:"doctorName"`
	DoctorEmail     string          `json:"doctorEmail"`
	SpecialtyName   string          `json:"specialtyName"`
	ConsultationFee decimal.Decimal `json:"consultationFee"`
	Timestamp       time.Time       `json:"timestamp"`
}

// ValidationFailedEvent is the terminal business rejection for a saga stage.
type ValidationFailedEvent struct {
	SagaID        uuid.UUID `json:"sagaId"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	Reason        string    `json:"reason"`
	FailedService string    `json:"failedService"`
	Timestamp     time.Time `json:"timestamp"`
}

// PaymentCompletedEvent arrives from the payment service after settlement.
type PaymentCompletedEvent struct {
	PaymentID     uuid.UUID       `json:"paymentId"`
	AppointmentID uuid.UUID       `json:"appointmentId"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentType   string          `json:"paymentType"`
	PaymentMethod string          `json:"paymentMethod"`
	TransactionID string          `json:"transactionId"`
	Timestamp     time.Time       `json:"timestamp"`
}

// PaymentFailedEvent arrives from the payment service on a confirmed failure.
type PaymentFailedEvent struct {
	PaymentID        uuid.UUID `json:"paymentId"`
	AppointmentID    uuid.UUID `json:"appointmentId"`
	TransactionID    string    `json:"transactionId"`
	Reason           string    `json:"reason"`
	FailedService    string    `json:"failedService"`
	ConfirmedFailure bool      `json:"confirmedFailure"`
	Timestamp        time.Time `json:"timestamp"`
}

// AppointmentCancelledEvent notifies downstream services of a cancellation.
type AppointmentCancelledEvent struct {
	AppointmentID uuid.UUID         `json:"appointmentId"`
	SlotID        uuid.UUID         `json:"slotId"`
	PatientUserID uuid.UUID         `json:"patientUserId"`
	DoctorUserID  uuid.UUID         `json:"doctorUserId"`
	Reason        string            `json:"reason"`
	CancelledBy   enums.CancelActor `json:"cancelledBy"`
	CancelledAt   time.Time         `json:"cancelledAt"`
}

// AppointmentConfirmedEvent is the success terminal event of the saga.
type AppointmentConfirmedEvent struct {
	AppointmentID uuid.UUID       `json:"appointmentId"`
	SlotID        uuid.UUID       `json:"slotId"`
	SagaID        uuid.UUID       `json:"sagaId"`
	PatientUserID uuid.UUID       `json:"patientUserId"`
	PatientName   string          `json:"patientName"`
	PatientEmail  string          `json:"patientEmail"`
	DoctorUserID  uuid.UUID       `json:"doctorUserId"`
	DoctorName    string          `json:"doctorName"`
	SpecialtyName string          `json:"specialtyName"`
	PaymentID     uuid.UUID       `json:"paymentId"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transactionId"`
	Timestamp     time.Time       `json:"timestamp"`
}
