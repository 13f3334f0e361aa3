package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
)

// Appointment is the booking aggregate. It stays pending until the saga
// observes a completed payment, and is cancelled on any saga failure or
// expiry.
type Appointment struct {
	ID              uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DoctorID        uuid.UUID               `gorm:"column:doctor_id;type:uuid;not null;index"`
	PatientID       uuid.UUID               `gorm:"column:patient_id;type:uuid;not null;index"`
	SlotID          uuid.UUID               `gorm:"column:slot_id;type:uuid;not null"`
	Status          enums.AppointmentStatus `gorm:"column:status;type:appointment_status;not null;default:'pending'"`
	ConsultationFee decimal.Decimal         `gorm:"column:consultation_fee;type:numeric(12,2);not null"`
	ConfirmedAt     *time.Time              `gorm:"column:confirmed_at"`
	CancelledAt     *time.Time              `gorm:"column:cancelled_at"`
	CreatedAt       time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
