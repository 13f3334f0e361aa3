package models

import (
	"time"

	"github.com/google/uuid"
)

// SlotReservation is an idempotent hold on a doctor slot. At most one active
// reservation may exist per slot; retries with the same idempotency key
// return the original row.
type SlotReservation struct {
	ID                 uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SlotID             uuid.UUID  `gorm:"column:slot_id;type:uuid;not null;index"`
	PatientID          uuid.UUID  `gorm:"column:patient_id;type:uuid;not null"`
	IdempotencyKey     string     `gorm:"column:idempotency_key;uniqueIndex:ux_slot_reservations_idempotency_key;not null"`
	ReservedAt         time.Time  `gorm:"column:reserved_at;not null"`
	ExpiresAt          time.Time  `gorm:"column:expires_at;not null"`
	Active             bool       `gorm:"column:active;not null;default:true"`
	Confirmed          bool       `gorm:"column:confirmed;not null;default:false"`
	ConfirmedAt        *time.Time `gorm:"column:confirmed_at"`
	CancellationReason *string    `gorm:"column:cancellation_reason"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
