package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
)

// SagaState is the persisted booking saga, mutated only by the orchestrator.
type SagaState struct {
	SagaID        uuid.UUID        `gorm:"column:saga_id;type:uuid;primaryKey"`
	AppointmentID uuid.UUID        `gorm:"column:appointment_id;type:uuid;not null;index"`
	Status        enums.SagaStatus `gorm:"column:status;type:saga_status;not null;default:'started'"`
	CurrentStep   enums.SagaStep   `gorm:"column:current_step;type:saga_step;not null"`
	FailureReason *string          `gorm:"column:failure_reason"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides GORM's pluralization.
func (SagaState) TableName() string {
	return "saga_state"
}
