package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
)

// OutboxEvent represents an append-only event emitted via the outbox pattern.
// The row is inserted inside the transaction that performed the originating
// domain mutation; only the publisher mutates it afterwards.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID       uuid.UUID                 `gorm:"column:event_id;type:uuid;uniqueIndex:ux_outbox_events_event_id;not null"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:event_type;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:aggregate_type;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	Processed     bool                      `gorm:"column:processed;not null;default:false"`
	ProcessedAt   *time.Time                `gorm:"column:processed_at"`
	RetryCount    int                       `gorm:"column:retry_count;not null;default:0"`
	ErrorMessage  *string                   `gorm:"column:error_message"`
	Version       int                       `gorm:"column:version;not null;default:1"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
}
