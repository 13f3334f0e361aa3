package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nqluong/appointment-microservice-sub001/pkg/db/models"
	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&event).Error
}

// FetchUnprocessedForPublish selects the oldest unprocessed rows still under
// the retry ceiling. Rows at or past maxAttempts stay in the table for manual
// inspection but are never selected again.
func (r *Repository) FetchUnprocessedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		tx = r.db
	}
	var rows []models.OutboxEvent
	err := tx.Where("processed = ? AND retry_count < ?", false, maxAttempts).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// MarkProcessedTx records a positive broker acknowledgment.
func (r *Repository) MarkProcessedTx(tx *gorm.DB, id uuid.UUID) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": time.Now(),
		}).Error
}

// MarkFailedTx stores the publish error and bumps the retry counter, leaving
// the row unprocessed for the next poll.
func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"error_message": err.Error(),
			"retry_count":   gorm.Expr("retry_count + 1"),
		}).Error
}

// MarkTerminalTx pins retry_count at the ceiling so the row is excluded from
// future polls without being deleted.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"error_message": err.Error(),
			"retry_count":   terminalAttempts,
		}).Error
}

// ExistsTx reports whether an unprocessed event of the given type is queued
// for the aggregate. Processed rows do not count: once the broker has the
// event a sweep is free to queue it again.
func (r *Repository) ExistsTx(tx *gorm.DB, eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_type = ? AND aggregate_id = ? AND processed = ?", eventType, aggregateType, aggregateID, false).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Exists checks outside a transaction, for sweep pre-checks.
func (r *Repository) Exists(ctx context.Context, eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return r.ExistsTx(r.db.WithContext(ctx), eventType, aggregateType, aggregateID)
}

// DeleteProcessedBefore reclaims storage from processed rows older than the
// retention cutoff.
func (r *Repository) DeleteProcessedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	if ctx != nil {
		tx = tx.WithContext(ctx)
	}
	result := tx.Where("processed = ? AND processed_at < ?", true, cutoff).
		Delete(&models.OutboxEvent{})
	return result.RowsAffected, result.Error
}
