package slots

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nqluong/appointment-microservice-sub001/pkg/db/models"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a slots repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindSlotByID(ctx context.Context, id uuid.UUID) (*models.DoctorAvailableSlot, error) {
	var slot models.DoctorAvailableSlot
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&slot).Error
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

func (r *repository) ClaimSlot(ctx context.Context, slotID uuid.UUID, expectedVersion int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.DoctorAvailableSlot{}).
		Where("id = ? AND version = ? AND is_available = ?", slotID, expectedVersion, true).
		Updates(map[string]any{
			"is_available": false,
			"version":      gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ReleaseSlot(ctx context.Context, slotID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.DoctorAvailableSlot{}).
		Where("id = ? AND is_available = ?", slotID, false).
		Updates(map[string]any{
			"is_available": true,
			"version":      gorm.Expr("version + 1"),
		}).Error
}

func (r *repository) CreateReservation(ctx context.Context, reservation *models.SlotReservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *repository) FindReservationByID(ctx context.Context, id uuid.UUID) (*models.SlotReservation, error) {
	var reservation models.SlotReservation
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) FindReservationByIdempotencyKey(ctx context.Context, key string) (*models.SlotReservation, error) {
	var reservation models.SlotReservation
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) FindActiveReservationBySlot(ctx context.Context, slotID uuid.UUID) (*models.SlotReservation, error) {
	var reservation models.SlotReservation
	err := r.db.WithContext(ctx).
		Where("slot_id = ? AND active = ?", slotID, true).
		Order("reserved_at DESC").
		First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) ConfirmReservation(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SlotReservation{}).
		Where("id = ? AND active = ? AND confirmed = ?", id, true, false).
		Updates(map[string]any{
			"confirmed":    true,
			"confirmed_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) DeactivateReservation(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SlotReservation{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]any{
			"active":              false,
			"cancellation_reason": reason,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]models.SlotReservation, error) {
	var reservations []models.SlotReservation
	query := r.db.WithContext(ctx).
		Where("active = ? AND confirmed = ? AND expires_at < ?", true, false, cutoff).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}
