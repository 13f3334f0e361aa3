package saga

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nqluong/appointment-microservice-sub001/pkg/db/models"
	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
)

// Repository persists saga state rows and the appointment aggregate they
// govern.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateSaga(ctx context.Context, state *models.SagaState) error
	FindSaga(ctx context.Context, sagaID uuid.UUID) (*models.SagaState, error)
	FindSagaByAppointment(ctx context.Context, appointmentID uuid.UUID) (*models.SagaState, error)
	// TransitionSaga moves the saga from one status to another only if it
	// still holds the expected status. It reports whether the row changed.
	TransitionSaga(ctx context.Context, sagaID uuid.UUID, from, to enums.SagaStatus, step enums.SagaStep, failureReason *string) (bool, error)

	CreateAppointment(ctx context.Context, appointment *models.Appointment) error
	FindAppointment(ctx context.Context, id uuid.UUID) (*models.Appointment, error)
	// ConfirmAppointment moves a pending appointment to confirmed. It
	// reports whether the row changed.
	ConfirmAppointment(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// CancelAppointment moves a pending or confirmed appointment to
	// cancelled. It reports whether the row changed.
	CancelAppointment(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// ListPendingBefore returns pending appointments created before cutoff.
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Appointment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a saga repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateSaga(ctx context.Context, state *models.SagaState) error {
	return r.db.WithContext(ctx).Create(state).Error
}

func (r *repository) FindSaga(ctx context.Context, sagaID uuid.UUID) (*models.SagaState, error) {
	var state models.SagaState
	err := r.db.WithContext(ctx).
		Where("saga_id = ?", sagaID).
		First(&state).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *repository) FindSagaByAppointment(ctx context.Context, appointmentID uuid.UUID) (*models.SagaState, error) {
	var state models.SagaState
	err := r.db.WithContext(ctx).
		Where("appointment_id = ?", appointmentID).
		Order("created_at DESC").
		First(&state).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *repository) TransitionSaga(ctx context.Context, sagaID uuid.UUID, from, to enums.SagaStatus, step enums.SagaStep, failureReason *string) (bool, error) {
	updates := map[string]any{
		"status":       to,
		"current_step": step,
	}
	if failureReason != nil {
		updates["failure_reason"] = *failureReason
	}
	result := r.db.WithContext(ctx).
		Model(&models.SagaState{}).
		Where("saga_id = ? AND status = ?", sagaID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) CreateAppointment(ctx context.Context, appointment *models.Appointment) error {
	return r.db.WithContext(ctx).Create(appointment).Error
}

func (r *repository) FindAppointment(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	var appointment models.Appointment
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&appointment).Error
	if err != nil {
		return nil, err
	}
	return &appointment, nil
}

func (r *repository) ConfirmAppointment(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Where("id = ? AND status = ?", id, enums.AppointmentStatusPending).
		Updates(map[string]any{
			"status":       enums.AppointmentStatusConfirmed,
			"confirmed_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) CancelAppointment(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Where("id = ? AND status IN ?", id, []enums.AppointmentStatus{
			enums.AppointmentStatusPending,
			enums.AppointmentStatusConfirmed,
		}).
		Updates(map[string]any{
			"status":       enums.AppointmentStatusCancelled,
			"cancelled_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Appointment, error) {
	var appointments []models.Appointment
	query := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.AppointmentStatusPending, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&appointments).Error; err != nil {
		return nil, err
	}
	return appointments, nil
}
