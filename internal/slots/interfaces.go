package slots

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nqluong/appointment-microservice-sub001/pkg/db/models"
)

// Repository persists doctor slots and their reservations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindSlotByID(ctx context.Context, id uuid.UUID) (*models.DoctorAvailableSlot, error)
	// ClaimSlot marks the slot unavailable if it still carries the expected
	// version and is available. It reports whether the claim won the race.
	ClaimSlot(ctx context.Context, slotID uuid.UUID, expectedVersion int64) (bool, error)
	// ReleaseSlot marks the slot available again. Releasing an already
	// available slot is a no-op.
	ReleaseSlot(ctx context.Context, slotID uuid.UUID) error

	CreateReservation(ctx context.Context, reservation *models.SlotReservation) error
	FindReservationByID(ctx context.Context, id uuid.UUID) (*models.SlotReservation, error)
	FindReservationByIdempotencyKey(ctx context.Context, key string) (*models.SlotReservation, error)
	FindActiveReservationBySlot(ctx context.Context, slotID uuid.UUID) (*models.SlotReservation, error)
	// ConfirmReservation marks the reservation confirmed. It reports whether
	// the row changed.
	ConfirmReservation(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// DeactivateReservation clears the active flag and records the reason.
	// It reports whether the row changed.
	DeactivateReservation(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	// ListExpired returns active unconfirmed reservations whose expiry has
	// passed.
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]models.SlotReservation, error)
}
