package slots

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nqluong/appointment-microservice-sub001/pkg/config"
	"github.com/nqluong/appointment-microservice-sub001/pkg/db"
	"github.com/nqluong/appointment-microservice-sub001/pkg/db/models"
	pkgerrors "github.com/nqluong/appointment-microservice-sub001/pkg/errors"
	"github.com/nqluong/appointment-microservice-sub001/pkg/logger"
)

// ReleaseReasonExpired marks reservations released by the expiry sweep.
const ReleaseReasonExpired = "RESERVATION_EXPIRED"

type dbClient interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ReserveInput carries the data needed to place a hold on a slot.
type ReserveInput struct {
	SlotID         uuid.UUID
	PatientID      uuid.UUID
	IdempotencyKey string
}

// Service exposes slot reservation operations.
type Service interface {
	// Reserve places an exclusive hold on the slot. Retries with the same
	// idempotency key return the original reservation.
	Reserve(ctx context.Context, input ReserveInput) (*models.SlotReservation, error)
	// Confirm pins the reservation after the saga completes. Confirming an
	// already confirmed reservation is a no-op.
	Confirm(ctx context.Context, reservationID uuid.UUID) error
	// Release cancels the hold and restores slot availability. Releasing a
	// reservation that is already inactive is a no-op.
	Release(ctx context.Context, reservationID uuid.UUID, reason string) error
	// ReleaseExpired releases every active unconfirmed reservation whose
	// expiry has passed and returns the released rows.
	ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]models.SlotReservation, error)
	// GetSlot loads a slot by ID.
	GetSlot(ctx context.Context, slotID uuid.UUID) (*models.DoctorAvailableSlot, error)
	// ActiveReservation returns the active reservation holding the slot, or
	// CodeNotFound when the slot carries no hold.
	ActiveReservation(ctx context.Context, slotID uuid.UUID) (*models.SlotReservation, error)
}

// ServiceParams carries the dependencies for NewService.
type ServiceParams struct {
	DB     dbClient
	Repo   Repository
	Config config.SagaConfig
	Logger *logger.Logger
}

type service struct {
	db          dbClient
	repo        Repository
	ttl         time.Duration
	casAttempts int
	logger      *logger.Logger
}

// NewService builds a slot reservation service.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("slots repository required")
	}
	ttl := params.Config.ReservationTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	attempts := params.Config.CASRetryAttempts
	if attempts < 1 {
		attempts = 3
	}
	return &service{
		db:          params.DB,
		repo:        params.Repo,
		ttl:         ttl,
		casAttempts: attempts,
		logger:      params.Logger,
	}, nil
}

func (s *service) Reserve(ctx context.Context, input ReserveInput) (*models.SlotReservation, error) {
	if input.SlotID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "slot ID is required")
	}
	if input.PatientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "patient ID is required")
	}
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}

	if existing, err := s.replay(ctx, input); err != nil || existing != nil {
		return existing, err
	}

	var reservation *models.SlotReservation
	for attempt := 0; attempt < s.casAttempts; attempt++ {
		claimed, err := s.tryClaim(ctx, input, &reservation)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeSlotUnavailable) {
				return s.resolveRace(ctx, input, err)
			}
			return nil, err
		}
		if claimed {
			return reservation, nil
		}
		// Lost the version race; re-read and try again.
	}
	return s.resolveRace(ctx, input, pkgerrors.New(pkgerrors.CodeSlotUnavailable, "slot was claimed by a concurrent reservation"))
}

// resolveRace re-checks the idempotency key after a lost claim. The winner
// may have been a concurrent delivery of this same request; its reservation
// is returned unchanged instead of a slot-unavailable error.
func (s *service) resolveRace(ctx context.Context, input ReserveInput, cause error) (*models.SlotReservation, error) {
	existing, err := s.replay(ctx, input)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return nil, cause
}

// replay returns the existing reservation when the idempotency key was seen
// before. A key reused with different slot or patient parameters is an error.
func (s *service) replay(ctx context.Context, input ReserveInput) (*models.SlotReservation, error) {
	existing, err := s.repo.FindReservationByIdempotencyKey(ctx, input.IdempotencyKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup reservation by idempotency key")
	}
	if existing.SlotID != input.SlotID || existing.PatientID != input.PatientID {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different parameters")
	}
	return existing, nil
}

func (s *service) tryClaim(ctx context.Context, input ReserveInput, out **models.SlotReservation) (bool, error) {
	claimed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		slot, err := repo.FindSlotByID(ctx, input.SlotID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "slot not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load slot")
		}
		if !slot.IsAvailable {
			return pkgerrors.New(pkgerrors.CodeSlotUnavailable, "slot is not available")
		}

		won, err := repo.ClaimSlot(ctx, slot.ID, slot.Version)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim slot")
		}
		if !won {
			return nil
		}

		now := time.Now().UTC()
		reservation := &models.SlotReservation{
			SlotID:         input.SlotID,
			PatientID:      input.PatientID,
			IdempotencyKey: input.IdempotencyKey,
			ReservedAt:     now,
			ExpiresAt:      now.Add(s.ttl),
			Active:         true,
		}
		if err := repo.CreateReservation(ctx, reservation); err != nil {
			if db.IsUniqueViolation(err, "") {
				// A concurrent delivery carrying the same key inserted first.
				return pkgerrors.Wrap(pkgerrors.CodeSlotUnavailable, err, "reservation already exists")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create reservation")
		}

		claimed = true
		*out = reservation
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (s *service) Confirm(ctx context.Context, reservationID uuid.UUID) error {
	if reservationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation ID is required")
	}

	updated, err := s.repo.ConfirmReservation(ctx, reservationID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "confirm reservation")
	}
	if updated {
		return nil
	}

	// No row changed: either the reservation is already confirmed (fine) or
	// it was released before confirmation could land.
	reservation, err := s.repo.FindReservationByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load reservation")
	}
	if reservation.Confirmed {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation is no longer active")
}

func (s *service) Release(ctx context.Context, reservationID uuid.UUID, reason string) error {
	if reservationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation ID is required")
	}

	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		reservation, err := repo.FindReservationByID(ctx, reservationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Nothing to release.
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load reservation")
		}

		released, err := repo.DeactivateReservation(ctx, reservation.ID, reason)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deactivate reservation")
		}
		if !released {
			// Already inactive.
			return nil
		}
		if err := repo.ReleaseSlot(ctx, reservation.SlotID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release slot")
		}
		return nil
	})
}

func (s *service) GetSlot(ctx context.Context, slotID uuid.UUID) (*models.DoctorAvailableSlot, error) {
	if slotID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "slot ID is required")
	}
	slot, err := s.repo.FindSlotByID(ctx, slotID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "slot not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load slot")
	}
	return slot, nil
}

func (s *service) ActiveReservation(ctx context.Context, slotID uuid.UUID) (*models.SlotReservation, error) {
	if slotID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "slot ID is required")
	}
	reservation, err := s.repo.FindActiveReservationBySlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active reservation for slot")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load active reservation")
	}
	return reservation, nil
}

func (s *service) ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]models.SlotReservation, error) {
	expired, err := s.repo.ListExpired(ctx, now, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list expired reservations")
	}

	released := make([]models.SlotReservation, 0, len(expired))
	for _, reservation := range expired {
		err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			changed, err := repo.DeactivateReservation(ctx, reservation.ID, ReleaseReasonExpired)
			if err != nil {
				return err
			}
			if !changed {
				// Confirmed or released since the sweep listed it.
				return nil
			}
			if err := repo.ReleaseSlot(ctx, reservation.SlotID); err != nil {
				return err
			}
			released = append(released, reservation)
			return nil
		})
		if err != nil {
			if s.logger != nil {
				logCtx := s.logger.WithSlotID(ctx, reservation.SlotID.String())
				s.logger.Error(logCtx, "release expired reservation", err)
			}
			continue
		}
	}
	return released, nil
}
