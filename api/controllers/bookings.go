package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nqluong/appointment-microservice-sub001/api/responses"
	"github.com/nqluong/appointment-microservice-sub001/api/validators"
	"github.com/nqluong/appointment-microservice-sub001/internal/saga"
	"github.com/nqluong/appointment-microservice-sub001/pkg/db/models"
	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
	pkgerrors "github.com/nqluong/appointment-microservice-sub001/pkg/errors"
	"github.com/nqluong/appointment-microservice-sub001/pkg/logger"
)

// BookingStarter starts a booking saga.
type BookingStarter interface {
	StartSaga(ctx context.Context, req saga.BookingRequest) (*saga.StartResult, error)
}

// BookingReader loads saga state for status queries.
type BookingReader interface {
	FindSaga(ctx context.Context, sagaID uuid.UUID) (*models.SagaState, error)
}

type bookingStatusResponse struct {
	SagaID        uuid.UUID        `json:"sagaId"`
	AppointmentID uuid.UUID        `json:"appointmentId"`
	Status        enums.SagaStatus `json:"status"`
	CurrentStep   enums.SagaStep   `json:"currentStep"`
	FailureReason *string          `json:"failureReason,omitempty"`
}

// BookingCreate accepts a booking request and starts the saga. The saga
// runs asynchronously, so the response is 202 with the minted IDs.
func BookingCreate(svc BookingStarter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req saga.BookingRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.StartSaga(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, result)
	}
}

// BookingStatus returns the current saga state for a booking.
func BookingStatus(reader BookingReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sagaID, err := uuid.Parse(chi.URLParam(r, "sagaId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid saga id"))
			return
		}
		state, err := reader.FindSaga(r.Context(), sagaID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "booking not found"))
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load saga state"))
			return
		}
		responses.WriteSuccess(w, bookingStatusResponse{
			SagaID:        state.SagaID,
			AppointmentID: state.AppointmentID,
			Status:        state.Status,
			CurrentStep:   state.CurrentStep,
			FailureReason: state.FailureReason,
		})
	}
}
