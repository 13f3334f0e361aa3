package saga

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/nqluong/appointment-microservice-sub001/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// BookingRequest is the input that starts a booking saga.
type BookingRequest struct {
	PatientID       uuid.UUID       `json:"patientId" validate:"required"`
	DoctorID        uuid.UUID       `json:"doctorId" validate:"required"`
	SlotID          uuid.UUID       `json:"slotId" validate:"required"`
	ConsultationFee decimal.Decimal `json:"consultationFee"`
	IdempotencyKey  string          `json:"idempotencyKey" validate:"required,max=128"`
}

// Validate checks the booking request against its constraints.
func (r BookingRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			details := map[string]string{}
			for _, fieldErr := range errs {
				details[fieldErr.Field()] = "is invalid"
			}
			return pkgerrors.New(pkgerrors.CodeValidation, "booking request validation failed").WithDetails(details)
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "booking request validation failed")
	}
	if r.ConsultationFee.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "consultation fee must not be negative")
	}
	return nil
}

// StartResult reports the identifiers minted when a saga starts.
type StartResult struct {
	SagaID        uuid.UUID `json:"sagaId"`
	AppointmentID uuid.UUID `json:"appointmentId"`
}
