package enums

import "fmt"

// SagaStatus maps to the saga_status enum in Postgres.
type SagaStatus string

const (
	SagaStatusStarted          SagaStatus = "started"
	SagaStatusSlotReserved     SagaStatus = "slot_reserved"
	SagaStatusPatientValidated SagaStatus = "patient_validated"
	SagaStatusDoctorValidated  SagaStatus = "doctor_validated"
	SagaStatusCompleted        SagaStatus = "completed"
	SagaStatusPaymentCompleted SagaStatus = "payment_completed"
	SagaStatusFailed           SagaStatus = "failed"
	SagaStatusCompensating     SagaStatus = "compensating"
	SagaStatusCompensated      SagaStatus = "compensated"
)

var validSagaStatuses = []SagaStatus{
	SagaStatusStarted,
	SagaStatusSlotReserved,
	SagaStatusPatientValidated,
	SagaStatusDoctorValidated,
	SagaStatusCompleted,
	SagaStatusPaymentCompleted,
	SagaStatusFailed,
	SagaStatusCompensating,
	SagaStatusCompensated,
}

// IsValid reports whether the value matches the canonical saga_status enum.
func (s SagaStatus) IsValid() bool {
	for _, candidate := range validSagaStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the saga can no longer advance from this status.
func (s SagaStatus) IsTerminal() bool {
	switch s {
	case SagaStatusPaymentCompleted, SagaStatusCompensated:
		return true
	default:
		return false
	}
}

// ParseSagaStatus converts raw input into SagaStatus.
func ParseSagaStatus(value string) (SagaStatus, error) {
	for _, candidate := range validSagaStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid saga status %q", value)
}

// SagaStep names the stage the saga most recently worked on.
type SagaStep string

const (
	SagaStepSlotReservation   SagaStep = "slot_reservation"
	SagaStepPatientValidation SagaStep = "patient_validation"
	SagaStepDoctorValidation  SagaStep = "doctor_validation"
	SagaStepPayment           SagaStep = "payment"
	SagaStepConfirmation      SagaStep = "confirmation"
	SagaStepCompensation      SagaStep = "compensation"
)

var validSagaSteps = []SagaStep{
	SagaStepSlotReservation,
	SagaStepPatientValidation,
	SagaStepDoctorValidation,
	SagaStepPayment,
	SagaStepConfirmation,
	SagaStepCompensation,
}

// IsValid reports whether the value matches the canonical saga_step enum.
func (s SagaStep) IsValid() bool {
	for _, candidate := range validSagaSteps {
		if candidate == s {
			return true
		}
	}
	return false
}
