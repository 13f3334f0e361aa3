package saga

import (
	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
)

// transitions is the closed edge set of the booking saga. A missing edge
// means the event is a duplicate or arrived out of order and must be treated
// as a no-op.
var transitions = map[enums.SagaStatus]map[enums.OutboxEventType]enums.SagaStatus{
	enums.SagaStatusStarted: {
		enums.EventSlotReserved:     enums.SagaStatusSlotReserved,
		enums.EventValidationFailed: enums.SagaStatusFailed,
	},
	enums.SagaStatusSlotReserved: {
		enums.EventPatientValidated: enums.SagaStatusPatientValidated,
		enums.EventValidationFailed: enums.SagaStatusFailed,
	},
	enums.SagaStatusPatientValidated: {
		enums.EventDoctorValidated:  enums.SagaStatusDoctorValidated,
		enums.EventValidationFailed: enums.SagaStatusFailed,
	},
	enums.SagaStatusDoctorValidated: {
		enums.EventDoctorValidated:  enums.SagaStatusCompleted,
		enums.EventValidationFailed: enums.SagaStatusFailed,
		enums.EventPaymentFailed:    enums.SagaStatusFailed,
	},
	enums.SagaStatusCompleted: {
		enums.EventPaymentCompleted: enums.SagaStatusPaymentCompleted,
		enums.EventValidationFailed: enums.SagaStatusFailed,
		enums.EventPaymentFailed:    enums.SagaStatusFailed,
	},
}

// Next resolves the status the saga moves to when the event arrives in the
// given status. ok is false when no edge exists.
func Next(current enums.SagaStatus, event enums.OutboxEventType) (enums.SagaStatus, bool) {
	edges, ok := transitions[current]
	if !ok {
		return "", false
	}
	next, ok := edges[event]
	return next, ok
}

// stepFor names the stage the saga is working on once it reaches the status.
func stepFor(status enums.SagaStatus) enums.SagaStep {
	switch status {
	case enums.SagaStatusStarted:
		return enums.SagaStepSlotReservation
	case enums.SagaStatusSlotReserved:
		return enums.SagaStepPatientValidation
	case enums.SagaStatusPatientValidated:
		return enums.SagaStepDoctorValidation
	case enums.SagaStatusDoctorValidated:
		return enums.SagaStepConfirmation
	case enums.SagaStatusCompleted, enums.SagaStatusPaymentCompleted:
		return enums.SagaStepPayment
	case enums.SagaStatusFailed, enums.SagaStatusCompensating, enums.SagaStatusCompensated:
		return enums.SagaStepCompensation
	default:
		return enums.SagaStepSlotReservation
	}
}
