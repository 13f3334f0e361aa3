package enums

import "fmt"

// AppointmentStatus maps to the appointment_status enum in Postgres.
type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

var validAppointmentStatuses = []AppointmentStatus{
	AppointmentStatusPending,
	AppointmentStatusConfirmed,
	AppointmentStatusCancelled,
}

// IsValid reports whether the value matches the canonical appointment_status enum.
func (a AppointmentStatus) IsValid() bool {
	for _, candidate := range validAppointmentStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAppointmentStatus converts raw input into AppointmentStatus.
func ParseAppointmentStatus(value string) (AppointmentStatus, error) {
	for _, candidate := range validAppointmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid appointment status %q", value)
}

// CancelActor identifies who cancelled an appointment.
type CancelActor string

const (
	CancelActorSystem  CancelActor = "SYSTEM"
	CancelActorPatient CancelActor = "PATIENT"
	CancelActorDoctor  CancelActor = "DOCTOR"
)
