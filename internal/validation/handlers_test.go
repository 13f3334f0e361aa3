package validation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nqluong/appointment-microservice-sub001/pkg/db/models"
	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
	pkgerrors "github.com/nqluong/appointment-microservice-sub001/pkg/errors"
	"github.com/nqluong/appointment-microservice-sub001/pkg/identity"
	"github.com/nqluong/appointment-microservice-sub001/pkg/medical"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox/payloads"
)

type fakeDB struct{}

func (fakeDB) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOutbox) lastType(t *testing.T) enums.OutboxEventType {
	t.Helper()
	if len(f.events) == 0 {
		t.Fatal("expected an emitted event")
	}
	return f.events[len(f.events)-1].EventType
}

type fakeIdentity struct {
	status *identity.UserStatus
	err    error
}

func (f *fakeIdentity) GetUserStatus(context.Context, uuid.UUID) (*identity.UserStatus, error) {
	return f.status, f.err
}

type fakeMedical struct {
	status     *medical.DoctorStatus
	statusErr  error
	overlap    bool
	overlapErr error
}

func (f *fakeMedical) GetDoctorStatus(context.Context, uuid.UUID) (*medical.DoctorStatus, error) {
	return f.status, f.statusErr
}

func (f *fakeMedical) HasOverlappingAppointment(context.Context, medical.AppointmentWindow) (bool, error) {
	return f.overlap, f.overlapErr
}

type fakeAppointments struct {
	appointment *models.Appointment
}

func (f *fakeAppointments) FindAppointment(context.Context, uuid.UUID) (*models.Appointment, error) {
	if f.appointment == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.appointment, nil
}

type fakeSlotReader struct {
	slot *models.DoctorAvailableSlot
}

func (f *fakeSlotReader) GetSlot(context.Context, uuid.UUID) (*models.DoctorAvailableSlot, error) {
	if f.slot == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "slot not found")
	}
	return f.slot, nil
}

func patientRequest() payloads.PatientValidationRequestedEvent {
	return payloads.PatientValidationRequestedEvent{
		SagaID:        uuid.New(),
		AppointmentID: uuid.New(),
		PatientUserID: uuid.New(),
		DoctorUserID:  uuid.New(),
	}
}

func TestPatientHandlerEmitsValidated(t *testing.T) {
	box := &fakeOutbox{}
	handler, err := NewPatientHandler(PatientHandlerParams{
		DB:     fakeDB{},
		Outbox: box,
		Identity: &fakeIdentity{status: &identity.UserStatus{
			Active:   true,
			Role:     identity.RolePatient,
			FullName: "Jae Doe",
			Email:    "jae@example.com",
		}},
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	if err := handler.Handle(context.Background(), patientRequest()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := box.lastType(t); got != enums.EventPatientValidated {
		t.Errorf("expected patient_validated, got %s", got)
	}
	payload := box.events[0].Data.(payloads.PatientValidatedEvent)
	if payload.PatientName != "Jae Doe" {
		t.Errorf("unexpected patient name %q", payload.PatientName)
	}
}

func TestPatientHandlerRejectsInactiveAccount(t *testing.T) {
	box := &fakeOutbox{}
	handler, _ := NewPatientHandler(PatientHandlerParams{
		DB:       fakeDB{},
		Outbox:   box,
		Identity: &fakeIdentity{status: &identity.UserStatus{Active: false, Role: identity.RolePatient}},
	})

	if err := handler.Handle(context.Background(), patientRequest()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := box.lastType(t); got != enums.EventValidationFailed {
		t.Errorf("expected validation_failed, got %s", got)
	}
}

func TestPatientHandlerRejectsWrongRole(t *testing.T) {
	box := &fakeOutbox{}
	handler, _ := NewPatientHandler(PatientHandlerParams{
		DB:       fakeDB{},
		Outbox:   box,
		Identity: &fakeIdentity{status: &identity.UserStatus{Active: true, Role: "DOCTOR"}},
	})

	if err := handler.Handle(context.Background(), patientRequest()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	payload := box.events[0].Data.(payloads.ValidationFailedEvent)
	if payload.FailedService != "patient-validation" {
		t.Errorf("unexpected failed service %q", payload.FailedService)
	}
}

func TestPatientHandlerPropagatesTransientErrors(t *testing.T) {
	box := &fakeOutbox{}
	handler, _ := NewPatientHandler(PatientHandlerParams{
		DB:       fakeDB{},
		Outbox:   box,
		Identity: &fakeIdentity{err: pkgerrors.New(pkgerrors.CodeDependency, "identity unavailable")},
	})

	err := handler.Handle(context.Background(), patientRequest())
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if len(box.events) != 0 {
		t.Error("expected no outcome emitted on transient failure")
	}
}

func TestPatientHandlerRejectsUnknownUser(t *testing.T) {
	box := &fakeOutbox{}
	handler, _ := NewPatientHandler(PatientHandlerParams{
		DB:       fakeDB{},
		Outbox:   box,
		Identity: &fakeIdentity{err: pkgerrors.New(pkgerrors.CodeNotFound, "user not found")},
	})

	if err := handler.Handle(context.Background(), patientRequest()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := box.lastType(t); got != enums.EventValidationFailed {
		t.Errorf("expected validation_failed, got %s", got)
	}
}

func doctorEnv(t *testing.T, med *fakeMedical) (*DoctorHandler, *fakeOutbox) {
	t.Helper()
	box := &fakeOutbox{}
	now := time.Now().UTC()
	handler, err := NewDoctorHandler(DoctorHandlerParams{
		DB:      fakeDB{},
		Outbox:  box,
		Medical: med,
		Appointments: &fakeAppointments{appointment: &models.Appointment{
			ID:     uuid.New(),
			SlotID: uuid.New(),
		}},
		Slots: &fakeSlotReader{slot: &models.DoctorAvailableSlot{
			Date:      now,
			StartTime: now,
			EndTime:   now.Add(30 * time.Minute),
		}},
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler, box
}

func doctorRequest() payloads.DoctorValidationRequestedEvent {
	return payloads.DoctorValidationRequestedEvent{
		SagaID:        uuid.New(),
		AppointmentID: uuid.New(),
		DoctorUserID:  uuid.New(),
		PatientUserID: uuid.New(),
	}
}

func TestDoctorHandlerEmitsValidated(t *testing.T) {
	handler, box := doctorEnv(t, &fakeMedical{status: &medical.DoctorStatus{
		Approved:      true,
		FullName:      "Dr. Vu",
		SpecialtyName: "Cardiology",
		Fee:           decimal.NewFromInt(75),
	}})

	if err := handler.Handle(context.Background(), doctorRequest()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := box.lastType(t); got != enums.EventDoctorValidated {
		t.Errorf("expected doctor_validated, got %s", got)
	}
	payload := box.events[0].Data.(payloads.DoctorValidatedEvent)
	if !payload.ConsultationFee.Equal(decimal.NewFromInt(75)) {
		t.Errorf("unexpected fee %s", payload.ConsultationFee)
	}
}

func TestDoctorHandlerRejectsUnapprovedDoctor(t *testing.T) {
	handler, box := doctorEnv(t, &fakeMedical{status: &medical.DoctorStatus{Approved: false}})

	if err := handler.Handle(context.Background(), doctorRequest()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	payload := box.events[0].Data.(payloads.ValidationFailedEvent)
	if payload.FailedService != "doctor-validation" {
		t.Errorf("unexpected failed service %q", payload.FailedService)
	}
}

func TestDoctorHandlerRejectsOverlap(t *testing.T) {
	handler, box := doctorEnv(t, &fakeMedical{
		status:  &medical.DoctorStatus{Approved: true},
		overlap: true,
	})

	if err := handler.Handle(context.Background(), doctorRequest()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := box.lastType(t); got != enums.EventValidationFailed {
		t.Errorf("expected validation_failed, got %s", got)
	}
}

func TestDoctorHandlerPropagatesTransientOverlapError(t *testing.T) {
	handler, box := doctorEnv(t, &fakeMedical{
		status:     &medical.DoctorStatus{Approved: true},
		overlapErr: pkgerrors.New(pkgerrors.CodeDependency, "medical unavailable"),
	})

	err := handler.Handle(context.Background(), doctorRequest())
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if len(box.events) != 0 {
		t.Error("expected no outcome emitted on transient failure")
	}
}
