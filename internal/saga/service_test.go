package saga

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nqluong/appointment-microservice-sub001/internal/slots"
	"github.com/nqluong/appointment-microservice-sub001/pkg/billing"
	"github.com/nqluong/appointment-microservice-sub001/pkg/db/models"
	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
	pkgerrors "github.com/nqluong/appointment-microservice-sub001/pkg/errors"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox/payloads"
)

type fakeDB struct{}

func (fakeDB) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeRepo struct {
	sagas        map[uuid.UUID]*models.SagaState
	appointments map[uuid.UUID]*models.Appointment
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sagas:        map[uuid.UUID]*models.SagaState{},
		appointments: map[uuid.UUID]*models.Appointment{},
	}
}

func (f *fakeRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepo) CreateSaga(_ context.Context, state *models.SagaState) error {
	copied := *state
	f.sagas[state.SagaID] = &copied
	return nil
}

func (f *fakeRepo) FindSaga(_ context.Context, sagaID uuid.UUID) (*models.SagaState, error) {
	state, ok := f.sagas[sagaID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *state
	return &copied, nil
}

func (f *fakeRepo) FindSagaByAppointment(_ context.Context, appointmentID uuid.UUID) (*models.SagaState, error) {
	for _, state := range f.sagas {
		if state.AppointmentID == appointmentID {
			copied := *state
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) TransitionSaga(_ context.Context, sagaID uuid.UUID, from, to enums.SagaStatus, step enums.SagaStep, failureReason *string) (bool, error) {
	state, ok := f.sagas[sagaID]
	if !ok || state.Status != from {
		return false, nil
	}
	state.Status = to
	state.CurrentStep = step
	if failureReason != nil {
		state.FailureReason = failureReason
	}
	return true, nil
}

func (f *fakeRepo) CreateAppointment(_ context.Context, appointment *models.Appointment) error {
	copied := *appointment
	f.appointments[appointment.ID] = &copied
	return nil
}

func (f *fakeRepo) FindAppointment(_ context.Context, id uuid.UUID) (*models.Appointment, error) {
	appointment, ok := f.appointments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *appointment
	return &copied, nil
}

func (f *fakeRepo) ConfirmAppointment(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	appointment, ok := f.appointments[id]
	if !ok || appointment.Status != enums.AppointmentStatusPending {
		return false, nil
	}
	appointment.Status = enums.AppointmentStatusConfirmed
	appointment.ConfirmedAt = &at
	return true, nil
}

func (f *fakeRepo) CancelAppointment(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	appointment, ok := f.appointments[id]
	if !ok || appointment.Status == enums.AppointmentStatusCancelled {
		return false, nil
	}
	appointment.Status = enums.AppointmentStatusCancelled
	appointment.CancelledAt = &at
	return true, nil
}

func (f *fakeRepo) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]models.Appointment, error) {
	var pending []models.Appointment
	for _, appointment := range f.appointments {
		if appointment.Status == enums.AppointmentStatusPending && appointment.CreatedAt.Before(cutoff) {
			pending = append(pending, *appointment)
		}
	}
	return pending, nil
}

type fakeSlots struct {
	reservations map[uuid.UUID]*models.SlotReservation
	slotInfo     map[uuid.UUID]*models.DoctorAvailableSlot
	reserveErr   error
	released     []uuid.UUID
	confirmed    []uuid.UUID
}

func newFakeSlots() *fakeSlots {
	return &fakeSlots{
		reservations: map[uuid.UUID]*models.SlotReservation{},
		slotInfo:     map[uuid.UUID]*models.DoctorAvailableSlot{},
	}
}

func (f *fakeSlots) Reserve(_ context.Context, input slots.ReserveInput) (*models.SlotReservation, error) {
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	reservation := &models.SlotReservation{
		ID:             uuid.New(),
		SlotID:         input.SlotID,
		PatientID:      input.PatientID,
		IdempotencyKey: input.IdempotencyKey,
		Active:         true,
	}
	f.reservations[input.SlotID] = reservation
	return reservation, nil
}

func (f *fakeSlots) Confirm(_ context.Context, reservationID uuid.UUID) error {
	f.confirmed = append(f.confirmed, reservationID)
	return nil
}

func (f *fakeSlots) Release(_ context.Context, reservationID uuid.UUID, reason string) error {
	f.released = append(f.released, reservationID)
	for _, reservation := range f.reservations {
		if reservation.ID == reservationID {
			reservation.Active = false
		}
	}
	return nil
}

func (f *fakeSlots) GetSlot(_ context.Context, slotID uuid.UUID) (*models.DoctorAvailableSlot, error) {
	if slot, ok := f.slotInfo[slotID]; ok {
		return slot, nil
	}
	return &models.DoctorAvailableSlot{ID: slotID, DoctorID: uuid.New()}, nil
}

func (f *fakeSlots) ActiveReservation(_ context.Context, slotID uuid.UUID) (*models.SlotReservation, error) {
	if reservation, ok := f.reservations[slotID]; ok && reservation.Active {
		copied := *reservation
		return &copied, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active reservation for slot")
}

type fakeOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOutbox) EmitIfNotExists(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	for _, existing := range f.events {
		if existing.EventType == event.EventType && existing.AggregateID == event.AggregateID {
			return nil
		}
	}
	return f.Emit(nil, nil, event)
}

func (f *fakeOutbox) typesEmitted() []enums.OutboxEventType {
	types := make([]enums.OutboxEventType, 0, len(f.events))
	for _, event := range f.events {
		types = append(types, event.EventType)
	}
	return types
}

type fakeBilling struct {
	calls int
	err   error
}

func (f *fakeBilling) CreatePaymentSession(_ context.Context, req billing.PaymentSessionRequest) (*billing.PaymentSession, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &billing.PaymentSession{SessionID: "sess-1", PaymentURL: "https://pay.example/sess-1"}, nil
}

type testEnv struct {
	svc     Orchestrator
	repo    *fakeRepo
	slots   *fakeSlots
	outbox  *fakeOutbox
	billing *fakeBilling
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := newFakeRepo()
	slotSvc := newFakeSlots()
	box := &fakeOutbox{}
	pay := &fakeBilling{}
	svc, err := NewService(ServiceParams{
		DB:      fakeDB{},
		Repo:    repo,
		Slots:   slotSvc,
		Outbox:  box,
		Billing: pay,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &testEnv{svc: svc, repo: repo, slots: slotSvc, outbox: box, billing: pay}
}

func validRequest() BookingRequest {
	return BookingRequest{
		PatientID:       uuid.New(),
		DoctorID:        uuid.New(),
		SlotID:          uuid.New(),
		ConsultationFee: decimal.NewFromInt(50),
		IdempotencyKey:  "booking-1",
	}
}

func (e *testEnv) start(t *testing.T, req BookingRequest) *StartResult {
	t.Helper()
	result, err := e.svc.StartSaga(context.Background(), req)
	if err != nil {
		t.Fatalf("start saga: %v", err)
	}
	return result
}

// runToCompleted walks a fresh saga through the full validation chain.
func (e *testEnv) runToCompleted(t *testing.T, req BookingRequest) *StartResult {
	t.Helper()
	ctx := context.Background()
	result := e.start(t, req)

	err := e.svc.OnSlotReservationRequested(ctx, payloads.SlotReservationRequestedEvent{
		SagaID:         result.SagaID,
		SlotID:         req.SlotID,
		DoctorID:       req.DoctorID,
		PatientID:      req.PatientID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		t.Fatalf("on slot reservation requested: %v", err)
	}
	err = e.svc.OnSlotReserved(ctx, payloads.SlotReservedEvent{
		SagaID:       result.SagaID,
		SlotID:       req.SlotID,
		ReservedBy:   req.PatientID,
		DoctorUserID: req.DoctorID,
	})
	if err != nil {
		t.Fatalf("on slot reserved: %v", err)
	}
	err = e.svc.OnPatientValidated(ctx, payloads.PatientValidatedEvent{
		SagaID:        result.SagaID,
		AppointmentID: result.AppointmentID,
		PatientUserID: req.PatientID,
		DoctorUserID:  req.DoctorID,
	})
	if err != nil {
		t.Fatalf("on patient validated: %v", err)
	}
	err = e.svc.OnDoctorValidated(ctx, payloads.DoctorValidatedEvent{
		SagaID:        result.SagaID,
		AppointmentID: result.AppointmentID,
		DoctorUserID:  req.DoctorID,
	})
	if err != nil {
		t.Fatalf("on doctor validated: %v", err)
	}
	return result
}

func TestStartSagaCreatesStateAndEmitsRequest(t *testing.T) {
	env := newTestEnv(t)
	req := validRequest()

	result := env.start(t, req)

	state := env.repo.sagas[result.SagaID]
	if state == nil {
		t.Fatal("expected saga state")
	}
	if state.Status != enums.SagaStatusStarted {
		t.Errorf("expected started, got %s", state.Status)
	}
	appointment := env.repo.appointments[result.AppointmentID]
	if appointment == nil || appointment.Status != enums.AppointmentStatusPending {
		t.Error("expected pending appointment")
	}
	types := env.outbox.typesEmitted()
	if len(types) != 1 || types[0] != enums.EventSlotReservationRequested {
		t.Fatalf("expected slot_reservation_requested, got %v", types)
	}
}

func TestStartSagaRejectsInvalidRequest(t *testing.T) {
	env := newTestEnv(t)
	req := validRequest()
	req.IdempotencyKey = ""

	_, err := env.svc.StartSaga(context.Background(), req)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(env.outbox.events) != 0 {
		t.Error("expected no events emitted")
	}
}

func TestHappyPathReachesPaymentCompleted(t *testing.T) {
	env := newTestEnv(t)
	req := validRequest()
	ctx := context.Background()

	result := env.runToCompleted(t, req)

	state := env.repo.sagas[result.SagaID]
	if state.Status != enums.SagaStatusCompleted {
		t.Fatalf("expected completed, got %s", state.Status)
	}
	if env.billing.calls != 1 {
		t.Errorf("expected 1 payment session call, got %d", env.billing.calls)
	}

	paymentID := uuid.New()
	err := env.svc.OnPaymentCompleted(ctx, payloads.PaymentCompletedEvent{
		PaymentID:     paymentID,
		AppointmentID: result.AppointmentID,
		Amount:        req.ConsultationFee,
		TransactionID: "txn-1",
	})
	if err != nil {
		t.Fatalf("on payment completed: %v", err)
	}
	if env.repo.sagas[result.SagaID].Status != enums.SagaStatusPaymentCompleted {
		t.Errorf("expected payment_completed, got %s", env.repo.sagas[result.SagaID].Status)
	}
	appointment := env.repo.appointments[result.AppointmentID]
	if appointment.Status != enums.AppointmentStatusConfirmed {
		t.Errorf("expected confirmed appointment, got %s", appointment.Status)
	}
	if len(env.slots.confirmed) != 1 {
		t.Error("expected reservation confirmed")
	}

	want := []enums.OutboxEventType{
		enums.EventSlotReservationRequested,
		enums.EventSlotReserved,
		enums.EventPatientValidationRequested,
		enums.EventDoctorValidationRequested,
		enums.EventAppointmentConfirmed,
	}
	got := env.outbox.typesEmitted()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	confirmed := env.outbox.events[len(env.outbox.events)-1].Data.(payloads.AppointmentConfirmedEvent)
	if confirmed.PaymentID != paymentID || confirmed.TransactionID != "txn-1" {
		t.Errorf("expected payment details on confirmation, got %+v", confirmed)
	}
}

// Doctor validation finishes the checks but the booking is not settled yet:
// the appointment and the slot hold must wait for the payment event.
func TestAppointmentStaysPendingUntilPaymentCompletes(t *testing.T) {
	env := newTestEnv(t)
	req := validRequest()

	result := env.runToCompleted(t, req)

	appointment := env.repo.appointments[result.AppointmentID]
	if appointment.Status != enums.AppointmentStatusPending {
		t.Fatalf("expected pending appointment awaiting payment, got %s", appointment.Status)
	}
	if len(env.slots.confirmed) != 0 {
		t.Error("expected reservation unconfirmed before payment")
	}
	for _, eventType := range env.outbox.typesEmitted() {
		if eventType == enums.EventAppointmentConfirmed {
			t.Fatal("expected no confirmation event before payment")
		}
	}
}

// A saga stuck at completed (payment never settles) must still be failable
// so the expiration path can unwind it.
func TestValidationFailedAfterCompletionCompensates(t *testing.T) {
	env := newTestEnv(t)
	req := validRequest()
	ctx := context.Background()
	result := env.runToCompleted(t, req)

	err := env.svc.OnValidationFailed(ctx, payloads.ValidationFailedEvent{
		SagaID:        result.SagaID,
		AppointmentID: result.AppointmentID,
		Reason:        "payment window elapsed",
		FailedService: "appointment-expiration",
	})
	if err != nil {
		t.Fatalf("on validation failed: %v", err)
	}

	if got := env.repo.sagas[result.SagaID].Status; got != enums.SagaStatusCompensated {
		t.Fatalf("expected compensated, got %s", got)
	}
	if env.repo.appointments[result.AppointmentID].Status != enums.AppointmentStatusCancelled {
		t.Error("expected appointment cancelled")
	}
	if len(env.slots.released) != 1 {
		t.Errorf("expected reservation released, got %d", len(env.slots.released))
	}
}

func TestDuplicateEventIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	req := validRequest()
	ctx := context.Background()
	result := env.start(t, req)

	evt := payloads.SlotReservedEvent{SagaID: result.SagaID, SlotID: req.SlotID, ReservedBy: req.PatientID, DoctorUserID: req.DoctorID}
	if err := env.svc.OnSlotReserved(ctx, evt); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	emitted := len(env.outbox.events)

	if err := env.svc.OnSlotReserved(ctx, evt); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if len(env.outbox.events) != emitted {
		t.Error("expected duplicate to emit nothing")
	}
	if env.repo.sagas[result.SagaID].Status != enums.SagaStatusSlotReserved {
		t.Errorf("unexpected status %s", env.repo.sagas[result.SagaID].Status)
	}
}

func TestOutOfOrderEventIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	req := validRequest()
	result := env.start(t, req)

	err := env.svc.OnDoctorValidated(context.Background(), payloads.DoctorValidatedEvent{
		SagaID:        result.SagaID,
		AppointmentID: result.AppointmentID,
	})
	if err != nil {
		t.Fatalf("out-of-order delivery: %v", err)
	}
	if got := env.repo.sagas[result.SagaID].Status; got != enums.SagaStatusStarted {
		t.Errorf("expected started, got %s", got)
	}
	if len(env.outbox.events) != 1 {
		t.Errorf("expected only the start event, got %v", env.outbox.typesEmitted())
	}
}

func TestEventForUnknownSagaIsDropped(t *testing.T) {
	env := newTestEnv(t)
	err := env.svc.OnSlotReserved(context.Background(), payloads.SlotReservedEvent{SagaID: uuid.New()})
	if err != nil {
		t.Fatalf("expected drop, got %v", err)
	}
}

func TestSlotUnavailableFailsSaga(t *testing.T) {
	env := newTestEnv(t)
	req := validRequest()
	ctx := context.Background()
	result := env.start(t, req)

	env.slots.reserveErr = pkgerrors.New(pkgerrors.CodeSlotUnavailable, "slot is not available")
	err := env.svc.OnSlotReservationRequested(ctx, payloads.SlotReservationRequestedEvent{
		SagaID:         result.SagaID,
		SlotID:         req.SlotID,
		PatientID:      req.PatientID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		t.Fatalf("on slot reservation requested: %v", err)
	}

	state := env.repo.sagas[result.SagaID]
	if state.Status != enums.SagaStatusFailed {
		t.Fatalf("expected failed, got %s", state.Status)
	}
	if state.FailureReason == nil {
		t.Error("expected failure reason recorded")
	}
	types := env.outbox.typesEmitted()
	if types[len(types)-1] != enums.EventValidationFailed {
		t.Errorf("expected validation_failed emitted, got %v", types)
	}
}

func TestTransientReserveErrorPropagatesForRetry(t *testing.T) {
	env := newTestEnv(t)
	req := validRequest()
	result := env.start(t, req)

	env.slots.reserveErr = pkgerrors.New(pkgerrors.CodeDependency, "db unavailable")
	err := env.svc.OnSlotReservationRequested(context.Background(), payloads.SlotReservationRequestedEvent{
		SagaID:         result.SagaID,
		SlotID:         req.SlotID,
		PatientID:      req.PatientID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error for redelivery, got %v", err)
	}
	if env.repo.sagas[result.SagaID].Status != enums.SagaStatusStarted {
		t.Error("expected saga untouched for retry")
	}
}

func TestValidationFailedRunsCompensation(t *testing.T) {
	env := newTestEnv(t)
	req := validRequest()
	ctx := context.Background()
	result := env.start(t, req)

	// Advance to slot_reserved with an active hold in place.
	err := env.svc.OnSlotReservationRequested(ctx, payloads.SlotReservationRequestedEvent{
		SagaID:         result.SagaID,
		SlotID:         req.SlotID,
		PatientID:      req.PatientID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	err = env.svc.OnSlotReserved(ctx, payloads.SlotReservedEvent{
		SagaID:       result.SagaID,
		SlotID:       req.SlotID,
		ReservedBy:   req.PatientID,
		DoctorUserID: req.DoctorID,
	})
	if err != nil {
		t.Fatalf("slot reserved: %v", err)
	}

	err = env.svc.OnValidationFailed(ctx, payloads.ValidationFailedEvent{
		SagaID:        result.SagaID,
		AppointmentID: result.AppointmentID,
		Reason:        "patient account inactive",
		FailedService: "patient-validation",
	})
	if err != nil {
		t.Fatalf("on validation failed: %v", err)
	}

	state := env.repo.sagas[result.SagaID]
	if state.Status != enums.SagaStatusCompensated {
		t.Fatalf("expected compensated, got %s", state.Status)
	}
	appointment := env.repo.appointments[result.AppointmentID]
	if appointment.Status != enums.AppointmentStatusCancelled {
		t.Errorf("expected cancelled appointment, got %s", appointment.Status)
	}
	if len(env.slots.released) != 1 {
		t.Errorf("expected reservation released, got %d", len(env.slots.released))
	}
	types := env.outbox.typesEmitted()
	if types[len(types)-1] != enums.EventAppointmentCancelled {
		t.Errorf("expected appointment_cancelled emitted, got %v", types)
	}
}

func TestCompensationIsIdempotentAcrossRedelivery(t *testing.T) {
	env := newTestEnv(t)
	req := validRequest()
	ctx := context.Background()
	result := env.start(t, req)

	evt := payloads.ValidationFailedEvent{
		SagaID:        result.SagaID,
		AppointmentID: result.AppointmentID,
		Reason:        "patient account inactive",
	}
	if err := env.svc.OnValidationFailed(ctx, evt); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	cancelled := len(env.outbox.typesEmitted())

	if err := env.svc.OnValidationFailed(ctx, evt); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if env.repo.sagas[result.SagaID].Status != enums.SagaStatusCompensated {
		t.Error("expected saga to stay compensated")
	}
	if len(env.outbox.typesEmitted()) != cancelled {
		t.Error("expected redelivery to emit nothing")
	}
}

func TestPaymentFailedCompensatesCompletedSaga(t *testing.T) {
	env := newTestEnv(t)
	req := validRequest()
	ctx := context.Background()
	result := env.runToCompleted(t, req)

	err := env.svc.OnPaymentFailed(ctx, payloads.PaymentFailedEvent{
		AppointmentID:    result.AppointmentID,
		Reason:           "card declined",
		FailedService:    "payment",
		ConfirmedFailure: true,
	})
	if err != nil {
		t.Fatalf("on payment failed: %v", err)
	}

	state := env.repo.sagas[result.SagaID]
	if state.Status != enums.SagaStatusFailed {
		t.Fatalf("expected failed awaiting compensation, got %s", state.Status)
	}
	types := env.outbox.typesEmitted()
	if types[len(types)-1] != enums.EventValidationFailed {
		t.Errorf("expected failure event queued, got %v", types)
	}

	// The failure event comes back through the consumer and unwinds.
	err = env.svc.OnValidationFailed(ctx, payloads.ValidationFailedEvent{
		SagaID:        result.SagaID,
		AppointmentID: result.AppointmentID,
		Reason:        "card declined",
	})
	if err != nil {
		t.Fatalf("compensation pass: %v", err)
	}
	if env.repo.sagas[result.SagaID].Status != enums.SagaStatusCompensated {
		t.Errorf("expected compensated, got %s", env.repo.sagas[result.SagaID].Status)
	}
	if env.repo.appointments[result.AppointmentID].Status != enums.AppointmentStatusCancelled {
		t.Error("expected appointment cancelled")
	}
}

func TestPaymentEventsAfterTerminalStateAreNoOps(t *testing.T) {
	env := newTestEnv(t)
	req := validRequest()
	ctx := context.Background()
	result := env.runToCompleted(t, req)

	if err := env.svc.OnPaymentCompleted(ctx, payloads.PaymentCompletedEvent{AppointmentID: result.AppointmentID}); err != nil {
		t.Fatalf("payment completed: %v", err)
	}
	if err := env.svc.OnPaymentCompleted(ctx, payloads.PaymentCompletedEvent{AppointmentID: result.AppointmentID}); err != nil {
		t.Fatalf("duplicate payment completed: %v", err)
	}
	if err := env.svc.OnPaymentFailed(ctx, payloads.PaymentFailedEvent{AppointmentID: result.AppointmentID}); err != nil {
		t.Fatalf("late payment failed: %v", err)
	}
	if got := env.repo.sagas[result.SagaID].Status; got != enums.SagaStatusPaymentCompleted {
		t.Errorf("expected payment_completed, got %s", got)
	}
}
