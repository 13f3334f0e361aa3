package responses

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/nqluong/appointment-microservice-sub001/pkg/errors"
	"github.com/nqluong/appointment-microservice-sub001/pkg/logger"
	"github.com/nqluong/appointment-microservice-sub001/pkg/types"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "responses-test", Output: io.Discard})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.ErrorEnvelope {
	t.Helper()
	var envelope types.ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return envelope
}

func TestWriteSuccessWrapsData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]string{"hello": "world"})

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var envelope struct {
		Data map[string]string `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data["hello"] != "world" {
		t.Fatalf("unexpected payload: %+v", envelope)
	}
}

func TestWriteErrorMapsTypedError(t *testing.T) {
	rec := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeSlotUnavailable, "slot already reserved")
	WriteError(context.Background(), testLogger(), rec, err)

	if rec.Code != http.StatusConflict {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	envelope := decodeError(t, rec)
	if envelope.Error.Code != string(pkgerrors.CodeSlotUnavailable) {
		t.Fatalf("unexpected code %q", envelope.Error.Code)
	}
	if envelope.Error.Message != "slot already reserved" {
		t.Fatalf("unexpected message %q", envelope.Error.Message)
	}
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	err := pkgerrors.Wrap(pkgerrors.CodeInternal, errors.New("pq: connection refused"), "db write failed").
		WithDetails(map[string]string{"dsn": "secret"})
	WriteError(context.Background(), testLogger(), rec, err)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	envelope := decodeError(t, rec)
	if envelope.Error.Message != "internal server error" {
		t.Fatalf("internal message leaked: %q", envelope.Error.Message)
	}
	if envelope.Error.Details != nil {
		t.Fatalf("internal details leaked: %+v", envelope.Error.Details)
	}
}

func TestWriteErrorWrapsUntypedError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), testLogger(), rec, errors.New("boom"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	envelope := decodeError(t, rec)
	if envelope.Error.Code != string(pkgerrors.CodeInternal) {
		t.Fatalf("unexpected code %q", envelope.Error.Code)
	}
}

func TestWriteErrorIncludesAllowedDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
		WithDetails(map[string]string{"slotId": "slotId is required"})
	WriteError(context.Background(), testLogger(), rec, err)

	envelope := decodeError(t, rec)
	details, ok := envelope.Error.Details.(map[string]any)
	if !ok {
		t.Fatalf("expected details map, got %T", envelope.Error.Details)
	}
	if details["slotId"] != "slotId is required" {
		t.Fatalf("unexpected details: %+v", details)
	}
}
