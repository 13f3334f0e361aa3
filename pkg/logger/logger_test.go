package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestInfoCarriesContextFields(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "booking-test", Output: &buf})

	ctx := logg.WithSagaID(context.Background(), "saga-123")
	ctx = logg.WithAppointmentID(ctx, "appt-456")
	logg.Info(ctx, "saga advanced")

	entry := logLine(t, &buf)
	if entry["service"] != "booking-test" {
		t.Fatalf("missing service field: %v", entry)
	}
	if entry["saga_id"] != "saga-123" {
		t.Fatalf("missing saga_id field: %v", entry)
	}
	if entry["appointment_id"] != "appt-456" {
		t.Fatalf("missing appointment_id field: %v", entry)
	}
	if entry["message"] != "saga advanced" {
		t.Fatalf("unexpected message: %v", entry["message"])
	}
}

func TestWithFieldsDoesNotMutateParentContext(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "booking-test", Output: &buf})

	parent := logg.WithField(context.Background(), "request_id", "req-1")
	_ = logg.WithField(parent, "slot_id", "slot-9")

	logg.Info(parent, "parent scope")
	entry := logLine(t, &buf)
	if _, ok := entry["slot_id"]; ok {
		t.Fatalf("child field leaked into parent context: %v", entry)
	}
}

func TestErrorIncludesErrField(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "booking-test", Output: &buf})

	logg.Error(context.Background(), "publish failed", errors.New("broker down"))
	entry := logLine(t, &buf)
	if entry["error"] != "broker down" {
		t.Fatalf("missing error field: %v", entry)
	}
	if entry["level"] != "error" {
		t.Fatalf("unexpected level: %v", entry["level"])
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "booking-test", Level: zerolog.WarnLevel, Output: &buf})

	logg.Info(context.Background(), "below threshold")
	if buf.Len() != 0 {
		t.Fatalf("info line emitted despite warn level: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != zerolog.DebugLevel {
		t.Fatalf("debug did not parse")
	}
	if ParseLevel("") != zerolog.InfoLevel {
		t.Fatalf("empty level should default to info")
	}
	if ParseLevel("nonsense") != zerolog.InfoLevel {
		t.Fatalf("unknown level should default to info")
	}
}
