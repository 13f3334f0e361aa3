package idempotency

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeStore struct {
	entries map[string]string
	lastTTL time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	return f.entries[key], nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.entries[key]; ok {
		return false, nil
	}
	f.entries[key] = fmt.Sprintf("%v", value)
	f.lastTTL = ttl
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "booking:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.entries, key)
	}
	return nil
}

func TestCheckAndMarkProcessedFirstSeen(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	eventID := uuid.New()
	seen, err := manager.CheckAndMarkProcessed(context.Background(), "saga-consumer", eventID)
	if err != nil {
		t.Fatalf("check and mark: %v", err)
	}
	if seen {
		t.Fatalf("first event should not be marked as seen")
	}
	if store.lastTTL != time.Hour {
		t.Fatalf("unexpected ttl: %s", store.lastTTL)
	}

	seen, err = manager.CheckAndMarkProcessed(context.Background(), "saga-consumer", eventID)
	if err != nil {
		t.Fatalf("second check and mark: %v", err)
	}
	if !seen {
		t.Fatalf("replayed event should be reported as seen")
	}
}

func TestCheckAndMarkProcessedScopesByConsumer(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	eventID := uuid.New()
	if _, err := manager.CheckAndMarkProcessed(context.Background(), "saga-consumer", eventID); err != nil {
		t.Fatalf("mark for saga consumer: %v", err)
	}
	seen, err := manager.CheckAndMarkProcessed(context.Background(), "payments-consumer", eventID)
	if err != nil {
		t.Fatalf("mark for payments consumer: %v", err)
	}
	if seen {
		t.Fatalf("same event id under another consumer must not collide")
	}
}

func TestDeleteAllowsReprocessing(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	eventID := uuid.New()
	if _, err := manager.CheckAndMarkProcessed(context.Background(), "saga-consumer", eventID); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := manager.Delete(context.Background(), "saga-consumer", eventID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	seen, err := manager.CheckAndMarkProcessed(context.Background(), "saga-consumer", eventID)
	if err != nil {
		t.Fatalf("re-mark: %v", err)
	}
	if seen {
		t.Fatalf("deleted mark should allow reprocessing")
	}
}

func TestCheckAndMarkProcessedValidation(t *testing.T) {
	manager, err := NewManager(newFakeStore(), time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := manager.CheckAndMarkProcessed(context.Background(), "", uuid.New()); err == nil {
		t.Fatalf("expected error for empty consumer name")
	}
	if _, err := manager.CheckAndMarkProcessed(context.Background(), "saga-consumer", uuid.Nil); err == nil {
		t.Fatalf("expected error for nil event id")
	}
}
