package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nqluong/appointment-microservice-sub001/pkg/db/models"
	"github.com/nqluong/appointment-microservice-sub001/pkg/logger"
)

type fakeExpiredReleaser struct {
	released []models.SlotReservation
	lastNow  time.Time
	limit    int
	err      error
}

func (f *fakeExpiredReleaser) ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]models.SlotReservation, error) {
	f.lastNow = now
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.released, nil
}

func TestReservationSweepJobReleasesExpiredHolds(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	releaser := &fakeExpiredReleaser{
		released: []models.SlotReservation{{ID: uuid.New()}, {ID: uuid.New()}},
	}
	jobIface, err := NewReservationSweepJob(ReservationSweepJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Slots:  releaser,
	})
	if err != nil {
		t.Fatalf("NewReservationSweepJob: %v", err)
	}
	job := jobIface.(*reservationSweepJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !releaser.lastNow.Equal(now) {
		t.Fatalf("expected sweep at %s, got %s", now, releaser.lastNow)
	}
	if releaser.limit != defaultSweepBatch {
		t.Fatalf("expected batch %d, got %d", defaultSweepBatch, releaser.limit)
	}
}

func TestReservationSweepJobPropagatesError(t *testing.T) {
	releaser := &fakeExpiredReleaser{err: errors.New("boom")}
	jobIface, err := NewReservationSweepJob(ReservationSweepJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Slots:  releaser,
	})
	if err != nil {
		t.Fatalf("NewReservationSweepJob: %v", err)
	}
	if err := jobIface.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
