package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/nqluong/appointment-microservice-sub001/pkg/db/models"
	"github.com/nqluong/appointment-microservice-sub001/pkg/logger"
	"github.com/nqluong/appointment-microservice-sub001/pkg/metrics"
)

type expiredReservationReleaser interface {
	ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]models.SlotReservation, error)
}

// ReservationSweepJobParams configure the expired reservation sweep.
type ReservationSweepJobParams struct {
	Logger    *logger.Logger
	Slots     expiredReservationReleaser
	Metrics   *metrics.CronJobMetrics
	BatchSize int
}

// NewReservationSweepJob builds the job that releases reservation holds
// whose expiry passed before the saga confirmed them.
func NewReservationSweepJob(params ReservationSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Slots == nil {
		return nil, fmt.Errorf("slot service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &reservationSweepJob{
		logg:    params.Logger,
		slots:   params.Slots,
		metrics: params.Metrics,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type reservationSweepJob struct {
	logg    *logger.Logger
	slots   expiredReservationReleaser
	metrics *metrics.CronJobMetrics
	batch   int
	now     func() time.Time
}

func (j *reservationSweepJob) Name() string { return "reservation-sweep" }

func (j *reservationSweepJob) Run(ctx context.Context) error {
	released, err := j.slots.ReleaseExpired(ctx, j.now().UTC(), j.batch)
	if err != nil {
		return fmt.Errorf("release expired reservations: %w", err)
	}
	j.metrics.AddSwept(j.Name(), len(released))
	logCtx := j.logg.WithFields(ctx, map[string]any{"released": len(released)})
	j.logg.Info(logCtx, "reservation sweep complete")
	return nil
}
