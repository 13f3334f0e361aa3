package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics records publishing outcomes for the outbox relay.
type OutboxMetrics struct {
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
	dlq       *prometheus.CounterVec
	batch     prometheus.Histogram
}

// NewOutboxMetrics registers the outbox publisher metrics on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_published",
		Help: "Outbox events published to Pub/Sub.",
	}, []string{"event_type"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_failed",
		Help: "Outbox publish attempts that failed and will be retried.",
	}, []string{"event_type"})
	dlq := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_dead_lettered",
		Help: "Outbox events moved to the dead letter table.",
	}, []string{"event_type"})
	batch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_batch_duration_seconds",
		Help:    "Duration of a single outbox publish cycle.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(published, failed, dlq, batch)
	return &OutboxMetrics{
		published: published,
		failed:    failed,
		dlq:       dlq,
		batch:     batch,
	}
}

// IncPublished increments the published counter for the event type.
func (o *OutboxMetrics) IncPublished(eventType string) {
	if o == nil || o.published == nil {
		return
	}
	o.published.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncFailed increments the failed counter for the event type.
func (o *OutboxMetrics) IncFailed(eventType string) {
	if o == nil || o.failed == nil {
		return
	}
	o.failed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncDeadLettered increments the DLQ counter for the event type.
func (o *OutboxMetrics) IncDeadLettered(eventType string) {
	if o == nil || o.dlq == nil {
		return
	}
	o.dlq.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// ObserveBatch records the duration of one publish cycle.
func (o *OutboxMetrics) ObserveBatch(duration time.Duration) {
	if o == nil || o.batch == nil {
		return
	}
	o.batch.Observe(duration.Seconds())
}
