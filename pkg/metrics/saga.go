package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics records state machine outcomes for booking sagas.
type SagaMetrics struct {
	transitions  *prometheus.CounterVec
	completed    prometheus.Counter
	failed       *prometheus.CounterVec
	compensation *prometheus.CounterVec
}

// NewSagaMetrics registers the saga orchestrator metrics on the provided registerer.
func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	if reg == nil {
		return &SagaMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_transitions",
		Help: "Saga state transitions applied.",
	}, []string{"from", "to"})
	completed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saga_completed",
		Help: "Sagas that reached payment_completed.",
	})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_failed",
		Help: "Sagas that entered the failed state.",
	}, []string{"step"})
	compensation := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_compensation_actions",
		Help: "Compensation actions executed, by action and outcome.",
	}, []string{"action", "outcome"})
	reg.MustRegister(transitions, completed, failed, compensation)
	return &SagaMetrics{
		transitions:  transitions,
		completed:    completed,
		failed:       failed,
		compensation: compensation,
	}
}

// IncTransition records a state transition.
func (s *SagaMetrics) IncTransition(from, to string) {
	if s == nil || s.transitions == nil {
		return
	}
	s.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// IncCompleted records a saga reaching its terminal success state.
func (s *SagaMetrics) IncCompleted() {
	if s == nil || s.completed == nil {
		return
	}
	s.completed.Inc()
}

// IncFailed records a saga failure at the given step.
func (s *SagaMetrics) IncFailed(step string) {
	if s == nil || s.failed == nil {
		return
	}
	s.failed.WithLabelValues(normalizeLabel(step)).Inc()
}

// IncCompensation records a compensation action outcome (ok or error).
func (s *SagaMetrics) IncCompensation(action, outcome string) {
	if s == nil || s.compensation == nil {
		return
	}
	s.compensation.WithLabelValues(normalizeLabel(action), normalizeLabel(outcome)).Inc()
}
