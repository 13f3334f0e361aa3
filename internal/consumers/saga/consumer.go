package saga

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/nqluong/appointment-microservice-sub001/pkg/enums"
	pkgerrors "github.com/nqluong/appointment-microservice-sub001/pkg/errors"
	"github.com/nqluong/appointment-microservice-sub001/pkg/logger"
	"github.com/nqluong/appointment-microservice-sub001/pkg/outbox"
)

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Service consumes saga events from a subscription while honoring Redis
// idempotency. One Service runs per subscription; the saga worker runs one
// for the saga stream and one for the payment stream.
type Service struct {
	subscription *gcppubsub.Subscriber
	name         string
	dispatcher   *Dispatcher
	manager      idempotencyChecker
	logg         *logger.Logger
}

// NewService builds a consumer for the given subscription. Concurrency sets
// the number of messages processed in parallel.
func NewService(subscription *gcppubsub.Subscriber, name string, concurrency int, dispatcher *Dispatcher, manager idempotencyChecker, logg *logger.Logger) (*Service, error) {
	if subscription == nil {
		return nil, errors.New("subscription is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("consumer name is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if concurrency > 0 {
		subscription.ReceiveSettings.NumGoroutines = concurrency
	}
	return &Service{
		subscription: subscription,
		name:         strings.TrimSpace(name),
		dispatcher:   dispatcher,
		manager:      manager,
		logg:         logg,
	}, nil
}

type processResult struct {
	nack bool
}

// Run starts consuming messages until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if s.process(innerCtx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	fields := map[string]any{
		"message_id": msg.ID,
		"consumer":   s.name,
	}
	logCtx := s.logg.WithFields(ctx, fields)

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		fields["error"] = err.Error()
		s.logg.Warn(s.logg.WithFields(ctx, fields), "invalid event envelope")
		return processResult{}
	}

	eventType, err := enums.ParseOutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
	if err != nil {
		fields["error"] = err.Error()
		s.logg.Warn(s.logg.WithFields(ctx, fields), "unknown event type")
		return processResult{}
	}

	fields["event_id"] = envelope.EventID
	fields["event_type"] = eventType
	fields["occurred_at"] = envelope.OccurredAt.Format(time.RFC3339Nano)
	logCtx = s.logg.WithFields(ctx, fields)

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		s.logg.Warn(logCtx, "invalid event id")
		return processResult{}
	}

	already, err := s.manager.CheckAndMarkProcessed(logCtx, s.name, eventID)
	if err != nil {
		s.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		s.logg.Info(logCtx, "event already processed")
		return processResult{}
	}

	if err := s.dispatcher.Dispatch(logCtx, eventType, envelope); err != nil {
		if errors.Is(err, ErrUnhandledEvent) {
			s.logg.Info(logCtx, "event not handled by this consumer")
			return processResult{}
		}
		if !pkgerrors.IsRetryable(err) {
			// Business rejection already recorded by the handler; a
			// redelivery would reproduce the same outcome.
			s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "event dropped after terminal error")
			return processResult{}
		}
		s.logg.Error(logCtx, "handler error", err)
		_ = s.manager.Delete(logCtx, s.name, eventID)
		return processResult{nack: true}
	}

	s.logg.Info(logCtx, "saga event handled")
	return processResult{}
}
