package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/parcelhub/ledger/internal/jobs"
	"github.com/parcelhub/ledger/internal/ledger"
	"github.com/parcelhub/ledger/internal/notify"
)

// Enqueuer submits tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EventPublisher implements ledger.Publisher by queueing each event for
// asynchronous delivery.
type EventPublisher struct {
	enqueuer Enqueuer
	maxRetry int
}

// NewEventPublisher constructs a queue-backed publisher.
func NewEventPublisher(enqueuer Enqueuer) *EventPublisher {
	return &EventPublisher{enqueuer: enqueuer, maxRetry: 10}
}

// Publish enqueues evt.
func (p *EventPublisher) Publish(ctx context.Context, evt ledger.Event) error {
	task, err := NewEventTask(notify.NewEnvelope(evt))
	if err != nil {
		return err
	}
	if _, err := p.enqueuer.EnqueueContext(ctx, task, asynq.MaxRetry(p.maxRetry)); err != nil {
		return fmt.Errorf("enqueue %s event: %w", evt.Type, err)
	}
	return nil
}

// EventDeliveryJob hands queued events to the notification sink.
type EventDeliveryJob struct {
	Sink    notify.Sink
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewEventDeliveryJob initialises the delivery handler.
func NewEventDeliveryJob(sink notify.Sink, logger *slog.Logger, metrics *jobmetrics.Metrics) *EventDeliveryJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventDeliveryJob{Sink: sink, Logger: logger, Metrics: metrics}
}

// Handle delivers one envelope. Permanent rejections are not retried.
func (j *EventDeliveryJob) Handle(ctx context.Context, t *asynq.Task) error {
	var env notify.Envelope
	if err := json.Unmarshal(t.Payload(), &env); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track("event_delivery")
	err := j.Sink.Deliver(ctx, env)
	switch {
	case err == nil:
		j.Metrics.AddItems("event_delivery", "delivered", 1)
		return tracker.End(nil)
	case errors.Is(err, notify.ErrPermanent):
		j.Logger.Error("event rejected",
			slog.String("delivery_id", env.ID.String()),
			slog.String("event", string(env.Event.Type)),
			slog.String("account_id", env.Event.AccountID.String()),
			slog.Any("error", err))
		j.Metrics.AddItems("event_delivery", "rejected", 1)
		return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
	default:
		j.Logger.Warn("event delivery failed",
			slog.String("delivery_id", env.ID.String()),
			slog.String("event", string(env.Event.Type)),
			slog.Any("error", err))
		return tracker.End(err)
	}
}
