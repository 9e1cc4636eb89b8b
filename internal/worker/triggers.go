package worker

import (
	"context"
	"fmt"
	"time"

	"auto-market-engine/internal/broker"
	"auto-market-engine/internal/jobs"
	"auto-market-engine/internal/models"
	"auto-market-engine/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Deduper remembers trigger events that were already handled.
// redisclient.Client implements it.
type Deduper interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// OfferScheduler enqueues the first check of a saved offer.
type OfferScheduler interface {
	Schedule(ctx context.Context, offerID int64) (jobs.Job, error)
}

// TriggerConfig holds the trigger worker settings.
type TriggerConfig struct {
	MatchDelay     time.Duration
	IdempotencyTTL time.Duration
}

// TriggerWorker turns marketplace trigger events into delayed engine jobs.
type TriggerWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	queue        jobs.Queue
	offers       OfferScheduler
	dedupe       Deduper
	cfg          TriggerConfig
	now          func() time.Time
	logger       *zap.Logger
}

// NewTriggerWorker creates a new trigger worker. consumer may be nil when
// messages are fed through HandleMessage directly.
func NewTriggerWorker(
	consumer *broker.Consumer,
	queue jobs.Queue,
	offers OfferScheduler,
	dedupe Deduper,
	cfg TriggerConfig,
) *TriggerWorker {
	w := &TriggerWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		queue:        queue,
		offers:       offers,
		dedupe:       dedupe,
		cfg:          cfg,
		now:          time.Now,
		logger:       util.ComponentLogger("trigger-worker"),
	}

	w.eventHandler.OnCriteriaSaved(w.HandleCriteriaSaved)
	w.eventHandler.OnOfferSaved(w.HandleOfferSaved)
	return w
}

// Start consumes trigger events until ctx is cancelled
func (w *TriggerWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting trigger worker")
	return w.consumer.StartConsuming(ctx, w.HandleMessage)
}

// Stop closes the consumer
func (w *TriggerWorker) Stop() error {
	w.logger.Info("Stopping trigger worker")
	return w.consumer.Close()
}

// HandleMessage routes one Kafka message to its trigger handler.
func (w *TriggerWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return w.eventHandler.HandleMessage(ctx, msg)
}

// HandleCriteriaSaved schedules a match run for the dealer after the trigger delay.
func (w *TriggerWorker) HandleCriteriaSaved(ctx context.Context, event *models.CriteriaSavedEvent) error {
	return w.once(ctx, event.BaseEvent, func(ctx context.Context) error {
		job := jobs.New(jobs.KindDealerMatch, event.DealerID, w.now().Add(w.cfg.MatchDelay))
		if err := w.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("failed to enqueue match for dealer %d: %w", event.DealerID, err)
		}
		w.logger.Info("Dealer match scheduled", zap.Int64("dealer_id", event.DealerID), zap.Time("not_before", job.NotBefore))
		return nil
	})
}

// HandleOfferSaved schedules the first fulfilment check of the offer.
func (w *TriggerWorker) HandleOfferSaved(ctx context.Context, event *models.OfferSavedEvent) error {
	return w.once(ctx, event.BaseEvent, func(ctx context.Context) error {
		_, err := w.offers.Schedule(ctx, event.OfferID)
		return err
	})
}

// once runs fn unless the event id was already handled. Events without an id
// are always handled.
func (w *TriggerWorker) once(ctx context.Context, base models.BaseEvent, fn func(ctx context.Context) error) error {
	key := "event:" + base.EventID

	if base.EventID != "" {
		seen, err := w.dedupe.CheckIdempotencyKey(ctx, key)
		if err != nil {
			util.TriggerEventsTotal.WithLabelValues(base.EventType, "error").Inc()
			return fmt.Errorf("failed to check idempotency: %w", err)
		}
		if seen {
			util.TriggerEventsTotal.WithLabelValues(base.EventType, "duplicate").Inc()
			w.logger.Info("Duplicate trigger event skipped",
				zap.String("event_id", base.EventID),
				zap.String("type", base.EventType),
			)
			return nil
		}
	}

	if err := fn(ctx); err != nil {
		util.TriggerEventsTotal.WithLabelValues(base.EventType, "error").Inc()
		return err
	}

	if base.EventID != "" {
		if err := w.dedupe.SetIdempotencyKey(ctx, key, w.now().Unix(), w.cfg.IdempotencyTTL); err != nil {
			w.logger.Warn("Failed to store idempotency key", zap.String("event_id", base.EventID), zap.Error(err))
		}
	}
	util.TriggerEventsTotal.WithLabelValues(base.EventType, "ok").Inc()
	return nil
}
