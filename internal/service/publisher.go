package service

import (
	"context"
	"sync/atomic"

	"auto-market-engine/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EventPublisher receives the engine's outcome events. broker.EventPublisher
// is the Kafka implementation.
type EventPublisher interface {
	PublishSuitableCarsUpdated(ctx context.Context, event *models.SuitableCarsUpdatedEvent) error
	PublishSuitableSellersUpdated(ctx context.Context, event *models.SuitableSellersUpdatedEvent) error
	PublishDealCompleted(ctx context.Context, event *models.DealCompletedEvent) error
	PublishOfferFulfilled(ctx context.Context, event *models.OfferFulfilledEvent) error
}

// NopPublisher drops every event. enginectl uses it when Kafka is not wanted.
type NopPublisher struct{}

func (NopPublisher) PublishSuitableCarsUpdated(context.Context, *models.SuitableCarsUpdatedEvent) error {
	return nil
}

func (NopPublisher) PublishSuitableSellersUpdated(context.Context, *models.SuitableSellersUpdatedEvent) error {
	return nil
}

func (NopPublisher) PublishDealCompleted(context.Context, *models.DealCompletedEvent) error {
	return nil
}

func (NopPublisher) PublishOfferFulfilled(context.Context, *models.OfferFulfilledEvent) error {
	return nil
}

// BatchReport summarizes a run over many dealers.
type BatchReport struct {
	Dealers int `json:"dealers"`
	Failed  int `json:"failed"`
}

// forEachDealer runs fn for every dealer with at most limit calls in flight.
// Failures are logged and counted; they never stop the batch.
func forEachDealer(ctx context.Context, logger *zap.Logger, dealerIDs []int64, limit int, fn func(ctx context.Context, dealerID int64) error) BatchReport {
	if limit < 1 {
		limit = 1
	}

	var (
		g      errgroup.Group
		failed atomic.Int64
	)
	g.SetLimit(limit)

	for _, id := range dealerIDs {
		dealerID := id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				failed.Add(1)
				return nil
			}
			if err := fn(ctx, dealerID); err != nil {
				failed.Add(1)
				logger.Error("Dealer run failed", zap.Int64("dealer_id", dealerID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return BatchReport{Dealers: len(dealerIDs), Failed: int(failed.Load())}
}
