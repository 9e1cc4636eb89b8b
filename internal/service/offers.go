package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auto-market-engine/internal/jobs"
	"auto-market-engine/internal/models"
	"auto-market-engine/internal/pricing"
	"auto-market-engine/internal/store"
	"auto-market-engine/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OfferOutcome is the result of one fulfilment check.
type OfferOutcome string

const (
	// OfferClosed means the offer is gone or no longer active; checks stop.
	OfferClosed OfferOutcome = "closed"
	// OfferPending means nothing affordable was found; the check is retried.
	OfferPending OfferOutcome = "pending"
	// OfferFulfilled means a deal was executed and the offer closed.
	OfferFulfilled OfferOutcome = "fulfilled"
)

// OfferConfig holds the offer loop delays.
type OfferConfig struct {
	InitialDelay time.Duration
	RetryDelay   time.Duration
}

// OfferFulfiller matches buyer offers against dealer stock and re-checks
// unmatched offers through the delayed job queue.
type OfferFulfiller struct {
	repo      store.Repository
	executor  *Executor
	queue     jobs.Queue
	publisher EventPublisher
	cfg       OfferConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewOfferFulfiller creates a new offer fulfiller
func NewOfferFulfiller(repo store.Repository, executor *Executor, queue jobs.Queue, publisher EventPublisher, cfg OfferConfig) *OfferFulfiller {
	return &OfferFulfiller{
		repo:      repo,
		executor:  executor,
		queue:     queue,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		logger:    util.ComponentLogger("offers"),
	}
}

// Schedule enqueues the first check of an offer.
func (f *OfferFulfiller) Schedule(ctx context.Context, offerID int64) (jobs.Job, error) {
	job := jobs.New(jobs.KindOfferFulfill, offerID, f.now().Add(f.cfg.InitialDelay))
	if err := f.queue.Enqueue(ctx, job); err != nil {
		return jobs.Job{}, fmt.Errorf("failed to schedule offer %d: %w", offerID, err)
	}
	f.logger.Info("Offer check scheduled", zap.Int64("offer_id", offerID), zap.Time("not_before", job.NotBefore))
	return job, nil
}

// BestDealerStock returns the cheapest dealer stock for the offer within its
// price cap, with the effective price the buyer would pay. Ties go to the
// lowest stock id. ok is false when nothing qualifies.
func (f *OfferFulfiller) BestDealerStock(ctx context.Context, offer *models.PurchaseOffer) (stock models.Stock, price decimal.Decimal, ok bool, err error) {
	stocks, err := f.repo.ListAvailableStocks(ctx, models.PartyDealer, []int64{offer.CarID})
	if err != nil {
		return stock, price, false, err
	}
	if len(stocks) == 0 {
		return stock, price, false, nil
	}

	promos, err := f.repo.ListActivePromotions(ctx, models.PartyDealer, offer.BuyerID, f.now())
	if err != nil {
		return stock, price, false, err
	}

	for _, st := range stocks {
		effective := st.UnitPrice
		for _, promo := range promos {
			if !promo.Covers(st.ID) {
				continue
			}
			if discounted := pricing.Discounted(st.UnitPrice, promo.DiscountPercent); discounted.LessThan(effective) {
				effective = discounted
			}
		}
		if effective.GreaterThan(offer.MaxPrice) {
			continue
		}
		if !ok || effective.LessThan(price) {
			stock, price, ok = st, effective, true
		}
	}
	return stock, price, ok, nil
}

// Fulfill runs one check of the offer. When a dealer stock within the cap is
// found and the buyer can afford one unit, the unit is bought and the offer
// is fulfilled in the same transaction.
func (f *OfferFulfiller) Fulfill(ctx context.Context, offerID int64) (OfferOutcome, error) {
	ctx, span := util.StartSpan(ctx, "OfferFulfiller.Fulfill", attribute.Int64("offer_id", offerID))
	defer span.End()

	outcome, err := f.fulfill(ctx, offerID)
	if err != nil {
		util.OfferChecksTotal.WithLabelValues("error").Inc()
		return outcome, util.RecordError(span, err)
	}
	util.OfferChecksTotal.WithLabelValues(string(outcome)).Inc()
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	return outcome, nil
}

func (f *OfferFulfiller) fulfill(ctx context.Context, offerID int64) (OfferOutcome, error) {
	offer, err := f.repo.GetOffer(ctx, offerID)
	if errors.Is(err, store.ErrNotFound) {
		f.logger.Debug("Offer no longer exists", zap.Int64("offer_id", offerID))
		return OfferClosed, nil
	}
	if err != nil {
		return OfferPending, fmt.Errorf("failed to load offer: %w", err)
	}
	if !offer.IsActive() {
		return OfferClosed, nil
	}

	stock, price, ok, err := f.BestDealerStock(ctx, offer)
	if err != nil {
		return OfferPending, err
	}
	if !ok {
		return OfferPending, nil
	}

	buyer := models.Buyer(offer.BuyerID)
	account, err := f.repo.GetAccount(ctx, buyer)
	if errors.Is(err, store.ErrNotFound) {
		return OfferPending, nil
	}
	if err != nil {
		return OfferPending, err
	}
	if account.Balance.LessThan(price) {
		return OfferPending, nil
	}

	result, err := f.executor.Execute(ctx, Deal{
		StockID:   stock.ID,
		Buyer:     buyer,
		UnitPrice: price,
		MaxUnits:  1,
		OfferID:   offer.ID,
	})
	if err != nil {
		return OfferPending, err
	}
	if !result.Executed {
		if result.SkipReason == SkipOfferClosed {
			return OfferClosed, nil
		}
		return OfferPending, nil
	}

	f.logger.Info("Offer fulfilled",
		zap.Int64("offer_id", offer.ID),
		zap.Int64("dealer_id", result.Seller.ID),
		zap.Int64("stock_id", stock.ID),
		zap.String("price", price.String()),
	)

	event := &models.OfferFulfilledEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOfferFulfilled),
		OfferID:   offer.ID,
		BuyerID:   offer.BuyerID,
		DealerID:  result.Seller.ID,
		StockID:   stock.ID,
		Price:     price,
	}
	if err := f.publisher.PublishOfferFulfilled(ctx, event); err != nil {
		f.logger.Error("Failed to publish OfferFulfilled event", zap.Int64("offer_id", offer.ID), zap.Error(err))
	}

	return OfferFulfilled, nil
}

// HandleJob runs an offer check job. Pending and failed checks are enqueued
// again after the retry delay; closed and fulfilled offers stop.
func (f *OfferFulfiller) HandleJob(ctx context.Context, job jobs.Job) error {
	if job.Kind != jobs.KindOfferFulfill {
		return fmt.Errorf("%w: %s", jobs.ErrUnknownKind, job.Kind)
	}

	outcome, err := f.Fulfill(ctx, job.SubjectID)
	if outcome != OfferPending {
		return err
	}

	next := job.Next(f.now().Add(f.cfg.RetryDelay))
	if qerr := f.queue.Enqueue(ctx, next); qerr != nil {
		return errors.Join(err, fmt.Errorf("failed to reschedule offer %d: %w", job.SubjectID, qerr))
	}
	f.logger.Debug("Offer check rescheduled",
		zap.Int64("offer_id", job.SubjectID),
		zap.Int("attempt", next.Attempt),
		zap.Time("not_before", next.NotBefore),
	)
	return err
}
