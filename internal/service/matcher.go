package service

import (
	"context"
	"errors"
	"fmt"

	"auto-market-engine/internal/models"
	"auto-market-engine/internal/store"
	"auto-market-engine/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Matcher keeps each dealer's suitable car set in line with its criteria.
type Matcher struct {
	repo        store.Repository
	publisher   EventPublisher
	concurrency int
	logger      *zap.Logger
}

// NewMatcher creates a new specification matcher
func NewMatcher(repo store.Repository, publisher EventPublisher, concurrency int) *Matcher {
	return &Matcher{
		repo:        repo,
		publisher:   publisher,
		concurrency: concurrency,
		logger:      util.ComponentLogger("matcher"),
	}
}

// MatchDealer recomputes the dealer's suitable cars from scratch. A dealer
// without criteria is skipped and nil is returned. Deactivated criteria also
// return nil, after clearing whatever an earlier run stored.
func (m *Matcher) MatchDealer(ctx context.Context, dealerID int64) (*models.SuitableCarSet, error) {
	ctx, span := util.StartSpan(ctx, "Matcher.MatchDealer", attribute.Int64("dealer_id", dealerID))
	defer span.End()

	criteria, err := m.repo.GetCriteriaByDealer(ctx, dealerID)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Debug("No criteria, skipping match", zap.Int64("dealer_id", dealerID))
		util.MatchRunsTotal.WithLabelValues("skipped").Inc()
		return nil, nil
	}
	if err != nil {
		util.MatchRunsTotal.WithLabelValues("error").Inc()
		return nil, util.RecordError(span, fmt.Errorf("failed to load criteria: %w", err))
	}
	if !criteria.IsActive() {
		if err := m.repo.ReplaceSuitableCars(ctx, dealerID, nil); err != nil {
			util.MatchRunsTotal.WithLabelValues("error").Inc()
			return nil, util.RecordError(span, fmt.Errorf("failed to clear suitable cars: %w", err))
		}
		m.logger.Info("Criteria deactivated, suitable cars cleared", zap.Int64("dealer_id", dealerID))
		util.MatchRunsTotal.WithLabelValues("cleared").Inc()
		return nil, nil
	}

	cars, err := m.repo.FindCatalogCars(ctx, models.NewCatalogFilter(*criteria))
	if err != nil {
		util.MatchRunsTotal.WithLabelValues("error").Inc()
		return nil, util.RecordError(span, err)
	}

	ids := make([]int64, 0, len(cars))
	for _, car := range cars {
		ids = append(ids, car.ID)
	}

	if err := m.repo.ReplaceSuitableCars(ctx, dealerID, ids); err != nil {
		util.MatchRunsTotal.WithLabelValues("error").Inc()
		return nil, util.RecordError(span, fmt.Errorf("failed to store suitable cars: %w", err))
	}

	util.MatchRunsTotal.WithLabelValues("ok").Inc()
	util.SuitableCarsMatched.Observe(float64(len(ids)))
	m.logger.Info("Suitable cars updated", zap.Int64("dealer_id", dealerID), zap.Int("cars", len(ids)))

	event := &models.SuitableCarsUpdatedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeSuitableCarsUpdated),
		DealerID:  dealerID,
		CarIDs:    ids,
	}
	if err := m.publisher.PublishSuitableCarsUpdated(ctx, event); err != nil {
		m.logger.Error("Failed to publish SuitableCarsUpdated event", zap.Int64("dealer_id", dealerID), zap.Error(err))
	}

	return &models.SuitableCarSet{DealerID: dealerID, CarIDs: ids}, nil
}

// MatchAll runs MatchDealer for every dealer with criteria.
func (m *Matcher) MatchAll(ctx context.Context) (BatchReport, error) {
	ctx, span := util.StartSpan(ctx, "Matcher.MatchAll")
	defer span.End()

	dealerIDs, err := m.repo.ListDealerIDs(ctx)
	if err != nil {
		return BatchReport{}, util.RecordError(span, err)
	}

	report := forEachDealer(ctx, m.logger, dealerIDs, m.concurrency, func(ctx context.Context, dealerID int64) error {
		_, err := m.MatchDealer(ctx, dealerID)
		return err
	})
	m.logger.Info("Match batch finished", zap.Int("dealers", report.Dealers), zap.Int("failed", report.Failed))
	return report, nil
}
