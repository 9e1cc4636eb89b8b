package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"auto-market-engine/internal/models"
	"auto-market-engine/internal/pricing"
	"auto-market-engine/internal/store"
	"auto-market-engine/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Price sources recorded on ranked offers.
const (
	SourcePromotion = "promotion"
	SourceSchedule  = "schedule"
	SourceList      = "list"
)

// RankerConfig holds the ranking constants.
type RankerConfig struct {
	// EvaluationBatch is the number of units a discount schedule is priced over.
	EvaluationBatch int
	// NoScheduleMultiplier scales the list price of sellers without a schedule.
	NoScheduleMultiplier int
	Concurrency          int
}

// PricedStock is one seller stock with the price it was ranked by.
type PricedStock struct {
	Stock  models.Stock    `json:"stock"`
	Price  decimal.Decimal `json:"price"`
	Source string          `json:"source"`
}

// Ranking is the outcome of a rank run for one dealer.
type Ranking struct {
	DealerID  int64           `json:"dealer_id"`
	Best      []PricedStock   `json:"best"`
	SellerIDs []int64         `json:"seller_ids"`
	CarIDs    []int64         `json:"car_ids"`
	BestPrice decimal.Decimal `json:"best_price"`
}

// Ranker picks, per dealer, the sellers offering the lowest realized price
// for the dealer's suitable cars.
type Ranker struct {
	repo      store.Repository
	publisher EventPublisher
	cfg       RankerConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewRanker creates a new seller ranker
func NewRanker(repo store.Repository, publisher EventPublisher, cfg RankerConfig) *Ranker {
	if cfg.EvaluationBatch <= 0 {
		cfg.EvaluationBatch = pricing.EvaluationBatch
	}
	if cfg.NoScheduleMultiplier <= 0 {
		cfg.NoScheduleMultiplier = 100
	}
	return &Ranker{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		logger:    util.ComponentLogger("ranker"),
	}
}

// Evaluate prices every candidate stock for the dealer without persisting anything.
// The returned candidates are ordered by stock id.
func (r *Ranker) Evaluate(ctx context.Context, dealerID int64) ([]PricedStock, error) {
	suitable, err := r.repo.GetSuitableCars(ctx, dealerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load suitable cars: %w", err)
	}
	if len(suitable.CarIDs) == 0 {
		return nil, nil
	}

	stocks, err := r.repo.ListAvailableStocks(ctx, models.PartySeller, suitable.CarIDs)
	if err != nil {
		return nil, err
	}
	if len(stocks) == 0 {
		return nil, nil
	}

	promos, err := r.repo.ListActivePromotions(ctx, models.PartySeller, dealerID, r.now())
	if err != nil {
		return nil, err
	}

	var candidates []PricedStock
	covered := make(map[int64]bool)
	for _, st := range stocks {
		for _, promo := range promos {
			if !promo.Covers(st.ID) {
				continue
			}
			covered[st.ID] = true
			candidates = append(candidates, PricedStock{
				Stock:  st,
				Price:  pricing.Discounted(st.UnitPrice, promo.DiscountPercent),
				Source: SourcePromotion,
			})
		}
	}

	dealer := models.Dealer(dealerID)
	schedules := make(map[int64]*models.DiscountSchedule)
	for _, st := range stocks {
		if covered[st.ID] {
			continue
		}

		schedule, ok := schedules[st.Owner.ID]
		if !ok {
			schedule, err = r.repo.GetDiscountSchedule(ctx, st.Owner.ID)
			if errors.Is(err, store.ErrNotFound) {
				schedule, err = nil, nil
			}
			if err != nil {
				return nil, err
			}
			if schedule != nil && !schedule.IsActive() {
				schedule = nil
			}
			schedules[st.Owner.ID] = schedule
		}

		if schedule == nil {
			candidates = append(candidates, PricedStock{
				Stock:  st,
				Price:  st.UnitPrice.Mul(decimal.NewFromInt(int64(r.cfg.NoScheduleMultiplier))),
				Source: SourceList,
			})
			continue
		}

		purchased, err := r.repo.GetPurchaseCount(ctx, dealer, st.Owner)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, PricedStock{
			Stock:  st,
			Price:  pricing.BatchTotal(schedule.Tiers, purchased, st.UnitPrice, r.cfg.EvaluationBatch),
			Source: SourceSchedule,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Stock.ID < candidates[j].Stock.ID })
	return candidates, nil
}

// SelectBest keeps every candidate tied at the lowest price.
func SelectBest(candidates []PricedStock) []PricedStock {
	if len(candidates) == 0 {
		return nil
	}
	lowest := candidates[0].Price
	for _, c := range candidates[1:] {
		if c.Price.LessThan(lowest) {
			lowest = c.Price
		}
	}

	var best []PricedStock
	for _, c := range candidates {
		if c.Price.Equal(lowest) {
			best = append(best, c)
		}
	}
	return best
}

// RankDealer evaluates the dealer's candidates and replaces its suitable sellers.
func (r *Ranker) RankDealer(ctx context.Context, dealerID int64) (*Ranking, error) {
	ctx, span := util.StartSpan(ctx, "Ranker.RankDealer", attribute.Int64("dealer_id", dealerID))
	defer span.End()

	candidates, err := r.Evaluate(ctx, dealerID)
	if err != nil {
		util.RankRunsTotal.WithLabelValues("error").Inc()
		return nil, util.RecordError(span, err)
	}
	for _, c := range candidates {
		util.RankedOffersTotal.WithLabelValues(c.Source).Inc()
	}

	ranking := &Ranking{DealerID: dealerID, Best: SelectBest(candidates)}
	sellers := make(map[int64]bool)
	cars := make(map[int64]bool)
	for _, b := range ranking.Best {
		ranking.BestPrice = b.Price
		if !sellers[b.Stock.Owner.ID] {
			sellers[b.Stock.Owner.ID] = true
			ranking.SellerIDs = append(ranking.SellerIDs, b.Stock.Owner.ID)
		}
		if !cars[b.Stock.CarID] {
			cars[b.Stock.CarID] = true
			ranking.CarIDs = append(ranking.CarIDs, b.Stock.CarID)
		}
	}

	if err := r.repo.ReplaceSuitableSellers(ctx, dealerID, ranking.SellerIDs, ranking.CarIDs); err != nil {
		util.RankRunsTotal.WithLabelValues("error").Inc()
		return nil, util.RecordError(span, fmt.Errorf("failed to store suitable sellers: %w", err))
	}

	util.RankRunsTotal.WithLabelValues("ok").Inc()
	r.logger.Info("Suitable sellers updated",
		zap.Int64("dealer_id", dealerID),
		zap.Int("candidates", len(candidates)),
		zap.Int64s("seller_ids", ranking.SellerIDs),
		zap.String("best_price", ranking.BestPrice.String()),
	)

	event := &models.SuitableSellersUpdatedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeSuitableSellersUpdated),
		DealerID:  dealerID,
		SellerIDs: ranking.SellerIDs,
		CarIDs:    ranking.CarIDs,
		BestPrice: ranking.BestPrice,
	}
	if err := r.publisher.PublishSuitableSellersUpdated(ctx, event); err != nil {
		r.logger.Error("Failed to publish SuitableSellersUpdated event", zap.Int64("dealer_id", dealerID), zap.Error(err))
	}

	return ranking, nil
}

// RankAll runs RankDealer for every dealer with criteria.
func (r *Ranker) RankAll(ctx context.Context) (BatchReport, error) {
	ctx, span := util.StartSpan(ctx, "Ranker.RankAll")
	defer span.End()

	dealerIDs, err := r.repo.ListDealerIDs(ctx)
	if err != nil {
		return BatchReport{}, util.RecordError(span, err)
	}

	report := forEachDealer(ctx, r.logger, dealerIDs, r.cfg.Concurrency, func(ctx context.Context, dealerID int64) error {
		_, err := r.RankDealer(ctx, dealerID)
		return err
	})
	r.logger.Info("Rank batch finished", zap.Int("dealers", report.Dealers), zap.Int("failed", report.Failed))
	return report, nil
}
