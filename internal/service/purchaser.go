package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"auto-market-engine/internal/models"
	"auto-market-engine/internal/pricing"
	"auto-market-engine/internal/store"
	"auto-market-engine/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Purchaser spends dealer balances on the best deal left by the last rank run.
type Purchaser struct {
	repo        store.Repository
	executor    *Executor
	concurrency int
	now         func() time.Time
	logger      *zap.Logger
}

// NewPurchaser creates a new dealer purchaser
func NewPurchaser(repo store.Repository, executor *Executor, concurrency int) *Purchaser {
	return &Purchaser{
		repo:        repo,
		executor:    executor,
		concurrency: concurrency,
		now:         time.Now,
		logger:      util.ComponentLogger("purchaser"),
	}
}

// Candidates prices what the dealer can buy right now: promotion stocks for
// its suitable cars and the ranked sellers' stocks of the ranked cars at list
// price. Candidates are ordered by price, then stock id.
func (p *Purchaser) Candidates(ctx context.Context, dealerID int64) ([]PricedStock, error) {
	ranked, err := p.repo.GetSuitableSellers(ctx, dealerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load suitable sellers: %w", err)
	}
	if len(ranked.SellerIDs) == 0 {
		return nil, nil
	}

	suitable, err := p.repo.GetSuitableCars(ctx, dealerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load suitable cars: %w", err)
	}

	var candidates []PricedStock

	promos, err := p.repo.ListActivePromotions(ctx, models.PartySeller, dealerID, p.now())
	if err != nil {
		return nil, err
	}
	if len(promos) > 0 && len(suitable.CarIDs) > 0 {
		stocks, err := p.repo.ListAvailableStocks(ctx, models.PartySeller, suitable.CarIDs)
		if err != nil {
			return nil, err
		}
		for _, st := range stocks {
			for _, promo := range promos {
				if promo.Covers(st.ID) {
					candidates = append(candidates, PricedStock{
						Stock:  st,
						Price:  pricing.Discounted(st.UnitPrice, promo.DiscountPercent),
						Source: SourcePromotion,
					})
				}
			}
		}
	}

	sellers := make(map[int64]bool, len(ranked.SellerIDs))
	for _, id := range ranked.SellerIDs {
		sellers[id] = true
	}
	stocks, err := p.repo.ListAvailableStocks(ctx, models.PartySeller, ranked.CarIDs)
	if err != nil {
		return nil, err
	}
	for _, st := range stocks {
		if sellers[st.Owner.ID] {
			candidates = append(candidates, PricedStock{Stock: st, Price: st.UnitPrice, Source: SourceList})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].Price.Equal(candidates[j].Price) {
			return candidates[i].Price.LessThan(candidates[j].Price)
		}
		return candidates[i].Stock.ID < candidates[j].Stock.ID
	})
	return candidates, nil
}

// PurchaseForDealer buys as many units of the cheapest candidate as the
// dealer's balance covers and lists them in the dealer's stock at the margin.
// It returns nil when the dealer has nothing to buy.
func (p *Purchaser) PurchaseForDealer(ctx context.Context, dealerID int64) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "Purchaser.PurchaseForDealer", attribute.Int64("dealer_id", dealerID))
	defer span.End()

	candidates, err := p.Candidates(ctx, dealerID)
	if err != nil {
		return nil, util.RecordError(span, err)
	}
	if len(candidates) == 0 {
		p.logger.Debug("No purchase candidates", zap.Int64("dealer_id", dealerID))
		return nil, nil
	}

	best := candidates[0]
	result, err := p.executor.Execute(ctx, Deal{
		StockID:   best.Stock.ID,
		Buyer:     models.Dealer(dealerID),
		UnitPrice: best.Price,
		Resell:    true,
	})
	if err != nil {
		return nil, util.RecordError(span, err)
	}
	return result, nil
}

// PurchaseAll runs PurchaseForDealer for every dealer with criteria.
func (p *Purchaser) PurchaseAll(ctx context.Context) (BatchReport, error) {
	ctx, span := util.StartSpan(ctx, "Purchaser.PurchaseAll")
	defer span.End()

	dealerIDs, err := p.repo.ListDealerIDs(ctx)
	if err != nil {
		return BatchReport{}, util.RecordError(span, err)
	}

	report := forEachDealer(ctx, p.logger, dealerIDs, p.concurrency, func(ctx context.Context, dealerID int64) error {
		_, err := p.PurchaseForDealer(ctx, dealerID)
		return err
	})
	p.logger.Info("Purchase batch finished", zap.Int("dealers", report.Dealers), zap.Int("failed", report.Failed))
	return report, nil
}
