package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auto-market-engine/internal/models"
	"auto-market-engine/internal/pricing"
	"auto-market-engine/internal/store"
	"auto-market-engine/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Reasons a deal attempt bought nothing.
const (
	SkipOutOfStock        = "out_of_stock"
	SkipInsufficientFunds = "insufficient_funds"
	SkipOfferClosed       = "offer_closed"
)

// errNothingToBuy rolls back a deal transaction that found nothing to do.
var errNothingToBuy = errors.New("nothing to buy")

// Deal describes one purchase from a stock.
type Deal struct {
	StockID int64
	Buyer   models.PartyRef
	// UnitPrice is what the buyer pays per unit, after any promotion.
	UnitPrice decimal.Decimal
	// Resell puts the bought units into the buyer's own stock at a margin.
	Resell bool
	// MaxUnits caps the purchase. Zero means as many as the balance allows.
	MaxUnits int
	// OfferID, when set, is fulfilled in the same transaction.
	OfferID int64
}

// DealResult reports what a deal attempt did.
type DealResult struct {
	Executed   bool                   `json:"executed"`
	SkipReason string                 `json:"skip_reason,omitempty"`
	Seller     models.PartyRef        `json:"seller"`
	Buyer      models.PartyRef        `json:"buyer"`
	StockID    int64                  `json:"stock_id"`
	CarID      int64                  `json:"car_id"`
	Units      int                    `json:"units"`
	UnitPrice  decimal.Decimal        `json:"unit_price"`
	Total      decimal.Decimal        `json:"total"`
	Resold     *models.Stock          `json:"resold,omitempty"`
	Sale       *models.SaleRecord     `json:"sale,omitempty"`
	Purchase   *models.PurchaseRecord `json:"purchase,omitempty"`
}

// Executor applies deals atomically.
type Executor struct {
	repo          store.Repository
	publisher     EventPublisher
	marginPercent int
	logger        *zap.Logger
}

// NewExecutor creates a new deal executor
func NewExecutor(repo store.Repository, publisher EventPublisher, marginPercent int) *Executor {
	return &Executor{
		repo:          repo,
		publisher:     publisher,
		marginPercent: marginPercent,
		logger:        util.ComponentLogger("executor"),
	}
}

// Execute runs the deal in one transaction. Stock, balances, history,
// counters and the offer either all change or none do. A deal that can buy
// nothing returns a result with Executed false and no error.
func (e *Executor) Execute(ctx context.Context, deal Deal) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "Executor.Execute",
		attribute.Int64("stock_id", deal.StockID),
		attribute.String("buyer", fmt.Sprintf("%s-%d", deal.Buyer.Kind, deal.Buyer.ID)),
	)
	defer span.End()

	if !deal.UnitPrice.IsPositive() {
		return nil, util.RecordError(span, fmt.Errorf("deal unit price must be positive, got %s", deal.UnitPrice))
	}

	start := time.Now()
	result := &DealResult{}

	err := e.repo.InTx(ctx, func(tx store.Tx) error {
		*result = DealResult{Buyer: deal.Buyer, StockID: deal.StockID, UnitPrice: deal.UnitPrice}
		return e.apply(ctx, tx, deal, result)
	})
	util.DealExecutionLatency.Observe(time.Since(start).Seconds())

	if errors.Is(err, errNothingToBuy) {
		util.DealsSkippedTotal.WithLabelValues(result.SkipReason).Inc()
		e.logger.Debug("Deal skipped",
			zap.Int64("stock_id", deal.StockID),
			zap.String("reason", result.SkipReason),
		)
		return result, nil
	}
	if err != nil {
		util.DealsFailedTotal.Inc()
		return nil, util.RecordError(span, fmt.Errorf("deal on stock %d failed: %w", deal.StockID, err))
	}

	kind := "purchase"
	if deal.Resell {
		kind = "resell"
	}
	util.DealsExecutedTotal.WithLabelValues(kind).Inc()
	util.UnitsSoldTotal.Add(float64(result.Units))
	total, _ := result.Total.Float64()
	util.DealValueTotal.Add(total)

	e.logger.Info("Deal executed",
		zap.Int64("stock_id", result.StockID),
		zap.String("seller", fmt.Sprintf("%s-%d", result.Seller.Kind, result.Seller.ID)),
		zap.String("buyer", fmt.Sprintf("%s-%d", result.Buyer.Kind, result.Buyer.ID)),
		zap.Int("units", result.Units),
		zap.String("total", result.Total.String()),
	)

	event := &models.DealCompletedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeDealCompleted),
		Seller:    result.Seller,
		Buyer:     result.Buyer,
		StockID:   result.StockID,
		CarID:     result.CarID,
		UnitPrice: result.UnitPrice,
		Quantity:  result.Units,
		Total:     result.Total,
	}
	if err := e.publisher.PublishDealCompleted(ctx, event); err != nil {
		e.logger.Error("Failed to publish DealCompleted event", zap.Int64("stock_id", deal.StockID), zap.Error(err))
	}

	return result, nil
}

func (e *Executor) apply(ctx context.Context, tx store.Tx, deal Deal, result *DealResult) error {
	stock, err := tx.LockStock(ctx, deal.StockID)
	if errors.Is(err, store.ErrNotFound) {
		result.SkipReason = SkipOutOfStock
		return errNothingToBuy
	}
	if err != nil {
		return err
	}
	result.Seller = stock.Owner
	result.CarID = stock.CarID

	if !stock.IsActive() || stock.Available <= 0 {
		result.SkipReason = SkipOutOfStock
		return errNothingToBuy
	}

	buyerAcc, err := e.lockAccounts(ctx, tx, deal.Buyer, stock.Owner)
	if err != nil {
		return err
	}

	units := pricing.AffordableUnits(buyerAcc.Balance, deal.UnitPrice)
	if units > stock.Available {
		units = stock.Available
	}
	if deal.MaxUnits > 0 && units > deal.MaxUnits {
		units = deal.MaxUnits
	}
	if units == 0 {
		result.SkipReason = SkipInsufficientFunds
		return errNothingToBuy
	}

	if deal.OfferID != 0 {
		if err := tx.FulfillOffer(ctx, deal.OfferID); err != nil {
			if errors.Is(err, store.ErrOfferClosed) {
				result.SkipReason = SkipOfferClosed
				return errNothingToBuy
			}
			return err
		}
	}

	total := deal.UnitPrice.Mul(decimal.NewFromInt(int64(units)))

	if deal.Resell {
		resalePrice := pricing.WithMargin(deal.UnitPrice, e.marginPercent)
		resold, err := tx.UpsertOwnedStock(ctx, deal.Buyer, stock.CarID, resalePrice, units)
		if err != nil {
			return err
		}
		result.Resold = resold
	}

	if err := tx.AddStockUnits(ctx, stock.ID, -units); err != nil {
		return err
	}
	if err := tx.AdjustBalance(ctx, stock.Owner, total); err != nil {
		return err
	}
	if err := tx.AdjustBalance(ctx, deal.Buyer, total.Neg()); err != nil {
		return err
	}

	sale := &models.SaleRecord{
		Seller:    stock.Owner,
		Buyer:     deal.Buyer,
		StockID:   stock.ID,
		CarID:     stock.CarID,
		UnitPrice: deal.UnitPrice,
		Quantity:  units,
		Total:     total,
	}
	if err := tx.InsertSale(ctx, sale); err != nil {
		return err
	}

	purchase := &models.PurchaseRecord{
		Buyer:     deal.Buyer,
		Seller:    stock.Owner,
		StockID:   stock.ID,
		CarID:     stock.CarID,
		UnitPrice: deal.UnitPrice,
		Quantity:  units,
		Total:     total,
	}
	if err := tx.InsertPurchase(ctx, purchase); err != nil {
		return err
	}

	if err := tx.IncrementPurchaseCount(ctx, deal.Buyer, stock.Owner, units); err != nil {
		return err
	}

	result.Executed = true
	result.Units = units
	result.Total = total
	result.Sale = sale
	result.Purchase = purchase
	return nil
}

// lockAccounts locks both parties in PartyRef order and returns the buyer's account.
func (e *Executor) lockAccounts(ctx context.Context, tx store.Tx, buyer, seller models.PartyRef) (*models.Account, error) {
	first, second := buyer, seller
	if seller.Less(buyer) {
		first, second = seller, buyer
	}

	firstAcc, err := tx.LockAccount(ctx, first)
	if err != nil {
		return nil, err
	}
	secondAcc, err := tx.LockAccount(ctx, second)
	if err != nil {
		return nil, err
	}

	if first == buyer {
		return firstAcc, nil
	}
	return secondAcc, nil
}
