package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"auto-market-engine/internal/models"
	"auto-market-engine/internal/validation"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type stockRow struct {
	ID        int64           `db:"id"`
	OwnerKind string          `db:"owner_kind"`
	OwnerID   int64           `db:"owner_id"`
	CarID     int64           `db:"car_id"`
	UnitPrice decimal.Decimal `db:"unit_price"`
	Available int             `db:"available"`
	models.AuditedEntity
}

func (r stockRow) toModel() models.Stock {
	return models.Stock{
		ID:            r.ID,
		Owner:         models.PartyRef{Kind: models.PartyKind(r.OwnerKind), ID: r.OwnerID},
		CarID:         r.CarID,
		UnitPrice:     r.UnitPrice,
		Available:     r.Available,
		AuditedEntity: r.AuditedEntity,
	}
}

const stockColumns = `id, owner_kind, owner_id, car_id, unit_price, available, status, created_at, updated_at`

type scheduleRow struct {
	SellerID int64  `db:"seller_id"`
	Tiers    []byte `db:"tiers"`
	models.AuditedEntity
}

type promotionRow struct {
	ID              int64           `db:"id"`
	Name            string          `db:"name"`
	CreatorKind     string          `db:"creator_kind"`
	CreatorID       int64           `db:"creator_id"`
	DiscountPercent decimal.Decimal `db:"discount_percent"`
	StartsAt        time.Time       `db:"starts_at"`
	EndsAt          time.Time       `db:"ends_at"`
	AudienceIDs     pq.Int64Array   `db:"audience_ids"`
	StockIDs        pq.Int64Array   `db:"stock_ids"`
	models.AuditedEntity
}

func (r promotionRow) toModel() models.Promotion {
	return models.Promotion{
		ID:              r.ID,
		Name:            r.Name,
		Creator:         models.PartyRef{Kind: models.PartyKind(r.CreatorKind), ID: r.CreatorID},
		AudienceIDs:     []int64(r.AudienceIDs),
		StockIDs:        []int64(r.StockIDs),
		DiscountPercent: r.DiscountPercent,
		StartsAt:        r.StartsAt,
		EndsAt:          r.EndsAt,
		AuditedEntity:   r.AuditedEntity,
	}
}

type accountRow struct {
	PartyKind string          `db:"party_kind"`
	PartyID   int64           `db:"party_id"`
	Balance   decimal.Decimal `db:"balance"`
	UpdatedAt time.Time       `db:"updated_at"`
}

func (r accountRow) toModel() *models.Account {
	return &models.Account{
		Party:     models.PartyRef{Kind: models.PartyKind(r.PartyKind), ID: r.PartyID},
		Balance:   r.Balance,
		UpdatedAt: r.UpdatedAt,
	}
}

type historyRow struct {
	ID          int64           `db:"id"`
	SellerKind  string          `db:"seller_kind"`
	SellerID    int64           `db:"seller_id"`
	BuyerKind   string          `db:"buyer_kind"`
	BuyerID     int64           `db:"buyer_id"`
	StockID     int64           `db:"stock_id"`
	CarID       int64           `db:"car_id"`
	UnitPrice   decimal.Decimal `db:"unit_price"`
	Quantity    int             `db:"quantity"`
	Total       decimal.Decimal `db:"total"`
	CompletedAt time.Time       `db:"completed_at"`
}

func (r historyRow) seller() models.PartyRef {
	return models.PartyRef{Kind: models.PartyKind(r.SellerKind), ID: r.SellerID}
}

func (r historyRow) buyer() models.PartyRef {
	return models.PartyRef{Kind: models.PartyKind(r.BuyerKind), ID: r.BuyerID}
}

// GetStock retrieves a stock by ID
func (s *Store) GetStock(ctx context.Context, id int64) (*models.Stock, error) {
	var row stockRow
	query := `SELECT ` + stockColumns + ` FROM stocks WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get stock: %w", err)
	}
	stock := row.toModel()
	return &stock, nil
}

// ListAvailableStocks returns active stocks with units left for the given cars
func (s *Store) ListAvailableStocks(ctx context.Context, ownerKind models.PartyKind, carIDs []int64) ([]models.Stock, error) {
	if len(carIDs) == 0 {
		return nil, nil
	}

	var rows []stockRow
	query := `SELECT ` + stockColumns + ` FROM stocks
		WHERE owner_kind = $1 AND car_id = ANY($2) AND available > 0 AND status = 'ACTIVE'
		ORDER BY id`
	if err := s.db.SelectContext(ctx, &rows, query, string(ownerKind), pq.Int64Array(carIDs)); err != nil {
		return nil, fmt.Errorf("failed to list stocks: %w", err)
	}

	stocks := make([]models.Stock, 0, len(rows))
	for _, r := range rows {
		stocks = append(stocks, r.toModel())
	}
	return stocks, nil
}

// GetDiscountSchedule retrieves a seller's volume discount schedule
func (s *Store) GetDiscountSchedule(ctx context.Context, sellerID int64) (*models.DiscountSchedule, error) {
	var row scheduleRow
	query := `SELECT seller_id, tiers, status, created_at, updated_at FROM discount_schedules WHERE seller_id = $1`
	if err := s.db.GetContext(ctx, &row, query, sellerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get discount schedule: %w", err)
	}

	tiers, err := validation.ParseDiscountMap(row.Tiers)
	if err != nil {
		return nil, fmt.Errorf("seller %d: %w", sellerID, err)
	}
	return &models.DiscountSchedule{SellerID: row.SellerID, Tiers: tiers, AuditedEntity: row.AuditedEntity}, nil
}

// GetPurchaseCount returns the units the buyer has bought from the seller so far
func (s *Store) GetPurchaseCount(ctx context.Context, buyer, seller models.PartyRef) (int, error) {
	var units int
	query := `SELECT units FROM purchase_counters
		WHERE buyer_kind = $1 AND buyer_id = $2 AND seller_kind = $3 AND seller_id = $4`
	err := s.db.GetContext(ctx, &units, query, string(buyer.Kind), buyer.ID, string(seller.Kind), seller.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get purchase count: %w", err)
	}
	return units, nil
}

// ListActivePromotions returns running promotions of the creator kind aimed at the audience member
func (s *Store) ListActivePromotions(ctx context.Context, creatorKind models.PartyKind, audienceID int64, at time.Time) ([]models.Promotion, error) {
	var rows []promotionRow
	query := `
		SELECT p.id, p.name, p.creator_kind, p.creator_id, p.discount_percent, p.starts_at, p.ends_at,
			p.status, p.created_at, p.updated_at,
			ARRAY(SELECT a.party_id FROM promotion_audience a WHERE a.promotion_id = p.id ORDER BY a.party_id) AS audience_ids,
			ARRAY(SELECT ps.stock_id FROM promotion_stocks ps WHERE ps.promotion_id = p.id ORDER BY ps.stock_id) AS stock_ids
		FROM promotions p
		WHERE p.status = 'ACTIVE'
			AND p.creator_kind = $1
			AND $3 BETWEEN p.starts_at AND p.ends_at
			AND EXISTS (SELECT 1 FROM promotion_audience a WHERE a.promotion_id = p.id AND a.party_id = $2)
		ORDER BY p.id`
	if err := s.db.SelectContext(ctx, &rows, query, string(creatorKind), audienceID, at); err != nil {
		return nil, fmt.Errorf("failed to list promotions: %w", err)
	}

	promos := make([]models.Promotion, 0, len(rows))
	for _, r := range rows {
		promos = append(promos, r.toModel())
	}
	return promos, nil
}

// GetOffer retrieves a purchase offer by ID
func (s *Store) GetOffer(ctx context.Context, id int64) (*models.PurchaseOffer, error) {
	var offer models.PurchaseOffer
	query := `SELECT id, buyer_id, car_id, max_price, status, created_at, updated_at FROM purchase_offers WHERE id = $1`
	if err := s.db.GetContext(ctx, &offer, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return &offer, nil
}

// GetAccount retrieves a party's balance
func (s *Store) GetAccount(ctx context.Context, party models.PartyRef) (*models.Account, error) {
	var row accountRow
	query := `SELECT party_kind, party_id, balance, updated_at FROM accounts WHERE party_kind = $1 AND party_id = $2`
	if err := s.db.GetContext(ctx, &row, query, string(party.Kind), party.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return row.toModel(), nil
}

// ListSales returns the seller's sales history, oldest first
func (s *Store) ListSales(ctx context.Context, seller models.PartyRef) ([]models.SaleRecord, error) {
	var rows []historyRow
	query := `SELECT id, seller_kind, seller_id, buyer_kind, buyer_id, stock_id, car_id,
			unit_price, quantity, total, sold_at AS completed_at
		FROM sales_history WHERE seller_kind = $1 AND seller_id = $2 ORDER BY id`
	if err := s.db.SelectContext(ctx, &rows, query, string(seller.Kind), seller.ID); err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}

	records := make([]models.SaleRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, models.SaleRecord{
			ID:        r.ID,
			Seller:    r.seller(),
			Buyer:     r.buyer(),
			StockID:   r.StockID,
			CarID:     r.CarID,
			UnitPrice: r.UnitPrice,
			Quantity:  r.Quantity,
			Total:     r.Total,
			SoldAt:    r.CompletedAt,
		})
	}
	return records, nil
}

// ListPurchases returns the buyer's purchase history, oldest first
func (s *Store) ListPurchases(ctx context.Context, buyer models.PartyRef) ([]models.PurchaseRecord, error) {
	var rows []historyRow
	query := `SELECT id, seller_kind, seller_id, buyer_kind, buyer_id, stock_id, car_id,
			unit_price, quantity, total, purchased_at AS completed_at
		FROM purchase_history WHERE buyer_kind = $1 AND buyer_id = $2 ORDER BY id`
	if err := s.db.SelectContext(ctx, &rows, query, string(buyer.Kind), buyer.ID); err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}

	records := make([]models.PurchaseRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, models.PurchaseRecord{
			ID:          r.ID,
			Buyer:       r.buyer(),
			Seller:      r.seller(),
			StockID:     r.StockID,
			CarID:       r.CarID,
			UnitPrice:   r.UnitPrice,
			Quantity:    r.Quantity,
			Total:       r.Total,
			PurchasedAt: r.CompletedAt,
		})
	}
	return records, nil
}
