package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"auto-market-engine/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// pgTx implements Tx on top of a Postgres transaction. Reads take row locks
// with SELECT ... FOR UPDATE.
type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) LockStock(ctx context.Context, id int64) (*models.Stock, error) {
	var row stockRow
	query := `SELECT ` + stockColumns + ` FROM stocks WHERE id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock stock: %w", err)
	}
	stock := row.toModel()
	return &stock, nil
}

func (t *pgTx) LockAccount(ctx context.Context, party models.PartyRef) (*models.Account, error) {
	insert := `INSERT INTO accounts (party_kind, party_id, balance) VALUES ($1, $2, 0)
		ON CONFLICT (party_kind, party_id) DO NOTHING`
	if _, err := t.tx.ExecContext(ctx, insert, string(party.Kind), party.ID); err != nil {
		return nil, fmt.Errorf("failed to open account: %w", err)
	}

	var row accountRow
	query := `SELECT party_kind, party_id, balance, updated_at FROM accounts
		WHERE party_kind = $1 AND party_id = $2 FOR UPDATE`
	if err := t.tx.GetContext(ctx, &row, query, string(party.Kind), party.ID); err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return row.toModel(), nil
}

func (t *pgTx) AddStockUnits(ctx context.Context, stockID int64, delta int) error {
	query := `UPDATE stocks SET available = available + $1, updated_at = NOW() WHERE id = $2`
	result, err := t.tx.ExecContext(ctx, query, delta, stockID)
	if err != nil {
		return fmt.Errorf("failed to update stock units: %w", err)
	}
	return requireRow(result)
}

func (t *pgTx) UpsertOwnedStock(ctx context.Context, owner models.PartyRef, carID int64, unitPrice decimal.Decimal, units int) (*models.Stock, error) {
	var row stockRow
	query := `
		INSERT INTO stocks (owner_kind, owner_id, car_id, unit_price, available, status)
		VALUES ($1, $2, $3, $4, $5, 'ACTIVE')
		ON CONFLICT (owner_kind, owner_id, car_id)
		DO UPDATE SET available = stocks.available + EXCLUDED.available, updated_at = NOW()
		RETURNING ` + stockColumns
	err := t.tx.GetContext(ctx, &row, query, string(owner.Kind), owner.ID, carID, unitPrice, units)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert owned stock: %w", err)
	}
	stock := row.toModel()
	return &stock, nil
}

func (t *pgTx) AdjustBalance(ctx context.Context, party models.PartyRef, delta decimal.Decimal) error {
	query := `UPDATE accounts SET balance = balance + $1, updated_at = NOW()
		WHERE party_kind = $2 AND party_id = $3`
	result, err := t.tx.ExecContext(ctx, query, delta, string(party.Kind), party.ID)
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	return requireRow(result)
}

func (t *pgTx) InsertSale(ctx context.Context, rec *models.SaleRecord) error {
	query := `
		INSERT INTO sales_history (seller_kind, seller_id, buyer_kind, buyer_id, stock_id, car_id, unit_price, quantity, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, sold_at`
	err := t.tx.QueryRowxContext(ctx, query,
		string(rec.Seller.Kind), rec.Seller.ID, string(rec.Buyer.Kind), rec.Buyer.ID,
		rec.StockID, rec.CarID, rec.UnitPrice, rec.Quantity, rec.Total,
	).Scan(&rec.ID, &rec.SoldAt)
	if err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}
	return nil
}

func (t *pgTx) InsertPurchase(ctx context.Context, rec *models.PurchaseRecord) error {
	query := `
		INSERT INTO purchase_history (buyer_kind, buyer_id, seller_kind, seller_id, stock_id, car_id, unit_price, quantity, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, purchased_at`
	err := t.tx.QueryRowxContext(ctx, query,
		string(rec.Buyer.Kind), rec.Buyer.ID, string(rec.Seller.Kind), rec.Seller.ID,
		rec.StockID, rec.CarID, rec.UnitPrice, rec.Quantity, rec.Total,
	).Scan(&rec.ID, &rec.PurchasedAt)
	if err != nil {
		return fmt.Errorf("failed to insert purchase: %w", err)
	}
	return nil
}

func (t *pgTx) IncrementPurchaseCount(ctx context.Context, buyer, seller models.PartyRef, units int) error {
	query := `
		INSERT INTO purchase_counters (buyer_kind, buyer_id, seller_kind, seller_id, units)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (buyer_kind, buyer_id, seller_kind, seller_id)
		DO UPDATE SET units = purchase_counters.units + EXCLUDED.units`
	_, err := t.tx.ExecContext(ctx, query, string(buyer.Kind), buyer.ID, string(seller.Kind), seller.ID, units)
	if err != nil {
		return fmt.Errorf("failed to increment purchase count: %w", err)
	}
	return nil
}

func (t *pgTx) FulfillOffer(ctx context.Context, offerID int64) error {
	query := `UPDATE purchase_offers SET status = 'FULFILLED', updated_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE'`
	result, err := t.tx.ExecContext(ctx, query, offerID)
	if err != nil {
		return fmt.Errorf("failed to fulfill offer: %w", err)
	}
	if err := requireRow(result); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrOfferClosed
		}
		return err
	}
	return nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
