package store

import (
	"context"
	"fmt"

	"auto-market-engine/internal/models"
	"auto-market-engine/internal/validation"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

func statusOrActive(s models.Status) string {
	if s == "" {
		return string(models.StatusActive)
	}
	return string(s)
}

// CreateCatalogCar inserts a catalog car
func (s *Store) CreateCatalogCar(ctx context.Context, car *models.CatalogCar) error {
	if err := validation.ValidateCatalogCar(*car); err != nil {
		return err
	}

	query := `
		INSERT INTO catalog_cars (transmission, body_type, fuel_type, drive_unit, color, engine_volume,
			safe_controls, parking_help, climate_controls, multimedia, additional_safety, other_additions,
			brand, model_name, year_of_production, demand_level, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, status, created_at, updated_at`
	err := s.db.QueryRowxContext(ctx, query,
		car.Transmission, car.BodyType, car.FuelType, car.DriveUnit, car.Color, car.EngineVolume,
		car.SafeControls, car.ParkingHelp, car.ClimateControls, car.Multimedia, car.AdditionalSafety, car.OtherAdditions,
		car.Brand, car.ModelName, car.YearOfProduction, car.DemandLevel, statusOrActive(car.Status),
	).Scan(&car.ID, &car.Status, &car.CreatedAt, &car.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create catalog car: %w", err)
	}
	return nil
}

// SaveCriteria creates or replaces the dealer's criteria
func (s *Store) SaveCriteria(ctx context.Context, c *models.DealerCriteria) error {
	if err := validation.ValidateCriteria(*c); err != nil {
		return err
	}

	query := `
		INSERT INTO dealer_criteria (dealer_id, transmission, body_type, fuel_type, drive_unit, color, engine_volume,
			safe_controls, parking_help, climate_controls, multimedia, additional_safety, other_additions,
			min_year_of_production, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (dealer_id) DO UPDATE SET
			transmission = EXCLUDED.transmission,
			body_type = EXCLUDED.body_type,
			fuel_type = EXCLUDED.fuel_type,
			drive_unit = EXCLUDED.drive_unit,
			color = EXCLUDED.color,
			engine_volume = EXCLUDED.engine_volume,
			safe_controls = EXCLUDED.safe_controls,
			parking_help = EXCLUDED.parking_help,
			climate_controls = EXCLUDED.climate_controls,
			multimedia = EXCLUDED.multimedia,
			additional_safety = EXCLUDED.additional_safety,
			other_additions = EXCLUDED.other_additions,
			min_year_of_production = EXCLUDED.min_year_of_production,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING id, status, created_at, updated_at`
	err := s.db.QueryRowxContext(ctx, query,
		c.DealerID, c.Transmission, c.BodyType, c.FuelType, c.DriveUnit, c.Color, c.EngineVolume,
		c.SafeControls, c.ParkingHelp, c.ClimateControls, c.Multimedia, c.AdditionalSafety, c.OtherAdditions,
		c.MinYearOfProduction, statusOrActive(c.Status),
	).Scan(&c.ID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save criteria: %w", err)
	}
	return nil
}

// CreateStock inserts a stock listing
func (s *Store) CreateStock(ctx context.Context, st *models.Stock) error {
	if err := validation.ValidateStock(*st); err != nil {
		return err
	}

	query := `
		INSERT INTO stocks (owner_kind, owner_id, car_id, unit_price, available, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, status, created_at, updated_at`
	err := s.db.QueryRowxContext(ctx, query,
		string(st.Owner.Kind), st.Owner.ID, st.CarID, st.UnitPrice, st.Available, statusOrActive(st.Status),
	).Scan(&st.ID, &st.Status, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create stock: %w", err)
	}
	return nil
}

// SaveDiscountSchedule creates or replaces a seller's discount schedule
func (s *Store) SaveDiscountSchedule(ctx context.Context, ds *models.DiscountSchedule) error {
	if err := validation.ValidateDiscountSchedule(*ds); err != nil {
		return err
	}
	raw, err := validation.EncodeDiscountMap(ds.Tiers)
	if err != nil {
		return fmt.Errorf("failed to encode discount map: %w", err)
	}

	query := `
		INSERT INTO discount_schedules (seller_id, tiers, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (seller_id) DO UPDATE SET tiers = EXCLUDED.tiers, status = EXCLUDED.status, updated_at = NOW()
		RETURNING status, created_at, updated_at`
	err = s.db.QueryRowxContext(ctx, query, ds.SellerID, raw, statusOrActive(ds.Status)).
		Scan(&ds.Status, &ds.CreatedAt, &ds.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save discount schedule: %w", err)
	}
	return nil
}

// CreatePromotion inserts a promotion with its audience and eligible stocks
func (s *Store) CreatePromotion(ctx context.Context, p *models.Promotion) error {
	if err := validation.ValidatePromotion(*p); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO promotions (name, creator_kind, creator_id, discount_percent, starts_at, ends_at, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, status, created_at, updated_at`
		err := tx.QueryRowxContext(ctx, query,
			p.Name, string(p.Creator.Kind), p.Creator.ID, p.DiscountPercent, p.StartsAt, p.EndsAt, statusOrActive(p.Status),
		).Scan(&p.ID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create promotion: %w", err)
		}

		if len(p.AudienceIDs) > 0 {
			query = `INSERT INTO promotion_audience (promotion_id, party_id)
				SELECT $1, unnest($2::BIGINT[]) ON CONFLICT DO NOTHING`
			if _, err := tx.ExecContext(ctx, query, p.ID, pq.Int64Array(p.AudienceIDs)); err != nil {
				return fmt.Errorf("failed to add promotion audience: %w", err)
			}
		}
		if len(p.StockIDs) > 0 {
			query = `INSERT INTO promotion_stocks (promotion_id, stock_id)
				SELECT $1, unnest($2::BIGINT[]) ON CONFLICT DO NOTHING`
			if _, err := tx.ExecContext(ctx, query, p.ID, pq.Int64Array(p.StockIDs)); err != nil {
				return fmt.Errorf("failed to add promotion stocks: %w", err)
			}
		}
		return nil
	})
}

// CreateOffer inserts a purchase offer
func (s *Store) CreateOffer(ctx context.Context, o *models.PurchaseOffer) error {
	if err := validation.ValidateOffer(*o); err != nil {
		return err
	}

	query := `
		INSERT INTO purchase_offers (buyer_id, car_id, max_price, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, status, created_at, updated_at`
	err := s.db.QueryRowxContext(ctx, query, o.BuyerID, o.CarID, o.MaxPrice, statusOrActive(o.Status)).
		Scan(&o.ID, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return nil
}

// DeactivateOffer withdraws an offer that has not been fulfilled yet
func (s *Store) DeactivateOffer(ctx context.Context, id int64) error {
	query := `UPDATE purchase_offers SET status = 'DEACTIVATED', updated_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE'`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate offer: %w", err)
	}
	return requireRow(result)
}

// SetBalance sets a party's balance, opening the account when needed
func (s *Store) SetBalance(ctx context.Context, party models.PartyRef, balance decimal.Decimal) error {
	query := `
		INSERT INTO accounts (party_kind, party_id, balance) VALUES ($1, $2, $3)
		ON CONFLICT (party_kind, party_id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, query, string(party.Kind), party.ID, balance); err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	return nil
}
