package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"auto-market-engine/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const catalogColumns = `id, transmission, body_type, fuel_type, drive_unit, color, engine_volume,
	safe_controls, parking_help, climate_controls, multimedia, additional_safety, other_additions,
	brand, model_name, year_of_production, demand_level, status, created_at, updated_at`

const criteriaColumns = `id, dealer_id, transmission, body_type, fuel_type, drive_unit, color, engine_volume,
	safe_controls, parking_help, climate_controls, multimedia, additional_safety, other_additions,
	min_year_of_production, status, created_at, updated_at`

// flagColumns guards the feature flag names interpolated into catalog queries.
var flagColumns = map[string]bool{
	models.FlagSafeControls:     true,
	models.FlagParkingHelp:      true,
	models.FlagClimateControls:  true,
	models.FlagMultimedia:       true,
	models.FlagAdditionalSafety: true,
	models.FlagOtherAdditions:   true,
}

// ListDealerIDs returns every dealer with active criteria
func (s *Store) ListDealerIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	query := `SELECT dealer_id FROM dealer_criteria WHERE status = 'ACTIVE' ORDER BY dealer_id`
	if err := s.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to list dealers: %w", err)
	}
	return ids, nil
}

// GetCriteriaByDealer retrieves the dealer's search criteria
func (s *Store) GetCriteriaByDealer(ctx context.Context, dealerID int64) (*models.DealerCriteria, error) {
	var c models.DealerCriteria
	query := `SELECT ` + criteriaColumns + ` FROM dealer_criteria WHERE dealer_id = $1`
	if err := s.db.GetContext(ctx, &c, query, dealerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get criteria: %w", err)
	}
	return &c, nil
}

// FindCatalogCars returns the active catalog cars matching the filter, ordered by id
func (s *Store) FindCatalogCars(ctx context.Context, filter models.CatalogFilter) ([]models.CatalogCar, error) {
	conds := []string{
		"status = 'ACTIVE'",
		"transmission = ?",
		"body_type = ?",
		"fuel_type = ?",
		"drive_unit = ?",
		"color = ?",
		"engine_volume >= ?",
		"year_of_production >= ?",
	}
	args := []interface{}{
		filter.Transmission,
		filter.BodyType,
		filter.FuelType,
		filter.DriveUnit,
		filter.Color,
		filter.MinEngineVolume,
		filter.MinYear,
	}
	for _, flag := range filter.RequiredFlags {
		if !flagColumns[flag] {
			return nil, fmt.Errorf("unknown feature flag %q", flag)
		}
		conds = append(conds, flag+" = TRUE")
	}

	query := s.db.Rebind(`SELECT ` + catalogColumns + ` FROM catalog_cars WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY id`)

	var cars []models.CatalogCar
	if err := s.db.SelectContext(ctx, &cars, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	return cars, nil
}

// GetSuitableCars retrieves the last matcher result for the dealer
func (s *Store) GetSuitableCars(ctx context.Context, dealerID int64) (*models.SuitableCarSet, error) {
	set := &models.SuitableCarSet{DealerID: dealerID}
	query := `SELECT car_id FROM suitable_cars WHERE dealer_id = $1 ORDER BY car_id`
	if err := s.db.SelectContext(ctx, &set.CarIDs, query, dealerID); err != nil {
		return nil, fmt.Errorf("failed to get suitable cars: %w", err)
	}
	return set, nil
}

// GetSuitableSellers retrieves the last ranker result for the dealer
func (s *Store) GetSuitableSellers(ctx context.Context, dealerID int64) (*models.SuitableSellerSet, error) {
	set := &models.SuitableSellerSet{DealerID: dealerID}

	query := `SELECT seller_id FROM suitable_sellers WHERE dealer_id = $1 ORDER BY seller_id`
	if err := s.db.SelectContext(ctx, &set.SellerIDs, query, dealerID); err != nil {
		return nil, fmt.Errorf("failed to get suitable sellers: %w", err)
	}

	query = `SELECT car_id FROM suitable_seller_cars WHERE dealer_id = $1 ORDER BY car_id`
	if err := s.db.SelectContext(ctx, &set.CarIDs, query, dealerID); err != nil {
		return nil, fmt.Errorf("failed to get suitable seller cars: %w", err)
	}
	return set, nil
}

// ReplaceSuitableCars overwrites the dealer's suitable car set
func (s *Store) ReplaceSuitableCars(ctx context.Context, dealerID int64, carIDs []int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return replaceIDs(ctx, tx, "suitable_cars", "car_id", dealerID, carIDs)
	})
}

// ReplaceSuitableSellers overwrites the dealer's suitable sellers and their cars
func (s *Store) ReplaceSuitableSellers(ctx context.Context, dealerID int64, sellerIDs, carIDs []int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := replaceIDs(ctx, tx, "suitable_sellers", "seller_id", dealerID, sellerIDs); err != nil {
			return err
		}
		return replaceIDs(ctx, tx, "suitable_seller_cars", "car_id", dealerID, carIDs)
	})
}

func replaceIDs(ctx context.Context, tx *sqlx.Tx, table, column string, dealerID int64, ids []int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE dealer_id = $1`, dealerID); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	if len(ids) == 0 {
		return nil
	}

	query := `INSERT INTO ` + table + ` (dealer_id, ` + column + `)
		SELECT $1, unnest($2::BIGINT[]) ON CONFLICT DO NOTHING`
	if _, err := tx.ExecContext(ctx, query, dealerID, pq.Int64Array(ids)); err != nil {
		return fmt.Errorf("failed to fill %s: %w", table, err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
