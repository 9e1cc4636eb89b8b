package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"auto-market-engine/internal/models"
	"auto-market-engine/internal/validation"

	"github.com/shopspring/decimal"
)

// Fixture is a seed data set. Cars and stocks carry a key that later entries
// use to refer to them, since ids are assigned on insert.
type Fixture struct {
	Cars       []FixtureCar       `json:"cars"`
	Criteria   []FixtureCriteria  `json:"criteria"`
	Stocks     []FixtureStock     `json:"stocks"`
	Schedules  []FixtureSchedule  `json:"schedules"`
	Promotions []FixturePromotion `json:"promotions"`
	Offers     []FixtureOffer     `json:"offers"`
	Balances   []FixtureBalance   `json:"balances"`
}

type FixtureCar struct {
	Key string `json:"key"`
	models.CarSpecification
	Brand            string `json:"brand"`
	ModelName        string `json:"model_name"`
	YearOfProduction int    `json:"year_of_production"`
}

type FixtureCriteria struct {
	DealerID int64 `json:"dealer_id"`
	models.CarSpecification
	MinYearOfProduction int `json:"min_year_of_production"`
}

type FixtureStock struct {
	Key       string          `json:"key"`
	Owner     models.PartyRef `json:"owner"`
	Car       string          `json:"car"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Available int             `json:"available"`
}

// FixtureSchedule keeps the discount map in its stored form, an object keyed
// by purchase count.
type FixtureSchedule struct {
	SellerID int64           `json:"seller_id"`
	Tiers    json.RawMessage `json:"tiers"`
}

type FixturePromotion struct {
	Name            string          `json:"name"`
	Creator         models.PartyRef `json:"creator"`
	Audience        []int64         `json:"audience"`
	Stocks          []string        `json:"stocks"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	StartsAt        time.Time       `json:"starts_at"`
	EndsAt          time.Time       `json:"ends_at"`
}

type FixtureOffer struct {
	BuyerID  int64           `json:"buyer_id"`
	Car      string          `json:"car"`
	MaxPrice decimal.Decimal `json:"max_price"`
}

type FixtureBalance struct {
	Party   models.PartyRef `json:"party"`
	Balance decimal.Decimal `json:"balance"`
}

// SeedReport maps fixture keys to the ids they were stored under.
type SeedReport struct {
	Cars     map[string]int64 `json:"cars"`
	Stocks   map[string]int64 `json:"stocks"`
	OfferIDs []int64          `json:"offer_ids"`
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	var f Fixture
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Apply writes the fixture through the seeder in dependency order.
func (f *Fixture) Apply(ctx context.Context, s Seeder) (*SeedReport, error) {
	report := &SeedReport{Cars: make(map[string]int64), Stocks: make(map[string]int64)}

	for _, fc := range f.Cars {
		car := &models.CatalogCar{
			CarSpecification: fc.CarSpecification,
			Brand:            fc.Brand,
			ModelName:        fc.ModelName,
			YearOfProduction: fc.YearOfProduction,
		}
		if err := s.CreateCatalogCar(ctx, car); err != nil {
			return nil, fmt.Errorf("car %q: %w", fc.Key, err)
		}
		report.Cars[fc.Key] = car.ID
	}

	for _, fc := range f.Criteria {
		c := &models.DealerCriteria{
			DealerID:            fc.DealerID,
			CarSpecification:    fc.CarSpecification,
			MinYearOfProduction: fc.MinYearOfProduction,
		}
		if err := s.SaveCriteria(ctx, c); err != nil {
			return nil, fmt.Errorf("criteria of dealer %d: %w", fc.DealerID, err)
		}
	}

	for _, fs := range f.Stocks {
		carID, err := report.car(fs.Car)
		if err != nil {
			return nil, fmt.Errorf("stock %q: %w", fs.Key, err)
		}
		st := &models.Stock{Owner: fs.Owner, CarID: carID, UnitPrice: fs.UnitPrice, Available: fs.Available}
		if err := s.CreateStock(ctx, st); err != nil {
			return nil, fmt.Errorf("stock %q: %w", fs.Key, err)
		}
		report.Stocks[fs.Key] = st.ID
	}

	for _, fs := range f.Schedules {
		tiers, err := validation.ParseDiscountMap(fs.Tiers)
		if err != nil {
			return nil, fmt.Errorf("schedule of seller %d: %w", fs.SellerID, err)
		}
		if err := s.SaveDiscountSchedule(ctx, &models.DiscountSchedule{SellerID: fs.SellerID, Tiers: tiers}); err != nil {
			return nil, fmt.Errorf("schedule of seller %d: %w", fs.SellerID, err)
		}
	}

	for _, fp := range f.Promotions {
		stockIDs := make([]int64, 0, len(fp.Stocks))
		for _, key := range fp.Stocks {
			id, ok := report.Stocks[key]
			if !ok {
				return nil, fmt.Errorf("promotion %q: unknown stock %q", fp.Name, key)
			}
			stockIDs = append(stockIDs, id)
		}
		p := &models.Promotion{
			Name:            fp.Name,
			Creator:         fp.Creator,
			AudienceIDs:     fp.Audience,
			StockIDs:        stockIDs,
			DiscountPercent: fp.DiscountPercent,
			StartsAt:        fp.StartsAt,
			EndsAt:          fp.EndsAt,
		}
		if err := s.CreatePromotion(ctx, p); err != nil {
			return nil, fmt.Errorf("promotion %q: %w", fp.Name, err)
		}
	}

	for _, fo := range f.Offers {
		carID, err := report.car(fo.Car)
		if err != nil {
			return nil, fmt.Errorf("offer of buyer %d: %w", fo.BuyerID, err)
		}
		o := &models.PurchaseOffer{BuyerID: fo.BuyerID, CarID: carID, MaxPrice: fo.MaxPrice}
		if err := s.CreateOffer(ctx, o); err != nil {
			return nil, fmt.Errorf("offer of buyer %d: %w", fo.BuyerID, err)
		}
		report.OfferIDs = append(report.OfferIDs, o.ID)
	}

	for _, fb := range f.Balances {
		if err := s.SetBalance(ctx, fb.Party, fb.Balance); err != nil {
			return nil, fmt.Errorf("balance of %s-%d: %w", fb.Party.Kind, fb.Party.ID, err)
		}
	}

	return report, nil
}

func (r *SeedReport) car(key string) (int64, error) {
	id, ok := r.Cars[key]
	if !ok {
		return 0, fmt.Errorf("unknown car %q", key)
	}
	return id, nil
}
