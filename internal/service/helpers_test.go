package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"auto-market-engine/internal/models"
	"auto-market-engine/internal/store"
	"auto-market-engine/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	util.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu      sync.Mutex
	cars    []*models.SuitableCarsUpdatedEvent
	sellers []*models.SuitableSellersUpdatedEvent
	deals   []*models.DealCompletedEvent
	offers  []*models.OfferFulfilledEvent
}

func (p *recordingPublisher) PublishSuitableCarsUpdated(_ context.Context, e *models.SuitableCarsUpdatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cars = append(p.cars, e)
	return nil
}

func (p *recordingPublisher) PublishSuitableSellersUpdated(_ context.Context, e *models.SuitableSellersUpdatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sellers = append(p.sellers, e)
	return nil
}

func (p *recordingPublisher) PublishDealCompleted(_ context.Context, e *models.DealCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deals = append(p.deals, e)
	return nil
}

func (p *recordingPublisher) PublishOfferFulfilled(_ context.Context, e *models.OfferFulfilledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers = append(p.offers, e)
	return nil
}

var errInjected = errors.New("injected failure")

// failingRepo wraps every transaction so that the named Tx call fails.
type failingRepo struct {
	*store.MemoryStore
	failOn string
}

func (r *failingRepo) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.MemoryStore.InTx(ctx, func(tx store.Tx) error {
		return fn(&failingTx{Tx: tx, failOn: r.failOn})
	})
}

type failingTx struct {
	store.Tx
	failOn string
}

func (t *failingTx) InsertPurchase(ctx context.Context, rec *models.PurchaseRecord) error {
	if t.failOn == "InsertPurchase" {
		return errInjected
	}
	return t.Tx.InsertPurchase(ctx, rec)
}

func (t *failingTx) IncrementPurchaseCount(ctx context.Context, buyer, seller models.PartyRef, units int) error {
	if t.failOn == "IncrementPurchaseCount" {
		return errInjected
	}
	return t.Tx.IncrementPurchaseCount(ctx, buyer, seller, units)
}

func newTestStore() *store.MemoryStore {
	s := store.NewMemoryStore()
	s.Now = func() time.Time { return testNow }
	return s
}

func suv() models.CarSpecification {
	return models.CarSpecification{
		Transmission: models.TransmissionAuto,
		BodyType:     models.BodySUV,
		FuelType:     models.FuelDiesel,
		DriveUnit:    models.DriveFull,
		Color:        "black",
		EngineVolume: 2.0,
		Multimedia:   true,
	}
}

func addCar(t *testing.T, s *store.MemoryStore, spec models.CarSpecification, year int) int64 {
	t.Helper()
	car := &models.CatalogCar{CarSpecification: spec, Brand: "Volvo", ModelName: "XC60", YearOfProduction: year}
	require.NoError(t, s.CreateCatalogCar(context.Background(), car))
	return car.ID
}

func addCriteria(t *testing.T, s *store.MemoryStore, dealerID int64, spec models.CarSpecification, minYear int) {
	t.Helper()
	c := &models.DealerCriteria{DealerID: dealerID, CarSpecification: spec, MinYearOfProduction: minYear}
	require.NoError(t, s.SaveCriteria(context.Background(), c))
}

func addStock(t *testing.T, s *store.MemoryStore, owner models.PartyRef, carID int64, price int64, available int) int64 {
	t.Helper()
	st := &models.Stock{Owner: owner, CarID: carID, UnitPrice: decimal.NewFromInt(price), Available: available}
	require.NoError(t, s.CreateStock(context.Background(), st))
	return st.ID
}

func setBalance(t *testing.T, s *store.MemoryStore, party models.PartyRef, amount int64) {
	t.Helper()
	require.NoError(t, s.SetBalance(context.Background(), party, decimal.NewFromInt(amount)))
}

func addPromotion(t *testing.T, s *store.MemoryStore, creator models.PartyRef, audience, stocks []int64, percent int64) {
	t.Helper()
	p := &models.Promotion{
		Name:            "promo",
		Creator:         creator,
		AudienceIDs:     audience,
		StockIDs:        stocks,
		DiscountPercent: decimal.NewFromInt(percent),
		StartsAt:        testNow.Add(-time.Hour),
		EndsAt:          testNow.Add(time.Hour),
	}
	require.NoError(t, s.CreatePromotion(context.Background(), p))
}

func balanceOf(t *testing.T, s *store.MemoryStore, party models.PartyRef) decimal.Decimal {
	t.Helper()
	acc, err := s.GetAccount(context.Background(), party)
	require.NoError(t, err)
	return acc.Balance
}

func requireDecimal(t *testing.T, expected int64, actual decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.NewFromInt(expected).Equal(actual), "expected %d, got %s", expected, actual)
}
