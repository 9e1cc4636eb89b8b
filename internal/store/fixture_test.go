package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"auto-market-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixtureApply(t *testing.T) {
	ctx := context.Background()
	f, err := LoadFixture("testdata/market.json")
	require.NoError(t, err)

	s := NewMemoryStore()
	report, err := f.Apply(ctx, s)
	require.NoError(t, err)
	assert.Len(t, report.Cars, 2)
	assert.Len(t, report.Stocks, 4)
	require.Len(t, report.OfferIDs, 1)

	ids, err := s.ListDealerIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)

	schedule, err := s.GetDiscountSchedule(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 5, 10: 15}, schedule.Tiers)

	promos, err := s.ListActivePromotions(ctx, models.PartyDealer, 1, time.Now())
	require.NoError(t, err)
	require.Len(t, promos, 1)
	assert.Equal(t, []int64{report.Stocks["d1-camry"]}, promos[0].StockIDs)

	offer, err := s.GetOffer(ctx, report.OfferIDs[0])
	require.NoError(t, err)
	assert.Equal(t, report.Cars["camry"], offer.CarID)

	acc, err := s.GetAccount(ctx, models.Buyer(1))
	require.NoError(t, err)
	assert.Equal(t, "50000", acc.Balance.String())
}

func TestFixtureApply_UnknownReference(t *testing.T) {
	f := &Fixture{Stocks: []FixtureStock{{Key: "orphan", Owner: models.Seller(1), Car: "missing"}}}

	_, err := f.Apply(context.Background(), NewMemoryStore())
	assert.ErrorContains(t, err, `unknown car "missing"`)
}

func TestFixtureApply_InvalidSchedule(t *testing.T) {
	f := &Fixture{Schedules: []FixtureSchedule{{SellerID: 1, Tiers: json.RawMessage(`{"ten": 5}`)}}}

	_, err := f.Apply(context.Background(), NewMemoryStore())
	assert.ErrorContains(t, err, "must be an integer")
}
