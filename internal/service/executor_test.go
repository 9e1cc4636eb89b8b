package service

import (
	"context"
	"sync"
	"testing"

	"auto-market-engine/internal/models"
	"auto-market-engine/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_Resell(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	pub := &recordingPublisher{}
	executor := NewExecutor(s, pub, 20)

	car := addCar(t, s, suv(), 2018)
	stock := addStock(t, s, models.Seller(1), car, 100, 5)
	setBalance(t, s, models.Dealer(7), 350)

	result, err := executor.Execute(ctx, Deal{
		StockID:   stock,
		Buyer:     models.Dealer(7),
		UnitPrice: decimal.NewFromInt(100),
		Resell:    true,
	})
	require.NoError(t, err)
	require.True(t, result.Executed)
	assert.Equal(t, 3, result.Units)
	requireDecimal(t, 300, result.Total)
	assert.Equal(t, models.Seller(1), result.Seller)

	requireDecimal(t, 50, balanceOf(t, s, models.Dealer(7)))
	requireDecimal(t, 300, balanceOf(t, s, models.Seller(1)))

	seller, err := s.GetStock(ctx, stock)
	require.NoError(t, err)
	assert.Equal(t, 2, seller.Available)

	require.NotNil(t, result.Resold)
	resold, err := s.GetStock(ctx, result.Resold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Dealer(7), resold.Owner)
	assert.Equal(t, car, resold.CarID)
	assert.Equal(t, 3, resold.Available)
	requireDecimal(t, 120, resold.UnitPrice)

	sales, err := s.ListSales(ctx, models.Seller(1))
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, 3, sales[0].Quantity)
	assert.Equal(t, models.Dealer(7), sales[0].Buyer)

	purchases, err := s.ListPurchases(ctx, models.Dealer(7))
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	requireDecimal(t, 300, purchases[0].Total)

	count, err := s.GetPurchaseCount(ctx, models.Dealer(7), models.Seller(1))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.Len(t, pub.deals, 1)
	assert.Equal(t, 3, pub.deals[0].Quantity)
}

func TestExecute_ResellMergesIntoExistingStock(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	executor := NewExecutor(s, &recordingPublisher{}, 20)

	car := addCar(t, s, suv(), 2018)
	stock := addStock(t, s, models.Seller(1), car, 100, 5)
	owned := addStock(t, s, models.Dealer(7), car, 150, 1)
	setBalance(t, s, models.Dealer(7), 200)

	result, err := executor.Execute(ctx, Deal{StockID: stock, Buyer: models.Dealer(7), UnitPrice: decimal.NewFromInt(100), Resell: true})
	require.NoError(t, err)
	require.True(t, result.Executed)
	assert.Equal(t, owned, result.Resold.ID)

	merged, err := s.GetStock(ctx, owned)
	require.NoError(t, err)
	assert.Equal(t, 3, merged.Available)
	requireDecimal(t, 150, merged.UnitPrice)
}

func TestExecute_CappedByAvailability(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	executor := NewExecutor(s, &recordingPublisher{}, 20)

	car := addCar(t, s, suv(), 2018)
	stock := addStock(t, s, models.Seller(1), car, 100, 2)
	setBalance(t, s, models.Dealer(7), 1000)

	result, err := executor.Execute(ctx, Deal{StockID: stock, Buyer: models.Dealer(7), UnitPrice: decimal.NewFromInt(100)})
	require.NoError(t, err)
	require.True(t, result.Executed)
	assert.Equal(t, 2, result.Units)
	assert.Nil(t, result.Resold)

	requireDecimal(t, 800, balanceOf(t, s, models.Dealer(7)))
	st, err := s.GetStock(ctx, stock)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Available)
}

func TestExecute_MaxUnits(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	executor := NewExecutor(s, &recordingPublisher{}, 20)

	car := addCar(t, s, suv(), 2018)
	stock := addStock(t, s, models.Dealer(3), car, 400, 5)
	setBalance(t, s, models.Buyer(5), 2000)

	result, err := executor.Execute(ctx, Deal{StockID: stock, Buyer: models.Buyer(5), UnitPrice: decimal.NewFromInt(400), MaxUnits: 1})
	require.NoError(t, err)
	require.True(t, result.Executed)
	assert.Equal(t, 1, result.Units)
	requireDecimal(t, 1600, balanceOf(t, s, models.Buyer(5)))
}

func TestExecute_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	pub := &recordingPublisher{}
	executor := NewExecutor(s, pub, 20)

	car := addCar(t, s, suv(), 2018)
	stock := addStock(t, s, models.Seller(1), car, 100, 5)
	setBalance(t, s, models.Dealer(7), 50)

	result, err := executor.Execute(ctx, Deal{StockID: stock, Buyer: models.Dealer(7), UnitPrice: decimal.NewFromInt(100), Resell: true})
	require.NoError(t, err)
	assert.False(t, result.Executed)
	assert.Equal(t, SkipInsufficientFunds, result.SkipReason)

	requireDecimal(t, 50, balanceOf(t, s, models.Dealer(7)))
	_, err = s.GetAccount(ctx, models.Seller(1))
	assert.ErrorIs(t, err, store.ErrNotFound)

	st, err := s.GetStock(ctx, stock)
	require.NoError(t, err)
	assert.Equal(t, 5, st.Available)
	assert.Empty(t, pub.deals)
}

func TestExecute_OutOfStock(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	executor := NewExecutor(s, &recordingPublisher{}, 20)

	car := addCar(t, s, suv(), 2018)
	empty := addStock(t, s, models.Seller(1), car, 100, 0)
	setBalance(t, s, models.Dealer(7), 1000)

	result, err := executor.Execute(ctx, Deal{StockID: empty, Buyer: models.Dealer(7), UnitPrice: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.False(t, result.Executed)
	assert.Equal(t, SkipOutOfStock, result.SkipReason)

	result, err = executor.Execute(ctx, Deal{StockID: 12345, Buyer: models.Dealer(7), UnitPrice: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.Equal(t, SkipOutOfStock, result.SkipReason)
}

func TestExecute_RejectsNonPositivePrice(t *testing.T) {
	executor := NewExecutor(newTestStore(), &recordingPublisher{}, 20)

	_, err := executor.Execute(context.Background(), Deal{StockID: 1, Buyer: models.Dealer(7), UnitPrice: decimal.Zero})
	assert.Error(t, err)
}

func TestExecute_IsAtomic(t *testing.T) {
	for _, failOn := range []string{"InsertPurchase", "IncrementPurchaseCount"} {
		t.Run(failOn, func(t *testing.T) {
			ctx := context.Background()
			s := newTestStore()
			pub := &recordingPublisher{}
			executor := NewExecutor(&failingRepo{MemoryStore: s, failOn: failOn}, pub, 20)

			car := addCar(t, s, suv(), 2018)
			stock := addStock(t, s, models.Seller(1), car, 100, 5)
			setBalance(t, s, models.Seller(1), 10)
			setBalance(t, s, models.Dealer(7), 350)

			result, err := executor.Execute(ctx, Deal{StockID: stock, Buyer: models.Dealer(7), UnitPrice: decimal.NewFromInt(100), Resell: true})
			require.Error(t, err)
			assert.ErrorIs(t, err, errInjected)
			assert.Nil(t, result)

			st, err := s.GetStock(ctx, stock)
			require.NoError(t, err)
			assert.Equal(t, 5, st.Available)

			requireDecimal(t, 350, balanceOf(t, s, models.Dealer(7)))
			requireDecimal(t, 10, balanceOf(t, s, models.Seller(1)))

			sales, err := s.ListSales(ctx, models.Seller(1))
			require.NoError(t, err)
			assert.Empty(t, sales)
			purchases, err := s.ListPurchases(ctx, models.Dealer(7))
			require.NoError(t, err)
			assert.Empty(t, purchases)

			count, err := s.GetPurchaseCount(ctx, models.Dealer(7), models.Seller(1))
			require.NoError(t, err)
			assert.Zero(t, count)

			owned, err := s.ListAvailableStocks(ctx, models.PartyDealer, []int64{car})
			require.NoError(t, err)
			assert.Empty(t, owned)
			assert.Empty(t, pub.deals)
		})
	}
}

func TestExecute_OfferFulfilledOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	executor := NewExecutor(s, &recordingPublisher{}, 20)

	car := addCar(t, s, suv(), 2018)
	stock := addStock(t, s, models.Dealer(3), car, 400, 5)
	setBalance(t, s, models.Buyer(5), 2000)
	offer := &models.PurchaseOffer{BuyerID: 5, CarID: car, MaxPrice: decimal.NewFromInt(500)}
	require.NoError(t, s.CreateOffer(ctx, offer))

	deal := Deal{StockID: stock, Buyer: models.Buyer(5), UnitPrice: decimal.NewFromInt(400), MaxUnits: 1, OfferID: offer.ID}
	first, err := executor.Execute(ctx, deal)
	require.NoError(t, err)
	require.True(t, first.Executed)

	second, err := executor.Execute(ctx, deal)
	require.NoError(t, err)
	assert.False(t, second.Executed)
	assert.Equal(t, SkipOfferClosed, second.SkipReason)

	requireDecimal(t, 1600, balanceOf(t, s, models.Buyer(5)))
	stored, err := s.GetOffer(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFulfilled, stored.Status)
}

func TestExecute_ConcurrentDealsNeverOversell(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	pub := &recordingPublisher{}
	executor := NewExecutor(s, pub, 20)

	const buyers, available = 8, 3
	car := addCar(t, s, suv(), 2018)
	stock := addStock(t, s, models.Seller(1), car, 100, available)
	for i := int64(1); i <= buyers; i++ {
		setBalance(t, s, models.Dealer(i), 250)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*DealResult
		errs    []error
	)
	for i := int64(1); i <= buyers; i++ {
		buyer := models.Dealer(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := executor.Execute(ctx, Deal{
				StockID:   stock,
				Buyer:     buyer,
				UnitPrice: decimal.NewFromInt(100),
				Resell:    true,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			results = append(results, result)
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, results, buyers)

	sold, executed := 0, 0
	for _, r := range results {
		if r.Executed {
			executed++
			sold += r.Units
			continue
		}
		assert.Equal(t, SkipOutOfStock, r.SkipReason)
	}
	assert.Equal(t, available, sold, "every unit is sold exactly once")

	st, err := s.GetStock(ctx, stock)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Available)

	sales, err := s.ListSales(ctx, models.Seller(1))
	require.NoError(t, err)
	assert.Len(t, sales, executed)
	assert.Len(t, pub.deals, executed)
	requireDecimal(t, int64(100*sold), balanceOf(t, s, models.Seller(1)))
}
