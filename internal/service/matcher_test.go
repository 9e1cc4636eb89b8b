package service

import (
	"context"
	"testing"

	"auto-market-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchDealer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	pub := &recordingPublisher{}
	matcher := NewMatcher(s, pub, 2)

	match := addCar(t, s, suv(), 2018)

	bigger := suv()
	bigger.EngineVolume = 3.0
	bigger.ParkingHelp = true
	matchBigger := addCar(t, s, bigger, 2020)

	small := suv()
	small.EngineVolume = 1.6
	addCar(t, s, small, 2018)

	addCar(t, s, suv(), 2010)

	noMedia := suv()
	noMedia.Multimedia = false
	addCar(t, s, noMedia, 2018)

	white := suv()
	white.Color = "white"
	addCar(t, s, white, 2018)

	retired := &models.CatalogCar{CarSpecification: suv(), Brand: "Volvo", ModelName: "XC90", YearOfProduction: 2019}
	retired.Status = models.StatusDeactivated
	require.NoError(t, s.CreateCatalogCar(ctx, retired))

	addCriteria(t, s, 7, suv(), 2015)

	set, err := matcher.MatchDealer(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Equal(t, []int64{match, matchBigger}, set.CarIDs)

	stored, err := s.GetSuitableCars(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{match, matchBigger}, stored.CarIDs)

	require.Len(t, pub.cars, 1)
	assert.Equal(t, int64(7), pub.cars[0].DealerID)
	assert.Equal(t, models.EventTypeSuitableCarsUpdated, pub.cars[0].EventType)
}

func TestMatchDealer_IsIdempotentAndReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	matcher := NewMatcher(s, &recordingPublisher{}, 1)

	black := addCar(t, s, suv(), 2018)
	whiteSpec := suv()
	whiteSpec.Color = "white"
	white := addCar(t, s, whiteSpec, 2018)

	addCriteria(t, s, 3, suv(), 2000)

	first, err := matcher.MatchDealer(ctx, 3)
	require.NoError(t, err)
	second, err := matcher.MatchDealer(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, first.CarIDs, second.CarIDs)
	assert.Equal(t, []int64{black}, second.CarIDs)

	addCriteria(t, s, 3, whiteSpec, 2000)
	third, err := matcher.MatchDealer(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{white}, third.CarIDs)

	stored, err := s.GetSuitableCars(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{white}, stored.CarIDs)
}

func TestMatchDealer_WithoutCriteria(t *testing.T) {
	s := newTestStore()
	pub := &recordingPublisher{}
	matcher := NewMatcher(s, pub, 1)
	addCar(t, s, suv(), 2018)

	set, err := matcher.MatchDealer(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, set)
	assert.Empty(t, pub.cars)
}

func TestMatchDealer_DeactivatedCriteria(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	matcher := NewMatcher(s, &recordingPublisher{}, 1)
	addCar(t, s, suv(), 2018)

	c := &models.DealerCriteria{DealerID: 9, CarSpecification: suv()}
	c.Status = models.StatusDeactivated
	require.NoError(t, s.SaveCriteria(ctx, c))

	set, err := matcher.MatchDealer(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, set)
}

func TestMatchDealer_DeactivationClearsPreviousMatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	pub := &recordingPublisher{}
	matcher := NewMatcher(s, pub, 1)
	car := addCar(t, s, suv(), 2018)
	addCriteria(t, s, 9, suv(), 2015)

	set, err := matcher.MatchDealer(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, []int64{car}, set.CarIDs)

	c, err := s.GetCriteriaByDealer(ctx, 9)
	require.NoError(t, err)
	c.Status = models.StatusDeactivated
	require.NoError(t, s.SaveCriteria(ctx, c))

	set, err = matcher.MatchDealer(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, set)

	stored, err := s.GetSuitableCars(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, stored.CarIDs)
	assert.Len(t, pub.cars, 1, "clearing publishes nothing")
}

func TestMatchAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	pub := &recordingPublisher{}
	matcher := NewMatcher(s, pub, 4)

	car := addCar(t, s, suv(), 2018)
	addCriteria(t, s, 1, suv(), 2015)
	addCriteria(t, s, 2, suv(), 2019)

	report, err := matcher.MatchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchReport{Dealers: 2, Failed: 0}, report)

	one, err := s.GetSuitableCars(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{car}, one.CarIDs)

	two, err := s.GetSuitableCars(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, two.CarIDs)

	assert.Len(t, pub.cars, 2)
}
