package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"auto-market-engine/internal/jobs"
	"auto-market-engine/internal/models"
	"auto-market-engine/internal/service"
	"auto-market-engine/internal/store"
	"auto-market-engine/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
	util.SetLogger(zap.NewNop())
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	router *gin.Engine
	store  *store.MemoryStore
	queue  *jobs.MemoryQueue
}

func newTestServer(t *testing.T, checks map[string]Pinger) *testServer {
	t.Helper()
	s := store.NewMemoryStore()
	queue := jobs.NewMemoryQueue()
	pub := service.NopPublisher{}
	executor := service.NewExecutor(s, pub, 20)

	h := NewHandler(
		service.NewMatcher(s, pub, 1),
		service.NewRanker(s, pub, service.RankerConfig{Concurrency: 1}),
		service.NewPurchaser(s, executor, 1),
		service.NewOfferFulfiller(s, executor, queue, pub, service.OfferConfig{InitialDelay: 5 * time.Second, RetryDelay: 5 * time.Minute}),
		checks,
	)
	router := gin.New()
	h.SetupRoutes(router)
	return &testServer{router: router, store: s, queue: queue}
}

func (ts *testServer) do(method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) seedDealer(t *testing.T) int64 {
	t.Helper()
	ctx := context.Background()
	spec := models.CarSpecification{
		Transmission: models.TransmissionManual,
		BodyType:     models.BodyHatchback,
		FuelType:     models.FuelGasoline,
		DriveUnit:    models.DriveFront,
		Color:        "red",
		EngineVolume: 1.4,
	}
	car := &models.CatalogCar{CarSpecification: spec, Brand: "VW", ModelName: "Polo", YearOfProduction: 2017}
	require.NoError(t, ts.store.CreateCatalogCar(ctx, car))
	require.NoError(t, ts.store.SaveCriteria(ctx, &models.DealerCriteria{DealerID: 4, CarSpecification: spec}))
	require.NoError(t, ts.store.CreateStock(ctx, &models.Stock{
		Owner:     models.Seller(2),
		CarID:     car.ID,
		UnitPrice: decimal.NewFromInt(100),
		Available: 10,
	}))
	require.NoError(t, ts.store.SetBalance(ctx, models.Dealer(4), decimal.NewFromInt(250)))
	return car.ID
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestReady(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	ts := newTestServer(t, map[string]Pinger{"postgres": ok, "redis": ok})
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/ready").Code)

	ts = newTestServer(t, map[string]Pinger{"postgres": ok, "redis": down})
	w := ts.do(http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(http.MethodGet, "/health")

	w := ts.do(http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestDealerFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	car := ts.seedDealer(t)

	w := ts.do(http.MethodPost, "/api/v1/dealers/4/match")
	require.Equal(t, http.StatusOK, w.Code)
	var set models.SuitableCarSet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &set))
	assert.Equal(t, []int64{car}, set.CarIDs)

	w = ts.do(http.MethodPost, "/api/v1/dealers/4/rank")
	require.Equal(t, http.StatusOK, w.Code)
	var ranking service.Ranking
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ranking))
	assert.Equal(t, []int64{2}, ranking.SellerIDs)

	w = ts.do(http.MethodPost, "/api/v1/dealers/4/purchase")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Deal service.DealResult `json:"deal"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Deal.Executed)
	assert.Equal(t, 2, body.Deal.Units)
}

func TestMatchDealer_NoCriteria(t *testing.T) {
	ts := newTestServer(t, nil)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, "/api/v1/dealers/99/match").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/v1/dealers/abc/match").Code)
}

func TestScheduleOffer(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodPost, "/api/v1/offers/12/schedule")
	require.Equal(t, http.StatusAccepted, w.Code)

	pending := ts.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, jobs.KindOfferFulfill, pending[0].Kind)
	assert.Equal(t, int64(12), pending[0].SubjectID)
}
