package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"auto-market-engine/internal/service"
	"auto-market-engine/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	matcher   *service.Matcher
	ranker    *service.Ranker
	purchaser *service.Purchaser
	offers    *service.OfferFulfiller
	checks    map[string]Pinger
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	matcher *service.Matcher,
	ranker *service.Ranker,
	purchaser *service.Purchaser,
	offers *service.OfferFulfiller,
	checks map[string]Pinger,
) *Handler {
	return &Handler{
		matcher:   matcher,
		ranker:    ranker,
		purchaser: purchaser,
		offers:    offers,
		checks:    checks,
		logger:    util.ComponentLogger("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/dealers/:id/match", h.matchDealer)
		v1.POST("/dealers/:id/rank", h.rankDealer)
		v1.POST("/dealers/:id/purchase", h.purchaseForDealer)
		v1.POST("/offers/:id/schedule", h.scheduleOffer)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	deps := gin.H{}
	for _, name := range names {
		if err := h.checks[name].Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	c.JSON(status, gin.H{
		"status":       state,
		"dependencies": deps,
		"time":         time.Now().Unix(),
	})
}

// matchDealer handles a one-off match run
func (h *Handler) matchDealer(c *gin.Context) {
	dealerID, ok := pathID(c, "Invalid dealer ID")
	if !ok {
		return
	}

	set, err := h.matcher.MatchDealer(c.Request.Context(), dealerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to match dealer",
			"details": err.Error(),
		})
		return
	}
	if set == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Dealer has no active criteria",
		})
		return
	}

	c.JSON(http.StatusOK, set)
}

// rankDealer handles a one-off rank run
func (h *Handler) rankDealer(c *gin.Context) {
	dealerID, ok := pathID(c, "Invalid dealer ID")
	if !ok {
		return
	}

	ranking, err := h.ranker.RankDealer(c.Request.Context(), dealerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to rank sellers",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ranking)
}

// purchaseForDealer handles a one-off dealer purchase
func (h *Handler) purchaseForDealer(c *gin.Context) {
	dealerID, ok := pathID(c, "Invalid dealer ID")
	if !ok {
		return
	}

	result, err := h.purchaser.PurchaseForDealer(c.Request.Context(), dealerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to purchase",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dealer_id": dealerID,
		"deal":      result,
	})
}

// scheduleOffer enqueues a fulfilment check for an offer
func (h *Handler) scheduleOffer(c *gin.Context) {
	offerID, ok := pathID(c, "Invalid offer ID")
	if !ok {
		return
	}

	job, err := h.offers.Schedule(c.Request.Context(), offerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to schedule offer",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, job)
}

func pathID(c *gin.Context, message string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": message,
		})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
