package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_match_runs_total",
		Help: "Total number of specification match runs per dealer",
	}, []string{"result"})

	SuitableCarsMatched = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_suitable_cars_matched",
		Help:    "Number of catalog cars matched per dealer run",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
	})

	RankRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_rank_runs_total",
		Help: "Total number of seller ranking runs per dealer",
	}, []string{"result"})

	RankedOffersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_ranked_offers_total",
		Help: "Total number of priced stock offers evaluated by the ranker",
	}, []string{"source"})

	DealsExecutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_deals_executed_total",
		Help: "Total number of executed deals",
	}, []string{"kind"})

	DealsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_deals_skipped_total",
		Help: "Total number of deal attempts that bought nothing",
	}, []string{"reason"})

	DealsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_deals_failed_total",
		Help: "Total number of deal transactions rolled back on error",
	})

	UnitsSoldTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_units_sold_total",
		Help: "Total number of car units moved by executed deals",
	})

	DealValueTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_deal_value_total",
		Help: "Total money moved by executed deals",
	})

	DealExecutionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_deal_execution_latency_seconds",
		Help:    "Latency of the deal execution transaction",
		Buckets: prometheus.DefBuckets,
	})

	OfferChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_offer_checks_total",
		Help: "Total number of offer fulfilment checks by outcome",
	}, []string{"outcome"})

	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_jobs_processed_total",
		Help: "Total number of delayed jobs processed",
	}, []string{"kind", "status"})

	JobProcessingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_job_processing_latency_seconds",
		Help:    "Latency of delayed job handlers",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	JobQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_job_queue_depth",
		Help: "Number of delayed jobs waiting in the queue",
	})

	TriggerEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_trigger_events_total",
		Help: "Total number of trigger events consumed from Kafka",
	}, []string{"type", "status"})

	ScheduledRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_scheduled_runs_total",
		Help: "Total number of periodic batch runs",
	}, []string{"task", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
