package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auto-market-engine/config"
	"auto-market-engine/internal/api"
	"auto-market-engine/internal/broker"
	"auto-market-engine/internal/jobs"
	"auto-market-engine/internal/redisclient"
	"auto-market-engine/internal/scheduler"
	"auto-market-engine/internal/service"
	"auto-market-engine/internal/store"
	"auto-market-engine/internal/util"
	"auto-market-engine/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting deal engine")

	tp, err := util.InitTracer(util.TracingConfig{
		ServiceName: "deal-engine",
		Environment: cfg.Server.Env,
		Endpoint:    cfg.Observ.JaegerEndpoint,
		SampleRatio: cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL, store.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.QueueKey)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEngine)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	ecfg := cfg.Engine
	executor := service.NewExecutor(db, eventPublisher, ecfg.MarginPercent)
	matcher := service.NewMatcher(db, eventPublisher, ecfg.Concurrency)
	ranker := service.NewRanker(db, eventPublisher, service.RankerConfig{
		EvaluationBatch:      ecfg.EvaluationBatch,
		NoScheduleMultiplier: ecfg.NoScheduleMultiplier,
		Concurrency:          ecfg.Concurrency,
	})
	purchaser := service.NewPurchaser(db, executor, ecfg.Concurrency)
	offers := service.NewOfferFulfiller(db, executor, redisClient, eventPublisher, service.OfferConfig{
		InitialDelay: ecfg.OfferInitialDelay,
		RetryDelay:   ecfg.OfferRetryDelay,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	triggerConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicTriggers, cfg.Kafka.ConsumerGroup)
	triggerWorker := worker.NewTriggerWorker(triggerConsumer, redisClient, offers, redisClient, worker.TriggerConfig{
		MatchDelay:     ecfg.MatchTriggerDelay,
		IdempotencyTTL: ecfg.IdempotencyTTL,
	})
	go func() {
		if err := triggerWorker.Start(workerCtx); err != nil {
			log.Printf("Trigger worker error: %v", err)
		}
	}()

	jobWorker := worker.NewJobWorker(redisClient, redisClient, worker.JobWorkerConfig{
		PollInterval: ecfg.PollInterval,
		Batch:        ecfg.PollBatch,
		Rate:         ecfg.DispatchRate,
		LockTTL:      ecfg.JobLockTTL,
	})
	jobWorker.Handle(jobs.KindOfferFulfill, offers.HandleJob)
	jobWorker.Handle(jobs.KindDealerMatch, func(ctx context.Context, job jobs.Job) error {
		_, err := matcher.MatchDealer(ctx, job.SubjectID)
		return err
	})
	go func() {
		if err := jobWorker.Start(workerCtx); err != nil {
			log.Printf("Job worker error: %v", err)
		}
	}()

	sched := scheduler.New()
	sched.Every(scheduler.TaskMatch, ecfg.MatchInterval, matcher.MatchAll)
	sched.Every(scheduler.TaskRank, ecfg.RankInterval, ranker.RankAll)
	sched.Every(scheduler.TaskPurchase, ecfg.PurchaseInterval, purchaser.PurchaseAll)
	sched.Start(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	handler := api.NewHandler(matcher, ranker, purchaser, offers, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	var metricsSrv *http.Server
	if port := cfg.Observ.PrometheusPort; port != "" && port != cfg.Server.Port {
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%s", port), Handler: promhttp.Handler()}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	workerCancel()
	sched.Wait()
	if err := triggerWorker.Stop(); err != nil {
		log.Printf("Error stopping trigger worker: %v", err)
	}

	log.Println("Server exited")
}
