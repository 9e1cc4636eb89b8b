package main

import (
	"context"
	"fmt"
	"os"

	"auto-market-engine/internal/broker"
	"auto-market-engine/internal/jobs"
	"auto-market-engine/internal/service"
	"auto-market-engine/internal/store"

	"github.com/spf13/cobra"
)

// engine bundles the services a one-off run needs.
type engine struct {
	repo      store.Repository
	matcher   *service.Matcher
	ranker    *service.Ranker
	purchaser *service.Purchaser
	offers    *service.OfferFulfiller
	closers   []func() error
}

// openEngine builds the services on Postgres, or on a memory store loaded
// from --fixture.
func openEngine(ctx context.Context, cmd *cobra.Command) (*engine, error) {
	e := &engine{}

	fixture, _ := cmd.Flags().GetString("fixture")
	if fixture != "" {
		f, err := store.LoadFixture(fixture)
		if err != nil {
			return nil, err
		}
		mem := store.NewMemoryStore()
		report, err := f.Apply(ctx, mem)
		if err != nil {
			return nil, fmt.Errorf("failed to load fixture: %w", err)
		}
		fmt.Fprintf(os.Stderr, "fixture loaded: %d cars, %d stocks, offers %v\n", len(report.Cars), len(report.Stocks), report.OfferIDs)
		e.repo = mem
	} else {
		db, err := openStore()
		if err != nil {
			return nil, err
		}
		e.repo = db
		e.closers = append(e.closers, db.Close)
	}

	var publisher service.EventPublisher = service.NopPublisher{}
	if publish, _ := cmd.Flags().GetBool("publish"); publish {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEngine)
		e.closers = append(e.closers, producer.Close)
		publisher = broker.NewEventPublisher(producer)
	}

	ecfg := cfg.Engine
	executor := service.NewExecutor(e.repo, publisher, ecfg.MarginPercent)
	e.matcher = service.NewMatcher(e.repo, publisher, ecfg.Concurrency)
	e.ranker = service.NewRanker(e.repo, publisher, service.RankerConfig{
		EvaluationBatch:      ecfg.EvaluationBatch,
		NoScheduleMultiplier: ecfg.NoScheduleMultiplier,
		Concurrency:          ecfg.Concurrency,
	})
	e.purchaser = service.NewPurchaser(e.repo, executor, ecfg.Concurrency)
	// One-off offer runs never retry, so follow-up jobs stay in memory.
	e.offers = service.NewOfferFulfiller(e.repo, executor, jobs.NewMemoryQueue(), publisher, service.OfferConfig{
		InitialDelay: ecfg.OfferInitialDelay,
		RetryDelay:   ecfg.OfferRetryDelay,
	})
	return e, nil
}

func openStore() (*store.Store, error) {
	return store.NewStore(cfg.Database.URL, store.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
}

func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}
}
