package main

import (
	"context"
	"fmt"
	"strconv"

	"auto-market-engine/internal/broker"
	"auto-market-engine/internal/models"
	"auto-market-engine/internal/service"
	"auto-market-engine/internal/store"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the engine schema in Postgres",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Println("schema is up to date")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed [fixture.json]",
	Short: "Write a fixture into Postgres",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := store.LoadFixture(args[0])
		if err != nil {
			return err
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		report, err := f.Apply(cmd.Context(), db)
		if err != nil {
			return fmt.Errorf("seed failed: %w", err)
		}
		return printJSON(report)
	},
}

// batchCommand builds match, rank and purchase: one dealer with --dealer,
// every dealer with criteria otherwise.
func batchCommand(use, short string,
	one func(e *engine, ctx context.Context, dealerID int64) (interface{}, error),
	all func(e *engine, ctx context.Context) (service.BatchReport, error),
) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEngine(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			dealerID, _ := cmd.Flags().GetInt64("dealer")
			if dealerID > 0 {
				out, err := one(e, ctx, dealerID)
				if err != nil {
					return err
				}
				return printJSON(out)
			}

			report, err := all(e, ctx)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().Int64("dealer", 0, "Run for a single dealer id")
	return cmd
}

var matchCmd = batchCommand("match", "Recompute suitable cars",
	func(e *engine, ctx context.Context, dealerID int64) (interface{}, error) {
		return e.matcher.MatchDealer(ctx, dealerID)
	},
	func(e *engine, ctx context.Context) (service.BatchReport, error) {
		return e.matcher.MatchAll(ctx)
	},
)

var rankCmd = batchCommand("rank", "Recompute suitable sellers",
	func(e *engine, ctx context.Context, dealerID int64) (interface{}, error) {
		return e.ranker.RankDealer(ctx, dealerID)
	},
	func(e *engine, ctx context.Context) (service.BatchReport, error) {
		return e.ranker.RankAll(ctx)
	},
)

var purchaseCmd = batchCommand("purchase", "Spend dealer balances on the best ranked deal",
	func(e *engine, ctx context.Context, dealerID int64) (interface{}, error) {
		return e.purchaser.PurchaseForDealer(ctx, dealerID)
	},
	func(e *engine, ctx context.Context) (service.BatchReport, error) {
		return e.purchaser.PurchaseAll(ctx)
	},
)

var offerCmd = &cobra.Command{
	Use:   "offer [offer-id]",
	Short: "Run one fulfilment check of a buyer offer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		offerID, err := parseID(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		e, err := openEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		outcome, err := e.offers.Fulfill(ctx, offerID)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"offer_id": offerID, "outcome": outcome})
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Publish a marketplace trigger event to Kafka",
}

var triggerCriteriaCmd = &cobra.Command{
	Use:   "criteria [dealer-id]",
	Short: "Publish CRITERIA_SAVED for a dealer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dealerID, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withTriggerPublisher(func(p *broker.EventPublisher) error {
			event := &models.CriteriaSavedEvent{
				BaseEvent: models.NewBaseEvent(models.EventTypeCriteriaSaved),
				DealerID:  dealerID,
			}
			return p.PublishCriteriaSaved(cmd.Context(), event)
		})
	},
}

var triggerOfferCmd = &cobra.Command{
	Use:   "offer [offer-id]",
	Short: "Publish OFFER_SAVED for an offer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		offerID, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withTriggerPublisher(func(p *broker.EventPublisher) error {
			event := &models.OfferSavedEvent{
				BaseEvent: models.NewBaseEvent(models.EventTypeOfferSaved),
				OfferID:   offerID,
			}
			return p.PublishOfferSaved(cmd.Context(), event)
		})
	},
}

func init() {
	triggerCmd.AddCommand(triggerCriteriaCmd, triggerOfferCmd)
	rootCmd.AddCommand(migrateCmd, seedCmd, matchCmd, rankCmd, purchaseCmd, offerCmd, triggerCmd)
}

func withTriggerPublisher(fn func(p *broker.EventPublisher) error) error {
	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicTriggers)
	defer producer.Close()

	if err := fn(broker.NewEventPublisher(producer)); err != nil {
		return fmt.Errorf("failed to publish trigger: %w", err)
	}
	fmt.Println("trigger published")
	return nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
