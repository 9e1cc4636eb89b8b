package main

import (
	"encoding/json"
	"fmt"
	"os"

	"auto-market-engine/config"
	"auto-market-engine/internal/util"

	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "enginectl",
	Short: "Admin CLI for the auto-market deal engine",
	Long: "Runs schema migrations, seeds fixtures and triggers one-off match, rank, purchase and offer runs.\n" +
		"With --fixture the runs happen in memory against the fixture and nothing is written to Postgres.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		return util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		util.SyncLogger()
	},
}

func init() {
	rootCmd.PersistentFlags().String("fixture", "", "Run in memory against this fixture file instead of Postgres")
	rootCmd.PersistentFlags().Bool("publish", false, "Publish engine events to Kafka")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
