package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ahutchings/warden/internal/agent"
	"github.com/ahutchings/warden/internal/config"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo agents",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

var demoAgents = []struct {
	id      string
	name    string
	version string
}{
	{"demo-summarizer", "Document Summarizer", "1.2.0"},
	{"demo-researcher", "Web Research Agent", "0.9.1"},
	{"demo-coder", "Code Review Agent", "2.0.0"},
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := agent.NewStore(pool)
	budget := agent.Budget{
		MaxTokens:   cfg.Budget.MaxTokens,
		MaxAPICalls: cfg.Budget.MaxAPICalls,
		MaxCostUSD:  cfg.Budget.MaxCostUSD,
		Period:      cfg.Budget.Period,
	}

	now := time.Now()
	for _, d := range demoAgents {
		rec := agent.NewRecord(d.id, d.name, d.version, budget, now)
		if err := store.Upsert(ctx, rec); err != nil {
			return err
		}
		slog.Info("seeded agent", "id", d.id, "name", d.name)
	}

	slog.Info("seed complete", "agents", len(demoAgents))
	return nil
}
