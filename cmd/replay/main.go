package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"BoardLedger/internal/analysis"
	"BoardLedger/internal/core"
	"BoardLedger/internal/ingestion"
	"BoardLedger/internal/ledger"
	"BoardLedger/internal/observability"
)

func main() {
	rosterPath := flag.String("roster", "", "path to the roster JSON array (required)")
	feedPath := flag.String("feed", "", "path to the board feed JSON array (required)")
	reconcile := flag.Bool("reconcile", false, "reconcile against roster balances after ingest")
	budget := flag.Int64("budget", ledger.DefaultInitialBudget, "season-start budget per participant")
	tolerance := flag.Int64("tolerance", core.DefaultTolerance, "reconciliation tolerance")
	full := flag.Bool("report", false, "print the full report instead of the summary")
	logLevel := flag.String("log-level", "warn", "log level for engine notifications (stderr)")
	flag.Parse()

	if *rosterPath == "" || *feedPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: replay -roster roster.json -feed feed.json [-reconcile]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger := observability.NewLoggerTo(os.Stderr, "replay", observability.ParseLogLevel(*logLevel))

	rosterData, err := os.ReadFile(*rosterPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("read roster")
	}
	roster, err := ingestion.ParseRoster(rosterData)
	if err != nil {
		logger.Fatal().Err(err).Msg("roster")
	}

	feed, err := os.ReadFile(*feedPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("read feed")
	}

	cfg := analysis.DefaultConfig()
	cfg.InitialBudget = *budget
	cfg.Tolerance = *tolerance
	svc := analysis.NewService(cfg, analysis.Deps{Logger: logger})

	report, err := svc.AnalyzeFeed(context.Background(), analysis.FeedRequest{
		Roster:    roster,
		Feed:      feed,
		Reconcile: *reconcile,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("analysis")
	}

	var out interface{} = report.Summary
	if *full {
		out = report
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Fatal().Err(err).Msg("encode output")
	}
}
