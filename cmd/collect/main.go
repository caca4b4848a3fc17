package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/minukim/paysync/internal/collector"
	"github.com/minukim/paysync/internal/config"
	"github.com/minukim/paysync/internal/gateway"
	"github.com/minukim/paysync/internal/ledger/sqlite"
	"github.com/minukim/paysync/internal/logger"
	"github.com/minukim/paysync/internal/progress"
	"github.com/minukim/paysync/internal/providers"
	"github.com/rs/zerolog"
)

// collect runs one collection in the foreground and exits. It is the
// cron-friendly counterpart to the API server's background runs.
func main() {
	var (
		accountID  = flag.String("account", "", "account to collect (required)")
		mode       = flag.String("mode", "incremental", "collection mode: incremental or full")
		dbPath     = flag.String("db", "", "ledger database path (overrides config)")
		configPath = flag.String("config", "", "optional YAML config file")
	)
	flag.Parse()

	log := logger.New()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file loaded")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(lvl)
	}

	if *accountID == "" {
		log.Fatal().Msg("Error: -account is required")
	}
	parsedMode, err := collector.ParseMode(*mode)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid mode")
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("Failed to open ledger")
	}
	defer store.Close()

	ctx := context.Background()

	account, err := store.GetAccount(ctx, *accountID)
	if err != nil {
		log.Fatal().Err(err).Str("account_id", *accountID).Msg("Failed to load account")
	}
	headers, err := store.Headers(ctx, *accountID)
	if err != nil {
		log.Fatal().Err(err).Str("account_id", *accountID).Msg("Failed to load credentials")
	}

	runLog := logger.WithRun(log, account.ID, account.Provider, string(parsedMode))
	provider, err := providers.New(account.Provider, gateway.NewClient(), headers, runLog)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build provider")
	}

	// A signal requests a cooperative stop: the run finishes its in-flight
	// call and halts at the next poll point. The context stays live so that
	// call can complete.
	cancel := collector.NewCancelToken()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		runLog.Info().Msg("Stop requested, finishing in-flight call")
		cancel.Cancel()
	}()

	tracker := progress.NewTracker()
	runner := collector.NewRunner(store, tracker, cfg.Pacing(), runLog)
	result := runner.Run(ctx, provider, account.ID, parsedMode, cancel)

	fmt.Printf("Collection finished: %s (%d collected, %d failed of %d listed)\n",
		result.Outcome, result.Counters.Success, result.Counters.Failed, result.Counters.Total)

	if result.Outcome == collector.StoppedByError {
		os.Exit(1)
	}
}
