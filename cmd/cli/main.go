package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/minukim/paysync/internal/collector"
	"github.com/minukim/paysync/internal/config"
	"github.com/minukim/paysync/internal/credentials"
	"github.com/minukim/paysync/internal/domain"
	"github.com/minukim/paysync/internal/gateway"
	"github.com/minukim/paysync/internal/ledger"
	"github.com/minukim/paysync/internal/ledger/sqlite"
	"github.com/minukim/paysync/internal/logger"
	"github.com/minukim/paysync/internal/progress"
	"github.com/minukim/paysync/internal/providers"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "sync":
		runSync(log)
	case "accounts":
		runAccounts(log)
	case "add":
		runAdd(log)
	case "remove":
		runRemove(log)
	case "payments":
		runPayments(log)
	case "search":
		runSearch(log)
	case "open":
		runOpen(log)
	case "status":
		runStatus(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("PaySync CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  sync      Collect purchase history for an account")
	fmt.Println("  accounts  List registered accounts")
	fmt.Println("  add       Register an account from a captured cURL command")
	fmt.Println("  remove    Remove an account and its collected history")
	fmt.Println("  payments  List collected payments")
	fmt.Println("  search    Search purchased items by product name")
	fmt.Println("  open      Open a payment's order page in the browser")
	fmt.Println("  status    Show ledger totals and per-account checkpoints")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// openLedger loads configuration and opens the database; migrations run on
// open. dbPath, when non-empty, overrides the configured path.
func openLedger(log zerolog.Logger, dbPath, configPath string) (*sqlite.Store, *config.Config) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file loaded")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("Failed to open ledger")
	}
	return store, cfg
}

func runSync(log zerolog.Logger) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	accountID := fs.String("account", "", "account to collect (required)")
	mode := fs.String("mode", "incremental", "collection mode: incremental or full")
	dbPath := fs.String("db", "", "ledger database path (overrides config)")
	configPath := fs.String("config", "", "optional YAML config file")
	fs.Parse(os.Args[2:])

	if *accountID == "" {
		log.Fatal().Msg("Error: -account is required")
	}
	parsedMode, err := collector.ParseMode(*mode)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid mode")
	}

	store, cfg := openLedger(log, *dbPath, *configPath)
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

	// Ctrl-C requests a cooperative stop; the in-flight call completes and
	// the run halts at its next poll point.
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

func runAccounts(log zerolog.Logger) {
	fs := flag.NewFlagSet("accounts", flag.ExitOnError)
	dbPath := fs.String("db", "", "ledger database path (overrides config)")
	fs.Parse(os.Args[2:])

	store, _ := openLedger(log, *dbPath, "")
	defer store.Close()

	accounts, err := store.ListAccounts(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list accounts")
	}

	fmt.Printf("\n=== Accounts (%d) ===\n", len(accounts))
	for i, a := range accounts {
		name := a.Alias
		if name == "" {
			name = a.ID
		}
		fmt.Printf("\n%d. %s\n", i+1, name)
		fmt.Printf("   ID:       %s\n", a.ID)
		fmt.Printf("   Provider: %s\n", a.Provider)
		fmt.Printf("   Created:  %s\n", a.CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Println()
}

func runAdd(log zerolog.Logger) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	provider := fs.String("provider", "", "provider id: naver or coupang (required)")
	alias := fs.String("alias", "", "display name for the account")
	curlFile := fs.String("curl-file", "", "file holding the captured cURL command, or - for stdin (required)")
	dbPath := fs.String("db", "", "ledger database path (overrides config)")
	fs.Parse(os.Args[2:])

	if !domain.ValidProvider(*provider) {
		log.Fatal().Str("provider", *provider).Msg("Error: -provider must be naver or coupang")
	}
	if *curlFile == "" {
		log.Fatal().Msg("Error: -curl-file is required")
	}

	var raw []byte
	var err error
	if *curlFile == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(*curlFile)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read curl command")
	}
	curl := strings.TrimSpace(string(raw))

	headers, err := credentials.ParseCurlHeaders(curl)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid curl command")
	}

	store, _ := openLedger(log, *dbPath, "")
	defer store.Close()

	ctx := context.Background()
	account := &domain.Account{
		ID:       uuid.NewString(),
		Provider: *provider,
		Alias:    *alias,
		Curl:     curl,
	}
	if err := store.CreateAccount(ctx, account); err != nil {
		log.Fatal().Err(err).Msg("Failed to create account")
	}
	if err := store.SaveHeaders(ctx, account.ID, headers); err != nil {
		log.Fatal().Err(err).Msg("Failed to save credentials")
	}

	fmt.Printf("Registered %s account %s (%d headers captured)\n", account.Provider, account.ID, len(headers))
}

func runRemove(log zerolog.Logger) {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	accountID := fs.String("account", "", "account to remove (required)")
	dbPath := fs.String("db", "", "ledger database path (overrides config)")
	fs.Parse(os.Args[2:])

	if *accountID == "" {
		log.Fatal().Msg("Error: -account is required")
	}

	store, _ := openLedger(log, *dbPath, "")
	defer store.Close()

	if err := store.DeleteAccount(context.Background(), *accountID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			log.Fatal().Str("account_id", *accountID).Msg("Account not found")
		}
		log.Fatal().Err(err).Msg("Failed to remove account")
	}

	fmt.Printf("Removed account %s and its collected history\n", *accountID)
}

func runPayments(log zerolog.Logger) {
	fs := flag.NewFlagSet("payments", flag.ExitOnError)
	accountID := fs.String("account", "", "filter by account")
	provider := fs.String("provider", "", "filter by provider: naver or coupang")
	limit := fs.Int("limit", 20, "maximum payments to show")
	offset := fs.Int("offset", 0, "payments to skip")
	dbPath := fs.String("db", "", "ledger database path (overrides config)")
	fs.Parse(os.Args[2:])

	store, _ := openLedger(log, *dbPath, "")
	defer store.Close()

	payments, err := store.ListPayments(context.Background(), ledger.ListFilter{
		AccountID: *accountID,
		Provider:  *provider,
		Limit:     *limit,
		Offset:    *offset,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list payments")
	}

	fmt.Printf("\n=== Payments (%d) ===\n", len(payments))
	for i, p := range payments {
		fmt.Printf("\n%d. %s\n", i+1, p.ProductName)
		fmt.Printf("   ID:       %s\n", p.ExternalID)
		fmt.Printf("   Provider: %s\n", p.Provider)
		fmt.Printf("   Paid:     %s\n", p.PaidAt.Format("2006-01-02 15:04"))
		fmt.Printf("   Amount:   %d KRW\n", p.TotalAmount)
		if p.StatusText != "" {
			fmt.Printf("   Status:   %s\n", p.StatusText)
		}
		if p.Merchant.Name != "" {
			fmt.Printf("   Merchant: %s\n", p.Merchant.Name)
		}
		if len(p.LineItems) > 1 {
			fmt.Printf("   Items:    %d\n", len(p.LineItems))
		}
	}
	fmt.Println()
}

func runSearch(log zerolog.Logger) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	query := fs.String("q", "", "product name fragment to search for (required)")
	limit := fs.Int("limit", 20, "maximum matches to show")
	dbPath := fs.String("db", "", "ledger database path (overrides config)")
	fs.Parse(os.Args[2:])

	if *query == "" {
		log.Fatal().Msg("Error: -q is required")
	}

	store, _ := openLedger(log, *dbPath, "")
	defer store.Close()

	hits, err := store.SearchItems(context.Background(), *query, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Search failed")
	}

	fmt.Printf("\n=== Matches (%d) ===\n", len(hits))
	for i, hit := range hits {
		fmt.Printf("\n%d. %s\n", i+1, hit.Item.ProductName)
		fmt.Printf("   Qty:      %d\n", hit.Item.Quantity)
		if hit.Item.UnitPrice != nil {
			fmt.Printf("   Price:    %d KRW\n", *hit.Item.UnitPrice)
		}
		fmt.Printf("   Payment:  %s (%s, %s)\n",
			hit.Payment.ExternalID, hit.Payment.Provider, hit.Payment.PaidAt.Format("2006-01-02"))
	}
	fmt.Println()
}

func runOpen(log zerolog.Logger) {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	accountID := fs.String("account", "", "account the payment belongs to (required)")
	externalID := fs.String("id", "", "payment id to open (required)")
	dbPath := fs.String("db", "", "ledger database path (overrides config)")
	fs.Parse(os.Args[2:])

	if *accountID == "" || *externalID == "" {
		log.Fatal().Msg("Usage: cli open -account ID -id PAYMENT_ID")
	}

	store, _ := openLedger(log, *dbPath, "")
	defer store.Close()

	payment, err := store.GetPayment(context.Background(), *accountID, *externalID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			log.Fatal().Str("external_id", *externalID).Msg("Payment not found")
		}
		log.Fatal().Err(err).Msg("Failed to load payment")
	}

	url := payment.OrderDetailURL
	if url == "" {
		url = payment.ProductDetailURL
	}
	if url == "" {
		log.Fatal().Str("external_id", *externalID).Msg("Payment has no order or product link")
	}

	fmt.Printf("Opening %s\n", url)
	if err := browser.OpenURL(url); err != nil {
		log.Fatal().Err(err).Str("url", url).Msg("Failed to open browser")
	}
}

func runStatus(log zerolog.Logger) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dbPath := fs.String("db", "", "ledger database path (overrides config)")
	fs.Parse(os.Args[2:])

	store, cfg := openLedger(log, *dbPath, "")
	defer store.Close()

	ctx := context.Background()

	stats, err := store.Stats(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read ledger stats")
	}

	fmt.Println("\n=== Ledger ===")
	fmt.Printf("Database: %s\n", cfg.DBPath)
	fmt.Printf("Payments: %d\n", stats.Payments)
	fmt.Printf("Items:    %d\n", stats.Items)
	fmt.Printf("Accounts: %d\n", stats.Accounts)
	for _, p := range domain.Providers() {
		if n, ok := stats.ByProvider[p]; ok {
			fmt.Printf("  %-8s %d\n", p+":", n)
		}
	}

	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list accounts")
	}

	fmt.Printf("\n=== Accounts (%d) ===\n", len(accounts))
	for i, a := range accounts {
		name := a.Alias
		if name == "" {
			name = a.ID
		}
		fmt.Printf("\n%d. %s (%s)\n", i+1, name, a.Provider)
		fmt.Printf("   ID:        %s\n", a.ID)

		cp, err := store.Checkpoint(ctx, a.ID, a.Provider)
		if err != nil {
			log.Warn().Err(err).Str("account_id", a.ID).Msg("Failed to read checkpoint")
			continue
		}
		if cp == nil {
			fmt.Printf("   Last sync: never\n")
		} else {
			fmt.Printf("   Last sync: %s (%s)\n", cp.LastPaidAt.Format("2006-01-02 15:04"), cp.LastExternalID)
		}
	}
	fmt.Println()
}
