package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/minukim/paysync/internal/api/handlers"
	"github.com/minukim/paysync/internal/api/middleware"
	"github.com/minukim/paysync/internal/config"
	"github.com/minukim/paysync/internal/ledger/sqlite"
	"github.com/minukim/paysync/internal/logger"
	"github.com/minukim/paysync/internal/runs"
	"github.com/rs/zerolog"
)

func main() {
	// Parse command-line flags
	var (
		addr       = flag.String("addr", "", "listen address (overrides config)")
		dbPath     = flag.String("db", "", "ledger database path (overrides config)")
		configPath = flag.String("config", "", "optional YAML config file")
	)
	flag.Parse()

	// Initialize logger
	log := logger.New()

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file loaded")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(lvl)
	}

	// Open the ledger; migrations run on open
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("Failed to open ledger")
	}
	defer store.Close()

	manager := runs.NewManager(store, cfg.Pacing(), log)

	// Initialize handlers
	accountsHandler := handlers.NewAccountsHandler(store, log)
	paymentsHandler := handlers.NewPaymentsHandler(store, log)
	syncHandler := handlers.NewSyncHandler(manager, log)

	// Create router
	mux := http.NewServeMux()

	// Accounts endpoints
	mux.HandleFunc("/api/accounts", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			accountsHandler.ListAccounts(w, r)
		case http.MethodPost:
			accountsHandler.CreateAccount(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/accounts/", func(w http.ResponseWriter, r *http.Request) {
		// Extract account ID from path
		accountID := strings.TrimPrefix(r.URL.Path, "/api/accounts/")
		if accountID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Account ID is required")
			return
		}
		switch r.Method {
		case http.MethodGet:
			accountsHandler.GetAccount(w, r, accountID)
		case http.MethodPut:
			accountsHandler.UpdateAccount(w, r, accountID)
		case http.MethodDelete:
			accountsHandler.DeleteAccount(w, r, accountID)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Payments endpoints
	mux.HandleFunc("/api/payments", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			paymentsHandler.ListPayments(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/payments/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			paymentsHandler.SearchItems(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Sync endpoints
	mux.HandleFunc("/api/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			syncHandler.StartSync(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/sync/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			syncHandler.StopSync(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/sync/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			syncHandler.SyncStatus(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/sync/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			syncHandler.SyncEvents(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Ledger status endpoint
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			paymentsHandler.Status(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("db", cfg.DBPath).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Flip every active run's cancel token and wait for them to drain
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error draining collection runs")
	}

	log.Info().Msg("Server exited")
}
