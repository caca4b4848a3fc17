// Package sqlite implements the payment ledger on an embedded SQLite
// database. The file is created on first open and migrated in place, so
// the binaries need no external database setup.
package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/minukim/paysync/internal/ledger"
	"github.com/minukim/paysync/internal/ledger/sqlite/migrations"
)

// Store is the SQLite-backed ledger. It is safe for concurrent use; the
// driver serializes writers and WAL mode keeps readers unblocked.
type Store struct {
	db *sql.DB
}

var (
	_ ledger.Gateway           = (*Store)(nil)
	_ ledger.PaymentRepository = (*Store)(nil)
	_ ledger.AccountRepository = (*Store)(nil)
)

// Open opens the ledger database at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: sqlDB}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Timestamps are stored as UTC RFC3339 text so that string ordering
// matches chronological ordering in SQL.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
