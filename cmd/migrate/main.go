package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/minukim/paysync/internal/ledger/sqlite"
	"github.com/minukim/paysync/internal/ledger/sqlite/migrations"
)

var (
	dbPath     = flag.String("db", "", "path to the ledger database (defaults to $PAYSYNC_DB or paysync.db)")
	statusOnly = flag.Bool("status", false, "show applied and pending migrations without applying")
)

func main() {
	flag.Parse()

	path := *dbPath
	if path == "" {
		path = os.Getenv("PAYSYNC_DB")
	}
	if path == "" {
		path = "paysync.db"
	}

	names, err := migrationNames()
	if err != nil {
		log.Fatalf("Failed to read embedded migrations: %v", err)
	}

	log.Printf("Ledger database: %s", path)
	log.Printf("Found %d migration files", len(names))

	if *statusOnly {
		showStatus(path, names)
		return
	}

	// Record what was applied before so the summary can tell old from new.
	appliedBefore := map[string]time.Time{}
	if _, err := os.Stat(path); err == nil {
		appliedBefore, err = appliedSet(path)
		if err != nil {
			log.Fatalf("Failed to read applied migrations: %v", err)
		}
	}

	// Open applies every pending migration, each in its own transaction.
	store, err := sqlite.Open(path)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	defer store.Close()

	appliedCount := 0
	for _, name := range names {
		if at, ok := appliedBefore[name]; ok {
			log.Printf("  [SKIP] %s (applied %s)", name, at.Format("2006-01-02 15:04:05"))
			continue
		}
		log.Printf("  [OK]   %s", name)
		appliedCount++
	}

	if appliedCount == 0 {
		log.Println("No new migrations to apply. Database is up to date.")
	} else {
		log.Printf("Successfully applied %d migration(s)", appliedCount)
	}
}

// showStatus reports each migration's state without touching the database
// file. A missing file means a fresh ledger: everything is pending.
func showStatus(path string, names []string) {
	applied := map[string]time.Time{}
	if _, err := os.Stat(path); err == nil {
		applied, err = appliedSet(path)
		if err != nil {
			log.Fatalf("Failed to read applied migrations: %v", err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("Failed to stat database: %v", err)
	}

	pending := 0
	for _, name := range names {
		if at, ok := applied[name]; ok {
			log.Printf("  [APPLIED] %s (at %s)", name, at.Format("2006-01-02 15:04:05"))
		} else {
			log.Printf("  [PENDING] %s", name)
			pending++
		}
	}
	log.Printf("%d applied, %d pending", len(names)-pending, pending)
}

// migrationNames lists the embedded migration files in apply order.
func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// appliedSet reads the schema_migrations bookkeeping directly, so status
// inspection never triggers an apply.
func appliedSet(path string) (map[string]time.Time, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	rows, err := db.Query("SELECT name, applied_at FROM schema_migrations ORDER BY name")
	if err != nil {
		// A database that predates the bookkeeping table has nothing applied.
		if strings.Contains(err.Error(), "no such table") {
			return map[string]time.Time{}, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var name string
		var at int64
		if err := rows.Scan(&name, &at); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		applied[name] = time.UnixMilli(at).UTC()
	}
	return applied, rows.Err()
}
