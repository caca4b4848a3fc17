package migrations

import "embed"

// FS contains the embedded SQLite migrations for the payment ledger.
//
//go:embed *.sql
var FS embed.FS
