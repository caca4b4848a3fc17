package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/minukim/paysync/internal/domain"
	"github.com/minukim/paysync/internal/ledger"
)

// CreateAccount inserts a new collection account.
func (s *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	if a == nil {
		return fmt.Errorf("account is required")
	}
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("account id is required")
	}
	if !domain.ValidProvider(a.Provider) {
		return fmt.Errorf("unknown provider %q", a.Provider)
	}

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO accounts (id, provider, alias, curl, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Provider, a.Alias, a.Curl, formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		if isAlreadyExistsError(err) || strings.Contains(err.Error(), "UNIQUE constraint") {
			return ledger.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount returns one account by id.
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, provider, alias, curl, created_at, updated_at
		   FROM accounts WHERE id = ?`,
		id,
	)
	var a domain.Account
	var createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.Provider, &a.Alias, &a.Curl, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

// ListAccounts returns all accounts ordered by creation time.
func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, provider, alias, curl, created_at, updated_at
		   FROM accounts ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []domain.Account{}
	for rows.Next() {
		var a domain.Account
		var createdAt, updatedAt string
		if err := rows.Scan(&a.ID, &a.Provider, &a.Alias, &a.Curl, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.CreatedAt = parseTime(createdAt)
		a.UpdatedAt = parseTime(updatedAt)
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

// UpdateAccount rewrites an account's mutable fields.
func (s *Store) UpdateAccount(ctx context.Context, a *domain.Account) error {
	if a == nil {
		return fmt.Errorf("account is required")
	}
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("account id is required")
	}

	a.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE accounts SET alias = ?, curl = ?, updated_at = ? WHERE id = ?`,
		a.Alias, a.Curl, formatTime(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// DeleteAccount removes the account together with its credentials and
// every payment collected under it.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`DELETE FROM payment_items WHERE payment_id IN
		   (SELECT id FROM payments WHERE account_id = ?)`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete account line items: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM payments WHERE account_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete account payments: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM credentials WHERE account_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete account credentials: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ledger.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit account delete: %w", err)
	}
	return nil
}

// Headers returns the stored credential headers for an account.
func (s *Store) Headers(ctx context.Context, accountID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT key, value FROM credentials WHERE account_id = ?`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	defer rows.Close()

	headers := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		headers[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate credentials: %w", err)
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("no credentials stored for account %s", accountID)
	}
	return headers, nil
}

// SaveHeaders replaces the stored credential headers for an account.
func (s *Store) SaveHeaders(ctx context.Context, accountID string, headers map[string]string) error {
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if len(headers) == 0 {
		return fmt.Errorf("headers are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	for key, value := range headers {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO credentials (account_id, key, value) VALUES (?, ?, ?)`,
			accountID, key, value,
		)
		if err != nil {
			return fmt.Errorf("failed to store credential %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit credentials: %w", err)
	}
	return nil
}
