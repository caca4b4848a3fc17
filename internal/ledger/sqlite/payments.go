package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/minukim/paysync/internal/domain"
	"github.com/minukim/paysync/internal/ledger"
)

const paymentColumns = `id, provider, external_id, service_type, paid_at,
       status_code, status_text, status_color,
       merchant_name, merchant_tel, merchant_url, merchant_image_url,
       product_name, product_count, image_url, product_detail_url, order_detail_url,
       total_amount, discount_amount, pay_methods, extra`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// Save upserts a payment keyed on (account, provider, external id) and
// replaces its line items. Re-saving the same payment after a detail
// re-fetch overwrites the stored row instead of appending a duplicate.
func (s *Store) Save(ctx context.Context, accountID string, p *domain.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if p == nil {
		return fmt.Errorf("payment is required")
	}
	if strings.TrimSpace(p.ExternalID) == "" {
		return fmt.Errorf("external id is required")
	}
	if strings.TrimSpace(p.Provider) == "" {
		return fmt.Errorf("provider is required")
	}

	payMethods := p.PayMethods
	if payMethods == nil {
		payMethods = map[string]int64{}
	}
	payMethodsJSON, err := json.Marshal(payMethods)
	if err != nil {
		return fmt.Errorf("failed to marshal pay methods: %w", err)
	}
	extra := p.Extra
	if extra == nil {
		extra = map[string]interface{}{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("failed to marshal extra fields: %w", err)
	}
	now := formatTime(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO payments (
		   account_id, provider, external_id, service_type, paid_at,
		   status_code, status_text, status_color,
		   merchant_name, merchant_tel, merchant_url, merchant_image_url,
		   product_name, product_count, image_url, product_detail_url, order_detail_url,
		   total_amount, discount_amount, pay_methods, extra,
		   created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (account_id, provider, external_id) DO UPDATE SET
		   service_type = excluded.service_type,
		   paid_at = excluded.paid_at,
		   status_code = excluded.status_code,
		   status_text = excluded.status_text,
		   status_color = excluded.status_color,
		   merchant_name = excluded.merchant_name,
		   merchant_tel = excluded.merchant_tel,
		   merchant_url = excluded.merchant_url,
		   merchant_image_url = excluded.merchant_image_url,
		   product_name = excluded.product_name,
		   product_count = excluded.product_count,
		   image_url = excluded.image_url,
		   product_detail_url = excluded.product_detail_url,
		   order_detail_url = excluded.order_detail_url,
		   total_amount = excluded.total_amount,
		   discount_amount = excluded.discount_amount,
		   pay_methods = excluded.pay_methods,
		   extra = excluded.extra,
		   updated_at = excluded.updated_at`,
		accountID, p.Provider, p.ExternalID, p.ServiceType, formatTime(p.PaidAt),
		p.StatusCode, p.StatusText, p.StatusColor,
		p.Merchant.Name, p.Merchant.Tel, p.Merchant.URL, p.Merchant.ImageURL,
		p.ProductName, p.ProductCount, p.ImageURL, p.ProductDetailURL, p.OrderDetailURL,
		p.TotalAmount, p.DiscountAmount, string(payMethodsJSON), string(extraJSON),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert payment: %w", err)
	}

	var paymentID int64
	row := tx.QueryRowContext(
		ctx,
		`SELECT id FROM payments WHERE account_id = ? AND provider = ? AND external_id = ?`,
		accountID, p.Provider, p.ExternalID,
	)
	if err := row.Scan(&paymentID); err != nil {
		return fmt.Errorf("failed to resolve payment id: %w", err)
	}

	for _, item := range p.LineItems {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO payment_items (
			   payment_id, line_no, product_name, quantity,
			   unit_price, line_amount, image_url, info_url, memo
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (payment_id, line_no) DO UPDATE SET
			   product_name = excluded.product_name,
			   quantity = excluded.quantity,
			   unit_price = excluded.unit_price,
			   line_amount = excluded.line_amount,
			   image_url = excluded.image_url,
			   info_url = excluded.info_url,
			   memo = excluded.memo`,
			paymentID, item.LineNo, item.ProductName, item.Quantity,
			item.UnitPrice, item.LineAmount, item.ImageURL, item.InfoURL, item.Memo,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert line item %d: %w", item.LineNo, err)
		}
	}

	// A re-fetch can shrink an order; drop line rows past the new count.
	_, err = tx.ExecContext(
		ctx,
		`DELETE FROM payment_items WHERE payment_id = ? AND line_no > ?`,
		paymentID, len(p.LineItems),
	)
	if err != nil {
		return fmt.Errorf("failed to trim stale line items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment: %w", err)
	}
	return nil
}

// Checkpoint returns the newest stored payment for the account and
// provider, or nil when none exists.
func (s *Store) Checkpoint(ctx context.Context, accountID, provider string) (*domain.Checkpoint, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT external_id, paid_at FROM payments
		  WHERE account_id = ? AND provider = ?
		  ORDER BY paid_at DESC, id DESC
		  LIMIT 1`,
		accountID, provider,
	)
	var externalID, paidAt string
	if err := row.Scan(&externalID, &paidAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve checkpoint: %w", err)
	}
	return &domain.Checkpoint{LastExternalID: externalID, LastPaidAt: parseTime(paidAt)}, nil
}

// Purge deletes all payments for the account and provider. Deletes run in
// one transaction so a failure leaves the ledger intact.
func (s *Store) Purge(ctx context.Context, accountID, provider string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`DELETE FROM payment_items WHERE payment_id IN
		   (SELECT id FROM payments WHERE account_id = ? AND provider = ?)`,
		accountID, provider,
	)
	if err != nil {
		return fmt.Errorf("failed to purge line items: %w", err)
	}
	_, err = tx.ExecContext(
		ctx,
		`DELETE FROM payments WHERE account_id = ? AND provider = ?`,
		accountID, provider,
	)
	if err != nil {
		return fmt.Errorf("failed to purge payments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge: %w", err)
	}
	return nil
}

// GetPayment returns one payment by its provider-assigned id. An account
// holds one provider's history, so (account, external id) is unique.
func (s *Store) GetPayment(ctx context.Context, accountID, externalID string) (*domain.Payment, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+paymentColumns+` FROM payments
		  WHERE account_id = ? AND external_id = ?
		  ORDER BY id DESC LIMIT 1`,
		accountID, externalID,
	)
	id, p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	items, err := s.itemsFor(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	p.LineItems = items[id]
	return &p, nil
}

// ListPayments returns payments newest-first with line items attached.
func (s *Store) ListPayments(ctx context.Context, f ledger.ListFilter) ([]domain.Payment, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := `SELECT ` + paymentColumns + ` FROM payments`
	var conds []string
	var args []interface{}
	if f.AccountID != "" {
		conds = append(conds, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Provider != "" {
		conds = append(conds, "provider = ?")
		args = append(args, f.Provider)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY paid_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	payments := []domain.Payment{}
	for rows.Next() {
		id, p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		ids = append(ids, id)
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}

	itemsByPayment, err := s.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		payments[i].LineItems = itemsByPayment[id]
	}
	return payments, nil
}

// SearchItems finds line items whose product name contains the query,
// joined with their parent payments, newest first.
func (s *Store) SearchItems(ctx context.Context, query string, limit int) ([]ledger.ItemHit, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(q) + "%"

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT p.id, p.provider, p.external_id, p.service_type, p.paid_at,
		        p.status_code, p.status_text, p.status_color,
		        p.merchant_name, p.merchant_tel, p.merchant_url, p.merchant_image_url,
		        p.product_name, p.product_count, p.image_url, p.product_detail_url, p.order_detail_url,
		        p.total_amount, p.discount_amount, p.pay_methods, p.extra,
		        i.line_no, i.product_name, i.quantity, i.unit_price, i.line_amount,
		        i.image_url, i.info_url, i.memo
		   FROM payment_items i
		   JOIN payments p ON p.id = i.payment_id
		  WHERE i.product_name LIKE ? ESCAPE '\'
		  ORDER BY p.paid_at DESC, p.id DESC, i.line_no ASC
		  LIMIT ?`,
		pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search items: %w", err)
	}
	defer rows.Close()

	hits := []ledger.ItemHit{}
	for rows.Next() {
		var (
			id         int64
			p          domain.Payment
			paidAt     string
			payMethods string
			extra      string
			item       domain.LineItem
			unitPrice  sql.NullInt64
			lineAmount sql.NullInt64
		)
		err := rows.Scan(
			&id, &p.Provider, &p.ExternalID, &p.ServiceType, &paidAt,
			&p.StatusCode, &p.StatusText, &p.StatusColor,
			&p.Merchant.Name, &p.Merchant.Tel, &p.Merchant.URL, &p.Merchant.ImageURL,
			&p.ProductName, &p.ProductCount, &p.ImageURL, &p.ProductDetailURL, &p.OrderDetailURL,
			&p.TotalAmount, &p.DiscountAmount, &payMethods, &extra,
			&item.LineNo, &item.ProductName, &item.Quantity, &unitPrice, &lineAmount,
			&item.ImageURL, &item.InfoURL, &item.Memo,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		p.PaidAt = parseTime(paidAt)
		decodeJSONColumns(&p, payMethods, extra)
		if unitPrice.Valid {
			v := unitPrice.Int64
			item.UnitPrice = &v
		}
		if lineAmount.Valid {
			v := lineAmount.Int64
			item.LineAmount = &v
		}
		hits = append(hits, ledger.ItemHit{Payment: p, Item: item})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search hits: %w", err)
	}
	return hits, nil
}

// Stats reports row counts for the status endpoint.
func (s *Store) Stats(ctx context.Context) (*ledger.Stats, error) {
	stats := &ledger.Stats{ByProvider: make(map[string]int64)}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments`).Scan(&stats.Payments); err != nil {
		return nil, fmt.Errorf("failed to count payments: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_items`).Scan(&stats.Items); err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&stats.Accounts); err != nil {
		return nil, fmt.Errorf("failed to count accounts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT provider, COUNT(*) FROM payments GROUP BY provider`)
	if err != nil {
		return nil, fmt.Errorf("failed to count payments by provider: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var provider string
		var count int64
		if err := rows.Scan(&provider, &count); err != nil {
			return nil, fmt.Errorf("failed to scan provider count: %w", err)
		}
		stats.ByProvider[provider] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate provider counts: %w", err)
	}
	return stats, nil
}

func scanPayment(row rowScanner) (int64, domain.Payment, error) {
	var (
		id         int64
		p          domain.Payment
		paidAt     string
		payMethods string
		extra      string
	)
	err := row.Scan(
		&id, &p.Provider, &p.ExternalID, &p.ServiceType, &paidAt,
		&p.StatusCode, &p.StatusText, &p.StatusColor,
		&p.Merchant.Name, &p.Merchant.Tel, &p.Merchant.URL, &p.Merchant.ImageURL,
		&p.ProductName, &p.ProductCount, &p.ImageURL, &p.ProductDetailURL, &p.OrderDetailURL,
		&p.TotalAmount, &p.DiscountAmount, &payMethods, &extra,
	)
	if err != nil {
		return 0, domain.Payment{}, err
	}
	p.PaidAt = parseTime(paidAt)
	decodeJSONColumns(&p, payMethods, extra)
	return id, p, nil
}

func decodeJSONColumns(p *domain.Payment, payMethods, extra string) {
	if payMethods != "" && payMethods != "{}" {
		_ = json.Unmarshal([]byte(payMethods), &p.PayMethods)
	}
	if extra != "" && extra != "{}" {
		_ = json.Unmarshal([]byte(extra), &p.Extra)
	}
}

func (s *Store) itemsFor(ctx context.Context, paymentIDs []int64) (map[int64][]domain.LineItem, error) {
	out := make(map[int64][]domain.LineItem, len(paymentIDs))
	if len(paymentIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(paymentIDs)), ",")
	args := make([]interface{}, len(paymentIDs))
	for i, id := range paymentIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT payment_id, line_no, product_name, quantity,
		        unit_price, line_amount, image_url, info_url, memo
		   FROM payment_items
		  WHERE payment_id IN (`+placeholders+`)
		  ORDER BY payment_id, line_no`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			pid        int64
			item       domain.LineItem
			unitPrice  sql.NullInt64
			lineAmount sql.NullInt64
		)
		err := rows.Scan(
			&pid, &item.LineNo, &item.ProductName, &item.Quantity,
			&unitPrice, &lineAmount, &item.ImageURL, &item.InfoURL, &item.Memo,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		if unitPrice.Valid {
			v := unitPrice.Int64
			item.UnitPrice = &v
		}
		if lineAmount.Valid {
			v := lineAmount.Int64
			item.LineAmount = &v
		}
		out[pid] = append(out[pid], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate line items: %w", err)
	}
	return out, nil
}

// escapeLike escapes LIKE wildcards so user queries match literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
