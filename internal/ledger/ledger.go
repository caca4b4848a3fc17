// Package ledger defines the persistence contracts for the local payment
// ledger. Implementations live in subpackages; consumers depend on these
// interfaces so collectors and handlers can be tested against fakes.
package ledger

import (
	"context"
	"errors"

	"github.com/minukim/paysync/internal/domain"
)

// Sentinel errors shared by all implementations. Callers match them with
// errors.Is to translate storage outcomes into API responses.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Gateway is the narrow surface a sync run needs: resolve where the last
// run stopped, persist fetched payments, and wipe an account's slice of
// the ledger before a full re-collection.
type Gateway interface {
	// Checkpoint returns the most recent payment stored for the account
	// and provider, or nil when the ledger holds nothing for them yet.
	Checkpoint(ctx context.Context, accountID, provider string) (*domain.Checkpoint, error)

	// Save upserts a payment and its line items. Saving the same external
	// id twice replaces the stored row instead of duplicating it.
	Save(ctx context.Context, accountID string, p *domain.Payment) error

	// Purge deletes every payment stored for the account and provider.
	// Other accounts and providers are untouched.
	Purge(ctx context.Context, accountID, provider string) error
}

// ListFilter narrows a payment listing. Zero values mean "no constraint";
// Limit defaults to a server-side cap when unset.
type ListFilter struct {
	AccountID string
	Provider  string
	Limit     int
	Offset    int
}

// ItemHit is one line item matched by a product search, joined with
// enough of its parent payment to render a result row.
type ItemHit struct {
	Payment domain.Payment  `json:"payment"`
	Item    domain.LineItem `json:"item"`
}

// Stats summarizes ledger contents for the status endpoint.
type Stats struct {
	Payments   int64            `json:"payments"`
	Items      int64            `json:"items"`
	Accounts   int64            `json:"accounts"`
	ByProvider map[string]int64 `json:"by_provider"`
}

// PaymentRepository extends Gateway with the read paths used by the API
// and CLI.
type PaymentRepository interface {
	Gateway

	// GetPayment returns one payment by its provider-assigned id, with
	// line items attached, or ErrNotFound.
	GetPayment(ctx context.Context, accountID, externalID string) (*domain.Payment, error)

	// ListPayments returns payments newest-first with their line items
	// attached.
	ListPayments(ctx context.Context, f ListFilter) ([]domain.Payment, error)

	// SearchItems finds line items whose product name contains the query,
	// newest payment first.
	SearchItems(ctx context.Context, query string, limit int) ([]ItemHit, error)

	// Stats reports row counts for the status endpoint.
	Stats(ctx context.Context) (*Stats, error)
}

// AccountRepository stores collection accounts and their captured
// credentials.
type AccountRepository interface {
	CreateAccount(ctx context.Context, a *domain.Account) error
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	UpdateAccount(ctx context.Context, a *domain.Account) error
	DeleteAccount(ctx context.Context, id string) error

	// Headers returns the header set parsed from the account's stored
	// curl command at creation time.
	Headers(ctx context.Context, accountID string) (map[string]string, error)

	// SaveHeaders replaces the stored header set for the account.
	SaveHeaders(ctx context.Context, accountID string, headers map[string]string) error
}
