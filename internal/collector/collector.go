// Package collector drives the synchronization of remote purchase history
// into the local ledger. One generic runner owns pagination, checkpoint
// stops, pacing, and cancellation; providers supply only the four leaf
// operations (token resolution, page listing, detail fetching, stop-key
// derivation) behind the Provider interface.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/minukim/paysync/internal/domain"
	"github.com/minukim/paysync/internal/progress"
)

// Mode selects how much history a run collects.
type Mode string

const (
	// ModeIncremental collects only records newer than the checkpoint.
	ModeIncremental Mode = "incremental"
	// ModeFull re-collects all history, clearing stored records first.
	ModeFull Mode = "full"
)

// ParseMode validates a mode string from the API or CLI.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeIncremental, ModeFull:
		return Mode(s), nil
	case "":
		return ModeIncremental, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want incremental or full)", s)
	}
}

// Page addresses one listing request. Year is zero for providers whose
// listings are not partitioned by year; Index starts at 1.
type Page struct {
	Year  int
	Index int
}

func (p Page) String() string {
	if p.Year != 0 {
		return fmt.Sprintf("page %d of %d", p.Index, p.Year)
	}
	return fmt.Sprintf("page %d", p.Index)
}

// ListItem is a listing-page stub: enough to identify a record, fetch its
// detail, and carry the list-sourced fields that the detail payload is
// not authoritative for.
type ListItem struct {
	ExternalID       string
	SubType          string
	Title            string
	PaidAt           time.Time
	StatusCode       string
	StatusText       string
	StatusColor      string
	ProductDetailURL string
	OrderDetailURL   string
	ImageURL         string
}

// Provider is the capability set a collector implements. Implementations
// are stateful per run (they may cache bootstrap results) and are never
// shared between runs.
type Provider interface {
	// ID returns the provider identifier stored on ledger rows.
	ID() string

	// Partitions returns the year partitions to iterate, newest first.
	// Unpartitioned providers return a single zero.
	Partitions(now time.Time) []int

	// ResolveToken derives the session-scoped token that addresses the
	// provider's data endpoints. Called once per run; tokens rotate
	// between sessions and are never persisted.
	ResolveToken(ctx context.Context) (string, error)

	// ListPage fetches one listing page. An empty result means the
	// partition has no more data; ordering is the provider's native
	// newest-first and must not be re-sorted.
	ListPage(ctx context.Context, page Page, token string) ([]ListItem, error)

	// FetchDetail fetches and normalizes one record. A document the
	// provider cannot produce or a payload shape it does not recognize
	// returns ErrUnavailable.
	FetchDetail(ctx context.Context, item ListItem, token string) (*domain.Payment, error)

	// StopKey derives the incremental stop boundary from a checkpoint:
	// the external id at which a run halts mid-page.
	StopKey(cp domain.Checkpoint) string
}

// ErrUnavailable marks a detail document the provider cannot render into
// a payment: deleted upstream, entity-absent, or an unrecognized payload
// shape. It is a counted per-item failure, never a fault.
var ErrUnavailable = errors.New("detail unavailable")

// SetupError is the only fatal failure class: without a checkpoint or a
// token nothing further in the run is reachable.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup failed resolving %s: %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// Outcome is the terminal state of a run.
type Outcome string

const (
	StoppedAtCheckpoint   Outcome = "stopped_at_checkpoint"
	StoppedNoMoreData     Outcome = "stopped_no_more_data"
	StoppedByCancellation Outcome = "stopped_by_cancellation"
	StoppedByError        Outcome = "stopped_by_error"
)

// Phase names mirror the runner's states; the tracker exposes the current
// one to observers.
const (
	PhaseIdle                = "idle"
	PhaseResolvingCheckpoint = "resolving_checkpoint"
	PhaseResolvingToken      = "resolving_token"
	PhaseListingPage         = "listing_page"
	PhaseProcessingItem      = "processing_item"
	PhaseAdvancingPage       = "advancing_page"
)

// Result summarizes a finished run.
type Result struct {
	Outcome  Outcome
	Counters progress.Counters
	Err      error
}

// A partitioned provider halts early after this many consecutive empty
// years, accepting that older non-empty years behind a long gap are
// skipped.
const emptyYearLimit = 3
