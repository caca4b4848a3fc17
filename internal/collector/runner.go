package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/minukim/paysync/internal/domain"
	"github.com/minukim/paysync/internal/ledger"
	"github.com/minukim/paysync/internal/progress"
)

// Runner executes sync runs against the ledger. One Runner serves one
// account/provider pair at a time; all network and persistence calls in a
// run are strictly sequential.
type Runner struct {
	ledger  ledger.Gateway
	tracker *progress.Tracker
	pacing  Pacing
	log     zerolog.Logger
	now     func() time.Time
}

// NewRunner creates a Runner publishing progress through tracker.
func NewRunner(gw ledger.Gateway, tracker *progress.Tracker, pacing Pacing, log zerolog.Logger) *Runner {
	return &Runner{
		ledger:  gw,
		tracker: tracker,
		pacing:  pacing,
		log:     log,
		now:     time.Now,
	}
}

// Run drives one collection for accountID through provider p until a
// terminal outcome. Failures other than setup failures are folded into
// counters and events; the returned error is non-nil only for
// StoppedByError.
func (r *Runner) Run(ctx context.Context, p Provider, accountID string, mode Mode, cancel *CancelToken) Result {
	r.tracker.Begin()
	r.tracker.Publish(progress.Event{
		Message:  fmt.Sprintf("%s collection started", mode),
		Severity: progress.SeverityInfo,
	})
	r.log.Info().Str("mode", string(mode)).Msg("starting collection")

	outcome, err := r.collect(ctx, p, accountID, mode, cancel)

	counters := r.tracker.Counters()
	r.publishOutcome(outcome, err)
	r.tracker.Finish(string(outcome))

	evt := r.log.Info()
	if err != nil {
		evt = r.log.Error().Err(err)
	}
	evt.Str("outcome", string(outcome)).
		Int("total", counters.Total).
		Int("success", counters.Success).
		Int("failed", counters.Failed).
		Msg("collection finished")

	return Result{Outcome: outcome, Counters: counters, Err: err}
}

func (r *Runner) collect(ctx context.Context, p Provider, accountID string, mode Mode, cancel *CancelToken) (Outcome, error) {
	var stopKey string
	if mode == ModeIncremental {
		r.tracker.SetPhase(PhaseResolvingCheckpoint)
		cp, err := r.ledger.Checkpoint(ctx, accountID, p.ID())
		if err != nil {
			return StoppedByError, &SetupError{Stage: "checkpoint", Err: err}
		}
		if cp != nil {
			stopKey = p.StopKey(*cp)
			r.log.Info().Str("stop_key", stopKey).Time("last_paid_at", cp.LastPaidAt).Msg("resolved checkpoint")
		}
	}

	r.tracker.SetPhase(PhaseResolvingToken)
	token, err := p.ResolveToken(ctx)
	if err != nil {
		return StoppedByError, &SetupError{Stage: "token", Err: err}
	}

	partitions := p.Partitions(r.now())
	partitioned := len(partitions) > 1 || (len(partitions) == 1 && partitions[0] != 0)

	// Full mode defers the destructive clear until the remote session has
	// proven it can produce a record.
	purgePending := mode == ModeFull

	consecutiveEmpty := 0
	for _, year := range partitions {
		hadItems := false

		for index := 1; ; index++ {
			if cancel.Cancelled() {
				return StoppedByCancellation, nil
			}
			page := Page{Year: year, Index: index}

			r.tracker.SetPhase(PhaseListingPage)
			items, err := p.ListPage(ctx, page, token)
			if err != nil {
				// Skip the page, never retry it in place.
				r.tracker.Publish(progress.Event{
					Page:     page.Index,
					Message:  fmt.Sprintf("failed to list %s: %v", page, err),
					Severity: progress.SeverityError,
				})
				r.log.Warn().Err(err).Int("page", page.Index).Int("year", page.Year).Msg("failed to list page")
				if err := sleepCtx(ctx, r.pacing.pageDelay()); err != nil {
					return StoppedByCancellation, nil
				}
				continue
			}
			if len(items) == 0 {
				break
			}
			hadItems = true
			r.tracker.AddTotal(len(items))

			for _, item := range items {
				if cancel.Cancelled() {
					return StoppedByCancellation, nil
				}
				if stopKey != "" && item.ExternalID == stopKey {
					r.log.Info().Str("external_id", item.ExternalID).Msg("reached checkpoint")
					return StoppedAtCheckpoint, nil
				}

				r.tracker.SetPhase(PhaseProcessingItem)
				r.tracker.IncCurrent()

				rec, err := p.FetchDetail(ctx, item, token)
				if err != nil {
					r.recordItemFailure(page, item, err)
					if err := sleepCtx(ctx, r.pacing.itemDelay()); err != nil {
						return StoppedByCancellation, nil
					}
					continue
				}
				mergeListFields(rec, item)

				if purgePending {
					purgePending = false
					if err := r.ledger.Purge(ctx, accountID, p.ID()); err != nil {
						r.tracker.Publish(progress.Event{
							Page:     page.Index,
							Message:  fmt.Sprintf("failed to clear existing records: %v", err),
							Severity: progress.SeverityError,
						})
						r.log.Warn().Err(err).Msg("failed to purge before full collection")
					} else {
						r.tracker.Publish(progress.Event{
							Message:  "cleared existing records for full collection",
							Severity: progress.SeverityInfo,
						})
						r.log.Info().Msg("purged existing records")
					}
				}

				if err := r.ledger.Save(ctx, accountID, rec); err != nil {
					r.tracker.IncFailed()
					r.tracker.Publish(progress.Event{
						Page:       page.Index,
						ExternalID: item.ExternalID,
						Message:    fmt.Sprintf("failed to save %s: %v", item.ExternalID, err),
						Severity:   progress.SeverityError,
					})
					r.log.Warn().Err(err).Str("external_id", item.ExternalID).Msg("failed to save payment")
					if err := sleepCtx(ctx, r.pacing.itemDelay()); err != nil {
						return StoppedByCancellation, nil
					}
					continue
				}

				r.tracker.IncSuccess()
				amount := rec.TotalAmount
				paidAt := rec.PaidAt
				r.tracker.Publish(progress.Event{
					Page:       page.Index,
					ExternalID: rec.ExternalID,
					Message:    rec.ProductName,
					Severity:   progress.SeveritySuccess,
					Amount:     &amount,
					PaidAt:     &paidAt,
					ImageURL:   rec.ImageURL,
				})

				if err := sleepCtx(ctx, r.pacing.itemDelay()); err != nil {
					return StoppedByCancellation, nil
				}
			}

			r.tracker.SetPhase(PhaseAdvancingPage)
			if err := sleepCtx(ctx, r.pacing.pageDelay()); err != nil {
				return StoppedByCancellation, nil
			}
		}

		if partitioned {
			if hadItems {
				consecutiveEmpty = 0
			} else {
				consecutiveEmpty++
				if consecutiveEmpty >= emptyYearLimit {
					r.log.Info().Int("year", year).Msg("halting after consecutive empty years")
					break
				}
			}
		}
	}

	return StoppedNoMoreData, nil
}

func (r *Runner) recordItemFailure(page Page, item ListItem, err error) {
	r.tracker.IncFailed()
	message := fmt.Sprintf("failed to fetch %s: %v", item.ExternalID, err)
	if errors.Is(err, ErrUnavailable) {
		message = fmt.Sprintf("detail unavailable for %s", item.ExternalID)
	}
	r.tracker.Publish(progress.Event{
		Page:       page.Index,
		ExternalID: item.ExternalID,
		Message:    message,
		Severity:   progress.SeverityError,
	})
	r.log.Warn().Err(err).Str("external_id", item.ExternalID).Int("page", page.Index).Msg("failed to process item")
}

func (r *Runner) publishOutcome(outcome Outcome, err error) {
	switch outcome {
	case StoppedAtCheckpoint:
		r.tracker.Publish(progress.Event{Message: "caught up to last collected payment", Severity: progress.SeverityInfo})
	case StoppedNoMoreData:
		r.tracker.Publish(progress.Event{Message: "no more data to collect", Severity: progress.SeverityInfo})
	case StoppedByCancellation:
		r.tracker.Publish(progress.Event{Message: "collection cancelled", Severity: progress.SeverityInfo})
	case StoppedByError:
		r.tracker.Publish(progress.Event{Message: fmt.Sprintf("collection failed: %v", err), Severity: progress.SeverityError})
	}
}

// mergeListFields copies list-sourced fields onto the normalized record.
// Status and deep links come from the listing; the detail payload is not
// authoritative for them. Name, thumbnail, and sub-type fall back to the
// listing only when the detail left them empty.
func mergeListFields(rec *domain.Payment, item ListItem) {
	if item.StatusCode != "" {
		rec.StatusCode = item.StatusCode
	}
	if item.StatusText != "" {
		rec.StatusText = item.StatusText
	}
	if item.StatusColor != "" {
		rec.StatusColor = item.StatusColor
	}
	if item.ProductDetailURL != "" {
		rec.ProductDetailURL = item.ProductDetailURL
	}
	if item.OrderDetailURL != "" {
		rec.OrderDetailURL = item.OrderDetailURL
	}
	if rec.ProductName == "" {
		rec.ProductName = item.Title
	}
	if rec.ImageURL == "" {
		rec.ImageURL = item.ImageURL
	}
	if rec.ServiceType == "" {
		rec.ServiceType = item.SubType
	}
}
