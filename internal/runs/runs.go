// Package runs coordinates collection runs: at most one active run per
// account, observable progress during and after a run, and cooperative
// stops. The manager is the only place run goroutines are created.
package runs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/minukim/paysync/internal/collector"
	"github.com/minukim/paysync/internal/domain"
	"github.com/minukim/paysync/internal/gateway"
	"github.com/minukim/paysync/internal/ledger"
	"github.com/minukim/paysync/internal/logger"
	"github.com/minukim/paysync/internal/progress"
	"github.com/minukim/paysync/internal/providers"
)

// ErrAlreadyRunning rejects a second concurrent run for the same account.
var ErrAlreadyRunning = errors.New("collection already running")

// ErrNotRunning rejects a stop request for an account with no active run.
var ErrNotRunning = errors.New("no collection running")

// Store is the ledger surface the manager needs: run persistence plus
// account and credential lookup.
type Store interface {
	ledger.Gateway
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	Headers(ctx context.Context, accountID string) (map[string]string, error)
}

// RunInfo identifies one launched run.
type RunInfo struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Provider  string    `json:"provider"`
	Mode      string    `json:"mode"`
	StartedAt time.Time `json:"started_at"`
}

// RunStatus joins the identity of the latest run with the tracker snapshot.
type RunStatus struct {
	AccountID string `json:"account_id"`
	Provider  string `json:"provider,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	Mode      string `json:"mode,omitempty"`
	progress.Status
}

type activeRun struct {
	info   RunInfo
	cancel *collector.CancelToken
}

// Manager owns the lifecycle of collection runs. Trackers persist across
// runs so the event log keeps recent history after a run finishes.
type Manager struct {
	store  Store
	pacing collector.Pacing
	log    zerolog.Logger

	// Seams for tests: fresh gateway per run (cookie jars must never be
	// shared between sessions) and the provider constructor.
	newGateway  func() gateway.Doer
	newProvider func(providerID string, gw gateway.Doer, headers map[string]string, log zerolog.Logger) (collector.Provider, error)

	mu       sync.Mutex
	active   map[string]*activeRun
	trackers map[string]*progress.Tracker
	last     map[string]RunInfo
	wg       sync.WaitGroup
}

// NewManager creates a manager that persists through store and paces runs
// with pacing.
func NewManager(store Store, pacing collector.Pacing, log zerolog.Logger) *Manager {
	return &Manager{
		store:       store,
		pacing:      pacing,
		log:         log,
		newGateway:  func() gateway.Doer { return gateway.NewClient() },
		newProvider: providers.New,
		active:      make(map[string]*activeRun),
		trackers:    make(map[string]*progress.Tracker),
		last:        make(map[string]RunInfo),
	}
}

// Start launches a collection run for the account. Everything that can
// fail fast (account lookup, mode, credentials, provider construction) is
// resolved before the account's run slot is claimed; the run itself then
// proceeds on its own goroutine, detached from the caller's context.
func (m *Manager) Start(ctx context.Context, accountID, mode string) (RunInfo, error) {
	parsedMode, err := collector.ParseMode(mode)
	if err != nil {
		return RunInfo{}, err
	}
	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return RunInfo{}, err
	}
	headers, err := m.store.Headers(ctx, accountID)
	if err != nil {
		return RunInfo{}, err
	}

	runLog := logger.WithRun(m.log, accountID, account.Provider, string(parsedMode))
	provider, err := m.newProvider(account.Provider, m.newGateway(), headers, runLog)
	if err != nil {
		return RunInfo{}, err
	}

	info := RunInfo{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Provider:  account.Provider,
		Mode:      string(parsedMode),
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	if _, running := m.active[accountID]; running {
		m.mu.Unlock()
		return RunInfo{}, ErrAlreadyRunning
	}
	cancel := collector.NewCancelToken()
	m.active[accountID] = &activeRun{info: info, cancel: cancel}
	m.last[accountID] = info
	tracker := m.trackerLocked(accountID)
	m.wg.Add(1)
	m.mu.Unlock()

	runner := collector.NewRunner(m.store, tracker, m.pacing, runLog)
	go func() {
		defer m.wg.Done()
		runner.Run(context.Background(), provider, accountID, parsedMode, cancel)

		m.mu.Lock()
		delete(m.active, accountID)
		m.mu.Unlock()
	}()

	runLog.Info().Str("run_id", info.ID).Msg("run started")
	return info, nil
}

// RequestStop flips the active run's cancel token. The run stops at its
// next poll point; an in-flight call completes first.
func (m *Manager) RequestStop(accountID string) error {
	m.mu.Lock()
	run, ok := m.active[accountID]
	m.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	run.cancel.Cancel()
	return nil
}

// Running reports whether the account has a run in flight.
func (m *Manager) Running(accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[accountID]
	return ok
}

// Status reports the account's current or most recent run. Accounts that
// never ran report an idle snapshot.
func (m *Manager) Status(accountID string) RunStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := RunStatus{AccountID: accountID}
	if info, ok := m.last[accountID]; ok {
		st.RunID = info.ID
		st.Provider = info.Provider
		st.Mode = info.Mode
	}
	if tracker, ok := m.trackers[accountID]; ok {
		st.Status = tracker.Snapshot()
	} else {
		st.Status = progress.Status{Phase: collector.PhaseIdle}
	}
	return st
}

// Events returns the newest-first event log for the account.
func (m *Manager) Events(accountID string) []progress.Event {
	m.mu.Lock()
	tracker, ok := m.trackers[accountID]
	m.mu.Unlock()
	if !ok {
		return []progress.Event{}
	}
	return tracker.Events()
}

// Active lists runs currently in flight, oldest first.
func (m *Manager) Active() []RunInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunInfo, 0, len(m.active))
	for _, run := range m.active {
		out = append(out, run.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Shutdown requests a stop on every active run and waits for them to
// drain, or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, run := range m.active {
		run.cancel.Cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) trackerLocked(accountID string) *progress.Tracker {
	tracker, ok := m.trackers[accountID]
	if !ok {
		tracker = progress.NewTracker()
		m.trackers[accountID] = tracker
	}
	return tracker
}
