package progress

import (
	"sync"
	"time"
)

// Counters is the running tally the presentation layer polls during a run.
// Total counts listed stubs, Current the items handed to the detail fetcher,
// Success/Failed the per-item outcomes. Counters are a presentation aid only:
// they are incremented next to the persistence call, not confirmed against it,
// so the ledger remains the source of truth for what was actually stored.
type Counters struct {
	Total   int `json:"total"`
	Current int `json:"current"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Status is one published snapshot of a tracker.
type Status struct {
	Collecting bool       `json:"collecting"`
	Phase      string     `json:"phase"`
	Counters   Counters   `json:"counters"`
	Outcome    string     `json:"outcome,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Tracker owns everything observers may read about a run: the collecting
// flag, the current phase, the counters, and the event log. The run's
// goroutine is the only writer; observers go through Snapshot and Events,
// never through orchestrator internals. The event log survives across runs so
// the UI keeps recent history; counters reset on Begin.
type Tracker struct {
	mu         sync.RWMutex
	log        *EventLog
	collecting bool
	phase      string
	counters   Counters
	outcome    string
	startedAt  *time.Time
	finishedAt *time.Time
}

// NewTracker creates a tracker with an empty event log.
func NewTracker() *Tracker {
	return &Tracker{log: NewEventLog(DefaultLogCapacity), phase: "idle"}
}

// Begin resets the counters and marks the run as collecting.
func (t *Tracker) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.collecting = true
	t.counters = Counters{}
	t.outcome = ""
	t.startedAt = &now
	t.finishedAt = nil
}

// Finish records the terminal outcome and clears the collecting flag.
func (t *Tracker) Finish(outcome string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.collecting = false
	t.phase = "idle"
	t.outcome = outcome
	t.finishedAt = &now
}

// SetPhase publishes the orchestrator's current state name.
func (t *Tracker) SetPhase(phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phase
}

// AddTotal adds the size of a freshly listed page to the total counter.
func (t *Tracker) AddTotal(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters.Total += n
}

// IncCurrent advances the index of the item being processed.
func (t *Tracker) IncCurrent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters.Current++
}

// IncSuccess counts one persisted payment.
func (t *Tracker) IncSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters.Success++
}

// IncFailed counts one unavailable, unfetchable, or unpersistable item.
func (t *Tracker) IncFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters.Failed++
}

// Publish appends one event to the log.
func (t *Tracker) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	t.log.Push(ev)
}

// Counters returns a copy of the current tally.
func (t *Tracker) Counters() Counters {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counters
}

// Collecting reports whether a run is currently active on this tracker.
func (t *Tracker) Collecting() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.collecting
}

// Snapshot returns the full published state.
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Status{
		Collecting: t.collecting,
		Phase:      t.phase,
		Counters:   t.counters,
		Outcome:    t.outcome,
		StartedAt:  t.startedAt,
		FinishedAt: t.finishedAt,
	}
}

// Events returns a newest-first copy of the event log.
func (t *Tracker) Events() []Event {
	return t.log.Snapshot()
}
