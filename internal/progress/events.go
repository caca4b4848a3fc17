package progress

import (
	"sync"
	"time"
)

// Severity classifies one log line for the presentation layer.
type Severity string

const (
	// SeverityInfo marks informational lines (run started, page advanced, ...).
	SeverityInfo Severity = "info"
	// SeveritySuccess marks one persisted payment.
	SeveritySuccess Severity = "success"
	// SeverityError marks a counted failure (page, item, or persistence).
	SeverityError Severity = "error"
)

// Event is one renderable line of a collector run's log.
type Event struct {
	Timestamp  time.Time  `json:"timestamp"`
	Page       int        `json:"page"`
	ExternalID string     `json:"external_id,omitempty"`
	Message    string     `json:"message"`
	Severity   Severity   `json:"severity"`
	Amount     *int64     `json:"amount,omitempty"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	ImageURL   string     `json:"image_url,omitempty"`
}

// DefaultLogCapacity is how many events the UI log keeps before the oldest
// entries are evicted.
const DefaultLogCapacity = 100

// EventLog is a fixed-capacity circular buffer of events. Push is O(1) and
// evicts the oldest entry once the capacity is reached. Readers only ever see
// copies, newest first.
type EventLog struct {
	mu   sync.RWMutex
	buf  []Event
	head int // next write position
	size int
}

// NewEventLog creates an event log holding at most capacity entries.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &EventLog{buf: make([]Event, capacity)}
}

// Push appends one event, evicting the oldest entry when the buffer is full.
func (l *EventLog) Push(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf[l.head] = ev
	l.head = (l.head + 1) % len(l.buf)
	if l.size < len(l.buf) {
		l.size++
	}
}

// Len returns the number of stored events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Snapshot returns a newest-first copy of the stored events.
func (l *EventLog) Snapshot() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, 0, l.size)
	for i := 1; i <= l.size; i++ {
		idx := (l.head - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}
