package collector

import "sync/atomic"

// CancelToken is the cooperative stop flag for one run. Control surfaces
// set it; the runner polls it between page fetches and between item
// fetches, never inside an outstanding request, so an in-flight call
// always completes or errors before the stop is honored.
type CancelToken struct {
	cancelled atomic.Bool
}

// NewCancelToken returns an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel requests a stop. Safe to call from any goroutine, repeatedly.
func (t *CancelToken) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether a stop was requested.
func (t *CancelToken) Cancelled() bool {
	return t.cancelled.Load()
}
