package engine

import "sync/atomic"

// Canceller is the user's abort request, set from a signal handler and
// observed by the transfer loop between chunks.
type Canceller struct {
	requested atomic.Bool
}

// Set requests an abort. It is safe to call from a signal handler goroutine.
func (c *Canceller) Set() { c.requested.Store(true) }

// Clear withdraws a pending request.
func (c *Canceller) Clear() { c.requested.Store(false) }

// Observe reports whether an abort was requested and clears the request.
// A nil Canceller never fires.
func (c *Canceller) Observe() bool {
	if c == nil {
		return false
	}
	return c.requested.Swap(false)
}
