package registry

import "sync"

// CancelToken is a cooperative cancellation handle. Signal flips it
// once; IsSignalled is checked by the turn loop at turn boundaries.
// Cancellation never aborts an in-flight transport call — it only
// prevents the next turn from starting.
type CancelToken struct {
	mu        sync.Mutex
	signalled bool
	done      chan struct{}
}

// NewCancelToken returns an unsignalled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Signal requests cancellation. Safe to call more than once.
func (t *CancelToken) Signal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.signalled {
		return
	}
	t.signalled = true
	close(t.done)
}

// IsSignalled reports whether cancellation was requested.
func (t *CancelToken) IsSignalled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signalled
}

// Done returns a channel closed on Signal, for select-based waits.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}
