package website

import (
	"sync"
	"sync/atomic"
)

// CancelToken is a cooperative cancellation flag. It never interrupts a
// request already in flight; it only stops the next step from starting.
type CancelToken struct {
	cancelled atomic.Bool
	once      sync.Once
	reason    atomic.Value
}

// NewCancelToken returns a token that has not been cancelled.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel marks the token cancelled. Only the first reason is kept.
func (t *CancelToken) Cancel(reason ...string) {
	if t == nil {
		return
	}
	t.once.Do(func() {
		if len(reason) > 0 {
			t.reason.Store(reason[0])
		}
		t.cancelled.Store(true)
	})
}

// IsCancelled reports whether Cancel has been called.
func (t *CancelToken) IsCancelled() bool {
	return t != nil && t.cancelled.Load()
}

// ThrowIfCancelled returns a *CancelledError once the token is cancelled.
// A nil token is never cancelled.
func (t *CancelToken) ThrowIfCancelled() error {
	if !t.IsCancelled() {
		return nil
	}
	reason, _ := t.reason.Load().(string)
	return &CancelledError{Reason: reason}
}
