package core

import (
	"sync"
)

// CancelSignal is the reference CancelHandle implementation: a thread-safe
// latch carrying the cancellation reason. Work being governed selects on
// Done and reads Reason after the channel closes.
//
// Usage:
//
//	signal := core.NewCancelSignal()
//	tracker.Track(ctx.ExecutionID, ctx, signal)
//
//	go func() {
//	    select {
//	    case <-signal.Done():
//	        cleanup(signal.Reason())
//	    case <-work:
//	    }
//	}()
type CancelSignal struct {
	mu       sync.Mutex
	reason   string
	canceled bool
	done     chan struct{}
}

// NewCancelSignal returns an un-signaled CancelSignal.
func NewCancelSignal() *CancelSignal {
	return &CancelSignal{done: make(chan struct{})}
}

// Cancel signals the work with the given reason. The first call wins;
// subsequent calls are no-ops and return nil.
func (s *CancelSignal) Cancel(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return nil
	}
	s.canceled = true
	s.reason = reason
	close(s.done)
	return nil
}

// Reason returns the reason the signal was canceled with, or "" if it has
// not been canceled.
func (s *CancelSignal) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Canceled reports whether the signal has fired.
func (s *CancelSignal) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// Done returns a channel that closes when the signal fires.
func (s *CancelSignal) Done() <-chan struct{} {
	return s.done
}

var _ CancelHandle = (*CancelSignal)(nil)
