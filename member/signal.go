package member

import (
	"sync"
	"time"
)

// Signal is a one-shot readiness latch handing off from a log-callback
// goroutine to the single orchestrating goroutine. Firing before anyone
// waits is not a lost wake-up: Wait observes the closed channel. Fires after
// the first are no-ops.
type Signal struct {
	once sync.Once
	done chan struct{}
}

// NewSignal creates an unfired signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Fire releases every current and future waiter. Idempotent.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.done) })
}

// Fired reports whether the signal has been released.
func (s *Signal) Fired() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal fires or the timeout elapses, reporting
// whether it fired.
func (s *Signal) Wait(timeout time.Duration) bool {
	select {
	case <-s.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
