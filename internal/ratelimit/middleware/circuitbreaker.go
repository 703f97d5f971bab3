package middleware

import (
	"sync"
	"time"
)

// breaker counts consecutive primary limiter outcomes. openAfter failures in a row open
// it; while open, closeAfter successes in a row close it again.
type breaker struct {
	mu         sync.Mutex
	open       bool
	openedAt   time.Time
	failures   int
	recoveries int
	openAfter  int
	closeAfter int
	now        func() time.Time
}

func newCircuitBreaker(openAfter, closeAfter int) *breaker {
	return &breaker{openAfter: openAfter, closeAfter: closeAfter, now: time.Now}
}

func (b *breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// OpenFor returns how long the breaker has been open, or zero when closed.
func (b *breaker) OpenFor() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return 0
	}
	return b.now().Sub(b.openedAt)
}

// RecordFailure reports whether the breaker is open after the failure.
func (b *breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recoveries = 0
	b.failures++
	if !b.open && b.failures >= b.openAfter {
		b.open = true
		b.openedAt = b.now()
	}
	return b.open
}

// RecordSuccess reports whether the breaker is closed after the success.
func (b *breaker) RecordSuccess() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		b.failures = 0
		return true
	}
	b.recoveries++
	if b.recoveries < b.closeAfter {
		return false
	}
	b.open = false
	b.failures, b.recoveries = 0, 0
	return true
}
