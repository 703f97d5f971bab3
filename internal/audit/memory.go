package audit

import (
	"context"
	"sync"
)

// DefaultMemoryCapacity bounds a MemorySink created without an explicit capacity.
const DefaultMemoryCapacity = 10000

// MemorySink keeps the most recent events in memory for development and tests. Once
// capacity events are held, each append evicts the oldest.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

// NewMemorySink returns a sink holding at most capacity events. A capacity below one
// uses DefaultMemoryCapacity.
func NewMemorySink(capacity int) *MemorySink {
	if capacity < 1 {
		capacity = DefaultMemoryCapacity
	}
	return &MemorySink{events: make([]Event, 0, capacity)}
}

func (s *MemorySink) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.full {
		s.events = append(s.events, event)
		s.full = len(s.events) == cap(s.events)
		return nil
	}
	s.events[s.next] = event
	s.next = (s.next + 1) % len(s.events)
	return nil
}

// Events returns a copy of the retained events, oldest first.
func (s *MemorySink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ordered()
}

func (s *MemorySink) ByRequestID(requestID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.ordered() {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out
}

// Cap reports how many events the sink retains.
func (s *MemorySink) Cap() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cap(s.events)
}

// ordered must be called with the lock held.
func (s *MemorySink) ordered() []Event {
	out := make([]Event, 0, len(s.events))
	out = append(out, s.events[s.next:]...)
	return append(out, s.events[:s.next]...)
}
