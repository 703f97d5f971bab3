package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sink persists or forwards audit events.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Publisher hands events to a Sink, either inline or through a buffered worker.
// Emit never fails the caller's operation: sink errors are logged.
type Publisher struct {
	sink   Sink
	logger *slog.Logger

	inbox  chan Event
	worker *Worker
	wg     sync.WaitGroup
	once   sync.Once

	// mu guards closed and the send on inbox.
	mu     sync.RWMutex
	closed bool
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithAsyncBuffer queues up to size events for a background worker. A full buffer
// drops the event.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.inbox = make(chan Event, size)
		}
	}
}

func NewPublisher(sink Sink, opts ...Option) *Publisher {
	p := &Publisher{sink: sink, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.worker = NewWorker(sink, p.inbox, p.logger)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.worker.Run()
		}()
	}
	return p
}

// Emit publishes event. After Close the event is dropped.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.WarnContext(ctx, "audit publisher closed, dropping event",
			"action", event.Action,
			"request_id", event.RequestID,
		)
		return
	}
	if p.inbox == nil {
		if err := p.sink.Append(ctx, event); err != nil {
			p.logger.WarnContext(ctx, "failed to publish audit event",
				"action", event.Action,
				"request_id", event.RequestID,
				"error", err,
			)
		}
		return
	}

	select {
	case p.inbox <- event:
	default:
		p.logger.WarnContext(ctx, "audit buffer full, dropping event",
			"action", event.Action,
			"request_id", event.RequestID,
		)
	}
}

// Close stops accepting events and waits for the worker to drain the buffer.
func (p *Publisher) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		if p.inbox != nil {
			close(p.inbox)
		}
		p.mu.Unlock()
		p.wg.Wait()
	})
}
