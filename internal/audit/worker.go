package audit

import (
	"context"
	"log/slog"
	"time"
)

const appendTimeout = 5 * time.Second

// Worker drains queued events into a Sink until the inbox is closed.
type Worker struct {
	sink   Sink
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(sink Sink, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

func (w *Worker) Run() {
	for event := range w.inbox {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		if err := w.sink.Append(ctx, event); err != nil {
			w.logger.Warn("failed to publish audit event",
				"action", event.Action,
				"request_id", event.RequestID,
				"error", err,
			)
		}
		cancel()
	}
}
