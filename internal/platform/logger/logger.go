package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns the process logger: JSON on stdout, or human-readable text at debug level
// in dev.
func New(dev bool) *slog.Logger {
	return NewWithWriter(os.Stdout, dev)
}

func NewWithWriter(w io.Writer, dev bool) *slog.Logger {
	if dev {
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
