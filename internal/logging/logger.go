package logging

import (
	"io"
	"log/slog"
	"os"
)

// Service is attached to every record.
const Service = "ble-radar"

// New creates the process logger with JSON output to stdout.
func New(level slog.Level) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

func NewWithWriter(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})).With("service", Service)
}
