// Package logging holds the slog helpers shared by mcapkit components.
//
// Loggers are injected through options and never read from a global. A
// component that receives no logger uses Discard, and scopes the logger it
// keeps once, at construction:
//
//	logger := logging.Default(cfg.logger).With("component", "crop")
//
// Log calls sit at lifecycle boundaries (open, fallback, completion) and
// never inside record decode loops.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns logger, or a discard logger when logger is nil.
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}

	return Discard()
}

// ParseLevel maps a level name (debug, info, warn, error) to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// NewText creates a text logger writing to w at the given level.
// Only binaries call this; library code receives its logger from options.
func NewText(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
