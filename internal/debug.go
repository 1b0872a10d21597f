// Package internal holds small data structures shared across the stcp
// packages that are not part of the public API: a byte ring buffer used for
// the application staging buffers, an exponential backoff helper used by
// blocking Conn.Read/Write calls, and a slog helper that adds a TraceLevel
// below Debug for the very chatty per-segment logging the control block and
// event loop emit.
package internal

import (
	"context"
	"log/slog"
)

// LevelTrace sits below slog.LevelDebug and is used for per-segment tracing
// that would otherwise drown out regular debug logs.
const LevelTrace slog.Level = slog.LevelDebug - 4

// LogAttrs is the logging choke point used by every package-level logger
// helper (see stcp's logger type). Centralizing it here means the nil-logger
// check only needs to be written once.
func LogAttrs(l *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if l != nil {
		l.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

// Enabled reports whether l would emit a record at the given level, treating
// a nil logger as always disabled.
func Enabled(l *slog.Logger, lvl slog.Level) bool {
	return l != nil && l.Handler().Enabled(context.Background(), lvl)
}
