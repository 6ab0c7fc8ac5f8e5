package nss

import (
	"io"
	"log/slog"
)

// Logger receives the structured logs of servers, sessions, transports and
// clients. Keys follow slog conventions ("session", "addr", "error"), so a
// *slog.Logger satisfies it directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// defaultLogger is used by every component built without a logger option.
func defaultLogger() Logger {
	return slog.Default()
}

// NopLogger returns a logger that discards everything. Tests and embedders
// that report through Notifiers only use it to silence the library.
func NopLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
