package service

import "context"

// Logger abstracts structured logging operations so call sites never bind
// directly to a logging library.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)

	// With returns a new logger with the given key-value pairs attached to
	// every subsequent line.
	With(args ...any) Logger

	// WithContext returns a new logger carrying values extracted from ctx.
	WithContext(ctx context.Context) Logger
}
