// Package logging adapts github.com/phuslu/log to this module's narrow
// service.Logger contract so the rest of the codebase never imports the
// logging library directly.
package logging

import (
	"context"
	"os"

	plog "github.com/phuslu/log"

	"github.com/recipeai/transcribe-worker/internal/domain/service"
)

// Logger wraps a phuslu/log.Logger and carries a fixed set of fields applied
// to every subsequent line via With.
type Logger struct {
	base   plog.Logger
	fields []any
}

var _ service.Logger = (*Logger)(nil)

// New creates a logger writing structured JSON lines to stderr at the given
// level ("debug", "info", "warn", "error"; anything else defaults to info).
func New(level string) *Logger {
	return &Logger{
		base: plog.Logger{
			Level:      parseLevel(level),
			Writer:     &plog.IOWriter{Writer: os.Stderr},
			TimeFormat: "2006-01-02T15:04:05Z07:00",
		},
	}
}

func parseLevel(level string) plog.Level {
	switch level {
	case "debug":
		return plog.DebugLevel
	case "warn":
		return plog.WarnLevel
	case "error":
		return plog.ErrorLevel
	default:
		return plog.InfoLevel
	}
}

func (l *Logger) entry(e *plog.Entry) *plog.Entry {
	for i := 0; i+1 < len(l.fields); i += 2 {
		key, _ := l.fields[i].(string)
		e = e.Interface(key, l.fields[i+1])
	}
	return e
}

func (l *Logger) withArgs(e *plog.Entry, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, _ := args[i].(string)
		e = e.Interface(key, args[i+1])
	}
}

func (l *Logger) Debug(msg string, args ...any) {
	e := l.entry(l.base.Debug())
	l.withArgs(e, args)
	e.Msg(msg)
}

func (l *Logger) Info(msg string, args ...any) {
	e := l.entry(l.base.Info())
	l.withArgs(e, args)
	e.Msg(msg)
}

func (l *Logger) Warn(msg string, args ...any) {
	e := l.entry(l.base.Warn())
	l.withArgs(e, args)
	e.Msg(msg)
}

func (l *Logger) Error(msg string, args ...any) {
	e := l.entry(l.base.Error())
	l.withArgs(e, args)
	e.Msg(msg)
}

// With returns a new Logger carrying the given key-value pairs on every
// subsequent line, in addition to any inherited from a parent With call.
func (l *Logger) With(args ...any) service.Logger {
	merged := make([]any, 0, len(l.fields)+len(args))
	merged = append(merged, l.fields...)
	merged = append(merged, args...)
	return &Logger{base: l.base, fields: merged}
}

// WithContext is a no-op seam today; kept so call sites can uniformly pass a
// request-scoped context without caring whether tracing fields are attached.
func (l *Logger) WithContext(_ context.Context) service.Logger {
	return l
}

// Silent returns a logger that discards everything, for tests.
func Silent() *Logger {
	return &Logger{base: plog.Logger{Level: plog.PanicLevel + 1, Writer: &plog.IOWriter{Writer: discard{}}}}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
