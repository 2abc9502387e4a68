// Package logging provides a tiny abstraction over slog so downstream code can
// depend on a minimal interface (Logger) while allowing callers to plug any
// structured logger into the orchestration core.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger defines the minimal structured logging interface used throughout the
// orchestration core. Arguments follow slog conventions (alternating key,
// value pairs).
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewJSONLogger creates a Logger writing JSON records at the given level.
// Pass nil output to write to stdout.
func NewJSONLogger(output io.Writer, level slog.Level) Logger {
	if output == nil {
		output = os.Stdout
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	return NewSlogAdapter(slog.New(handler))
}

// With returns a Logger carrying the given attributes on every record.
func With(logger Logger, args ...any) Logger {
	if sa, ok := logger.(*SlogAdapter); ok {
		return &SlogAdapter{Logger: sa.Logger.With(args...)}
	}
	return &prefixLogger{inner: logger, args: args}
}

// prefixLogger appends fixed attributes for non-slog implementations.
type prefixLogger struct {
	inner Logger
	args  []any
}

func (p *prefixLogger) Debug(msg string, args ...any) { p.inner.Debug(msg, append(p.args, args...)...) }
func (p *prefixLogger) Info(msg string, args ...any)  { p.inner.Info(msg, append(p.args, args...)...) }
func (p *prefixLogger) Warn(msg string, args ...any)  { p.inner.Warn(msg, append(p.args, args...)...) }
func (p *prefixLogger) Error(msg string, args ...any) { p.inner.Error(msg, append(p.args, args...)...) }

// NoOpLogger discards all log messages. Useful for testing or when logging is
// disabled.
type NoOpLogger struct{}

// Debug discards the message.
func (NoOpLogger) Debug(string, ...any) {}

// Info discards the message.
func (NoOpLogger) Info(string, ...any) {}

// Warn discards the message.
func (NoOpLogger) Warn(string, ...any) {}

// Error discards the message.
func (NoOpLogger) Error(string, ...any) {}
