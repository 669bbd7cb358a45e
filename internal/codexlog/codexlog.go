// Package codexlog provides the structured logging wrapper shared by every
// component package: a thin layer over log/slog that attaches a constant
// "component" attribute and extracts well-known correlation fields
// (submission id, conversation id, call id) from context.
package codexlog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ContextKey is the type for context keys this package reads and writes.
type ContextKey string

const (
	// ConversationIDKey is the context key for the owning conversation id.
	ConversationIDKey ContextKey = "conversation_id"

	// SubmissionIDKey is the context key for the current submission id.
	SubmissionIDKey ContextKey = "submission_id"

	// CallIDKey is the context key for the current tool-call id.
	CallIDKey ContextKey = "call_id"
)

// Config configures the logging behavior.
type Config struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format specifies output format: "json" or "text". JSON is recommended
	// for production; text for interactive development.
	Format string

	// Output is the writer for log output (defaults to os.Stderr, matching
	// the CLI convention of keeping stdout reserved for turn output).
	Output io.Writer

	// AddSource includes file and line number in log records.
	AddSource bool
}

// Logger attaches a component name to every record it emits and pulls
// correlation fields out of the context passed to each call.
type Logger struct {
	logger *slog.Logger
}

// New creates a component-scoped logger from the given configuration.
//
// If cfg.Output is nil, logs are written to os.Stderr. If cfg.Level is empty
// or unrecognized, it defaults to "info". If cfg.Format is empty, it
// defaults to "json".
func New(component string, cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     levelFromString(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	return &Logger{logger: slog.New(handler).With("component", component)}
}

// levelFromString converts a string to a slog.Level, defaulting to Info.
func levelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithFields returns a new Logger with the given key-value pairs attached
// to every subsequent record.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...)}
}

// Debug logs a debug-level message with context-derived correlation fields.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs an info-level message with context-derived correlation fields.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs a warning-level message with context-derived correlation fields.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs an error-level message with context-derived correlation fields.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	attrs := make([]any, 0, len(args)+6)

	if v, ok := ctx.Value(ConversationIDKey).(string); ok && v != "" {
		attrs = append(attrs, "conversation_id", v)
	}
	if v, ok := ctx.Value(SubmissionIDKey).(string); ok && v != "" {
		attrs = append(attrs, "submission_id", v)
	}
	if v, ok := ctx.Value(CallIDKey).(string); ok && v != "" {
		attrs = append(attrs, "call_id", v)
	}

	attrs = append(attrs, args...)
	l.logger.Log(ctx, level, msg, attrs...)
}

// WithConversationID returns a derived context carrying a conversation id
// for subsequent log calls to pick up.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, id)
}

// WithSubmissionID returns a derived context carrying a submission id.
func WithSubmissionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SubmissionIDKey, id)
}

// WithCallID returns a derived context carrying a tool-call id.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CallIDKey, id)
}
