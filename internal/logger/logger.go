package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ContextKey is the type for context keys used in logging
type ContextKey string

const (
	// UploadIDKey is the context key for upload_id
	UploadIDKey ContextKey = "upload_id"
	// CorrelationIDKey is the context key for correlation_id
	CorrelationIDKey ContextKey = "correlation_id"
	// CreatorIDKey is the context key for the authenticated creator (session subject)
	CreatorIDKey ContextKey = "creator_id"
)

var defaultLogger *slog.Logger

// Init initializes the global structured logger on stdout.
// format is "json" or "text"; level is one of debug, info, warn, error.
func Init(level, format string) {
	InitWithWriter(os.Stdout, level, format)
}

// InitWithWriter is Init with an explicit destination
func InitWithWriter(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// ParseLevel converts a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// WithUploadID returns a context carrying the upload id for log lines
func WithUploadID(ctx context.Context, uploadID string) context.Context {
	return context.WithValue(ctx, UploadIDKey, uploadID)
}

// WithCorrelationID returns a context carrying the correlation id for log lines
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// WithCreatorID returns a context carrying the creator id for log lines
func WithCreatorID(ctx context.Context, creatorID string) context.Context {
	return context.WithValue(ctx, CreatorIDKey, creatorID)
}

// CorrelationIDFrom returns the correlation id stored in ctx, if any
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(CorrelationIDKey).(string)
	return id
}

// CreatorIDFrom returns the creator id stored in ctx, if any
func CreatorIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(CreatorIDKey).(string)
	return id
}

// WithContext creates a logger with context values (upload_id, correlation_id, creator_id)
func WithContext(ctx context.Context) *slog.Logger {
	logger := defaultLogger
	if logger == nil {
		logger = slog.Default()
	}

	if uploadID, ok := ctx.Value(UploadIDKey).(string); ok && uploadID != "" {
		logger = logger.With("upload_id", uploadID)
	}

	if correlationID, ok := ctx.Value(CorrelationIDKey).(string); ok && correlationID != "" {
		logger = logger.With("correlation_id", correlationID)
	}

	if creatorID, ok := ctx.Value(CreatorIDKey).(string); ok && creatorID != "" {
		logger = logger.With("creator_id", creatorID)
	}

	return logger
}

// Info logs an info message with context
func Info(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Info(msg, args...)
}

// Error logs an error message with context
func Error(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Error(msg, args...)
}

// Warn logs a warning message with context
func Warn(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Warn(msg, args...)
}

// Debug logs a debug message with context
func Debug(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Debug(msg, args...)
}

// LogStatusTransition logs a tracked upload status transition
func LogStatusTransition(ctx context.Context, uploadID string, oldStatus, newStatus string) {
	logger := WithContext(ctx).With(
		"upload_id", uploadID,
		"old_status", oldStatus,
		"new_status", newStatus,
		"timestamp", time.Now().UTC(),
	)
	logger.Info("Upload status transition")
}

// LogSlowOperation logs operations that exceed the threshold
func LogSlowOperation(ctx context.Context, operation string, duration time.Duration) {
	if duration > time.Second {
		logger := WithContext(ctx).With(
			"operation", operation,
			"duration_ms", duration.Milliseconds(),
		)
		logger.Warn("Slow operation detected")
	}
}

// LogError logs an error with its message
func LogError(ctx context.Context, msg string, err error, args ...any) {
	logger := WithContext(ctx)
	allArgs := append([]any{"error", err.Error()}, args...)
	logger.Error(msg, allArgs...)
}
