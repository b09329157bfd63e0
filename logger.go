package biginbox

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with loader-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithCollection adds a collection id field to the logger.
func (l *Logger) WithCollection(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("collection", id),
	}
}

// WithChunk adds a chunk id field to the logger.
func (l *Logger) WithChunk(chunkID int) *Logger {
	return &Logger{
		Logger: l.Logger.With("chunk", chunkID),
	}
}

// LogChunkLoad logs a chunk load and which tier served it.
func (l *Logger) LogChunkLoad(ctx context.Context, chunkID int, tier string, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "chunk load failed",
			"chunk", chunkID,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "chunk loaded",
			"chunk", chunkID,
			"tier", tier,
			"duration", duration,
		)
	}
}

// LogSoftMiss logs an item that was absent after a successful chunk load.
func (l *Logger) LogSoftMiss(ctx context.Context, itemID string, chunkID int) {
	l.WarnContext(ctx, "item not found in hinted chunk",
		"item", itemID,
		"chunk", chunkID,
	)
}

// LogPrefetch logs a prefetch attempt. Failures are expected and never
// surface to callers, so they log at debug.
func (l *Logger) LogPrefetch(ctx context.Context, chunkID int, err error) {
	if err != nil {
		l.DebugContext(ctx, "prefetch failed",
			"chunk", chunkID,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "prefetch completed",
			"chunk", chunkID,
		)
	}
}

// LogStoreWrite logs a persistent-tier write-through result.
func (l *Logger) LogStoreWrite(ctx context.Context, chunkID int, err error) {
	if err != nil {
		l.WarnContext(ctx, "persistent cache write failed",
			"chunk", chunkID,
			"error", err,
		)
	}
}
