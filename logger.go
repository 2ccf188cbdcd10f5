package nodedb

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/hupe1980/nodedb/node"
	"github.com/hupe1980/nodedb/schema"
)

// Logger wraps slog.Logger with nodedb-specific context.
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
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithDB tags every record with the database instance id.
func (l *Logger) WithDB(id string) *Logger { return l.with("db", id) }

// WithType adds a type field.
func (l *Logger) WithType(id schema.TypeID) *Logger { return l.with("type", id) }

// WithBlock adds type and block fields.
func (l *Logger) WithBlock(typ schema.TypeID, idx uint32) *Logger {
	return l.with("type", typ, "block", idx)
}

// WithNode adds type and node fields.
func (l *Logger) WithNode(typ schema.TypeID, id node.ID) *Logger {
	return l.with("type", typ, "node", id)
}

// LogRegister logs a type registration.
func (l *Logger) LogRegister(ctx context.Context, typ schema.TypeID, fields int, err error) {
	if err != nil {
		l.WarnContext(ctx, "register type failed",
			"type", typ,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "type registered",
			"type", typ,
			"fields", fields,
		)
	}
}

// LogSave logs a dump write. name is the carrier or blob name.
func (l *Logger) LogSave(ctx context.Context, name string, bytes int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "save failed",
			"name", name,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "saved",
			"name", name,
			"bytes", bytes,
		)
	}
}

// LogLoad logs a dump read.
func (l *Logger) LogLoad(ctx context.Context, name string, nodes uint32, err error) {
	if err != nil {
		l.ErrorContext(ctx, "load failed",
			"name", name,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "loaded",
			"name", name,
			"nodes", nodes,
		)
	}
}

// LogExpire logs an expiration tick.
func (l *Logger) LogExpire(ctx context.Context, now int64, fired, pending int) {
	if fired == 0 {
		return
	}
	l.DebugContext(ctx, "expirations fired",
		"now", now,
		"fired", fired,
		"pending", pending,
	)
}

// LogEvict logs an eviction pass.
func (l *Logger) LogEvict(ctx context.Context, blocks, nodes int, usage int64) {
	l.InfoContext(ctx, "blocks evicted",
		"blocks", blocks,
		"nodes", nodes,
		"memory_bytes", usage,
	)
}

// LogCheckpoint logs a checkpoint.
func (l *Logger) LogCheckpoint(ctx context.Context, blocks int, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed",
			"blocks", blocks,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "checkpoint completed",
			"blocks", blocks,
			"bytes", bytes,
		)
	}
}
