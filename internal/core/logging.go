package core

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// WithLogger attaches a slog logger to the context. Runs attach one carrying
// flow_id and run_id so processors log with correlation fields.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext returns the logger attached to ctx, or fallback, or slog.Default().
func LoggerFromContext(ctx context.Context, fallback ...*slog.Logger) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	for _, logger := range fallback {
		if logger != nil {
			return logger
		}
	}
	return slog.Default()
}
