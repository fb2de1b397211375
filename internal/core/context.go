package core

import "context"

type contextKey int

const (
	flowIDKey contextKey = iota
	runIDKey
)

// WithFlowID tags ctx with the flow being executed. Empty IDs are ignored.
func WithFlowID(ctx context.Context, flowID string) context.Context {
	return withString(ctx, flowIDKey, flowID)
}

// WithRunID tags ctx with the current run.
func WithRunID(ctx context.Context, runID string) context.Context {
	return withString(ctx, runIDKey, runID)
}

func FlowIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, flowIDKey)
}

func RunIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, runIDKey)
}

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if ctx == nil || value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
