package common

import (
	"context"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID    contextKey = "request_id"
	ContextKeyCallingAppID contextKey = "calling_app_id"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithCallingAppID records which application submitted the work.
func WithCallingAppID(ctx context.Context, appID string) context.Context {
	return context.WithValue(ctx, ContextKeyCallingAppID, appID)
}

// CallingAppIDFromContext extracts the calling application id from context
func CallingAppIDFromContext(ctx context.Context) string {
	if appID, ok := ctx.Value(ContextKeyCallingAppID).(string); ok {
		return appID
	}
	return ""
}
