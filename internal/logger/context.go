package logger

import "context"

// ctxKey is unexported so request IDs stored here cannot collide with
// values from other packages.
type ctxKey struct{}

var requestIDKey ctxKey

// WithRequestID stores the request ID for retrieval by downstream handlers
// and log records.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID stored in ctx, or "" outside a request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
