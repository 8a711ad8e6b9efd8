package logger

import "context"

// contextKey keeps the request-id value private to this package.
type contextKey struct{}

var requestIDKey = contextKey{}

// WithRequestID stores the request id on the context so every log line
// emitted while relaying a turn can be tied back to its HTTP request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id from the context, or "" when the
// request did not pass through the request-id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
