package context

import "context"

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey struct{ name string }

// requestIDKey holds the correlation id of the inbound request being observed.
var requestIDKey = contextKey{name: "telescope_request_id"}

// WithRequestID scopes ctx to one observed request. Everything that runs with
// a context derived from the result (handlers, query hooks, goroutines started
// with the exception hook) reports the same id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the correlation id carried by ctx, or "" outside any
// request scope.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

var suppressKey = contextKey{name: "telescope_suppress_capture"}

// WithoutCapture marks ctx as Telescope's own work. Query hooks skip
// statements issued under it, so persisting an entry never records more
// entries.
func WithoutCapture(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey, true)
}

// CaptureSuppressed reports whether ctx was marked by WithoutCapture.
func CaptureSuppressed(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	suppressed, _ := ctx.Value(suppressKey).(bool)
	return suppressed
}
