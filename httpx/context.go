package httpx

import "context"

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyCorrelationID
)

// WithRequestID returns a new context that carries a request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFrom extracts the request ID from ctx.
func RequestIDFrom(ctx context.Context) (string, bool) {
	return stringFrom(ctx, ctxKeyRequestID)
}

// WithCorrelationID returns a new context that carries a correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// CorrelationIDFrom extracts the correlation ID from ctx.
func CorrelationIDFrom(ctx context.Context) (string, bool) {
	return stringFrom(ctx, ctxKeyCorrelationID)
}

func stringFrom(ctx context.Context, key ctxKey) (string, bool) {
	s, ok := ctx.Value(key).(string)
	return s, ok && s != ""
}
