package logging

import "context"

type ctxKey struct{}

// RequestIDKey is the attribute both backends attach when the context
// carries a request id.
const RequestIDKey = "request_id"

// WithRequestID returns a context whose log lines are tagged with id.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func withContextArgs(ctx context.Context, args []any) []any {
	if id := RequestID(ctx); id != "" {
		out := make([]any, 0, len(args)+2)
		return append(append(out, args...), RequestIDKey, id)
	}
	return args
}
