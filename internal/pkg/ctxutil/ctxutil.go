package ctxutil

import "context"

type traceDataKey struct{}

// TraceData carries request correlation ids from the HTTP edge into
// background pipelines.
type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	if td, ok := ctx.Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}

// Default returns context.Background() when ctx is nil.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// Detach keeps the values of ctx (trace ids, spans) but drops its
// cancellation, so accepted work outlives the request that submitted it.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(Default(ctx))
}
