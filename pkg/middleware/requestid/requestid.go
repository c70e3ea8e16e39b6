package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	requestIDTraceKey = "request_id"

	// RequestIDHeader defines the HTTP header that is set in each HTTP response
	// for a given request. The value of the header is unique per request.
	RequestIDHeader = "X-Request-Id"
)

type ctxKey struct{}

// InitID returns the ID to be used to identify the request.
// If trace is enabled, returns trace ID; otherwise returns a new UUID.
func InitID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.TraceID().IsValid() {
		return spanCtx.TraceID().String()
	}
	return uuid.NewString()
}

// FromContext returns the request id stored by the middleware, if any.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}

// NewMiddleware assigns each request an id, echoes it in the response
// headers, and records it on the active trace span. It must come after the
// trace middleware and before the logging middleware.
func NewMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := InitID(ctx)

			w.Header().Set(RequestIDHeader, requestID)
			trace.SpanFromContext(ctx).SetAttributes(attribute.String(requestIDTraceKey, requestID))

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ctxKey{}, requestID)))
		})
	}
}
