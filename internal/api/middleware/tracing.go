package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracing starts a server span per request and propagates W3C trace
// context. Apply it after CorrelationID so the span carries the request id.
func Tracing(next http.Handler) http.Handler {
	tagged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestID := GetRequestID(r.Context()); requestID != "" {
			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("request_id", requestID))
		}
		next.ServeHTTP(w, r)
	})
	return otelhttp.NewHandler(tagged, "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
		}),
	)
}
