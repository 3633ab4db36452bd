package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTraceHeader = "X-Trace-Id"
	DefaultSpanHeader  = "X-Span-Id"
)

// TraceResponseHeaders echoes the active trace and span ids on the response
// so a client report can be matched to a trace. Empty names use the defaults.
func TraceResponseHeaders(traceHeader, spanHeader string) Middleware {
	if traceHeader == "" {
		traceHeader = DefaultTraceHeader
	}
	if spanHeader == "" {
		spanHeader = DefaultSpanHeader
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				h := w.Header()
				h.Set(traceHeader, sc.TraceID().String())
				h.Set(spanHeader, sc.SpanID().String())
			}
			next.ServeHTTP(w, r)
		})
	}
}
