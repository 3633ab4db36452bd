package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// recordRequest serves req through a chi router wrapped in a recording span
// and returns the ended span.
func recordRequest(t *testing.T, r chi.Router, method, target string) sdktrace.ReadOnlySpan {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "initial")
	req := httptest.NewRequest(method, target, http.NoBody).WithContext(ctx)
	r.ServeHTTP(httptest.NewRecorder(), req)
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	return ended[0]
}

func routeAttr(s sdktrace.ReadOnlySpan) string {
	for _, kv := range s.Attributes() {
		if kv.Key == attribute.Key("http.route") {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestAnnotateHTTPRoute_MatchedRoute(t *testing.T) {
	r := chi.NewRouter()
	r.Use(AnnotateHTTPRoute)
	r.Get("/test", func(w http.ResponseWriter, r *http.Request) {})

	s := recordRequest(t, r, http.MethodGet, "/test")
	if s.Name() != "GET /test" {
		t.Fatalf("span name = %q, want %q", s.Name(), "GET /test")
	}
	if routeAttr(s) != "/test" {
		t.Fatalf("http.route = %q", routeAttr(s))
	}
}

func TestAnnotateHTTPRoute_Unmatched(t *testing.T) {
	r := chi.NewRouter()
	r.Use(AnnotateHTTPRoute)
	r.Get("/test", func(w http.ResponseWriter, r *http.Request) {})

	s := recordRequest(t, r, http.MethodGet, "/assets/app.9f8e.js")
	if s.Name() != "GET "+UnmatchedRoute {
		t.Fatalf("span name = %q, want bounded name", s.Name())
	}
}

func TestAnnotateHTTPRoute_NoSpan(t *testing.T) {
	called := false
	h := AnnotateHTTPRoute(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if !called {
		t.Fatal("handler not called")
	}
	if trace.SpanFromContext(context.Background()).IsRecording() {
		t.Fatal("background context should not carry a recording span")
	}
}

func TestRoutePattern_NoRouteContext(t *testing.T) {
	if got := RoutePattern(httptest.NewRequest(http.MethodGet, "/x", http.NoBody)); got != UnmatchedRoute {
		t.Fatalf("RoutePattern = %q, want %q", got, UnmatchedRoute)
	}
}
