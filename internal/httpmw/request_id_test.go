package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var ctxID string
	h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if len(ctxID) != 32 {
		t.Fatalf("generated id = %q, want 32 hex chars", ctxID)
	}
	if rec.Header().Get(DefaultRequestIDHeader) != ctxID {
		t.Fatal("response header should echo the context id")
	}
}

func TestRequestID_PropagatesExisting(t *testing.T) {
	var ctxID string
	h := RequestID("X-Correlation-Id")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-Correlation-Id", "Root=1-abc_def.1:2")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// '=' is outside the accepted set so the id is regenerated
	if ctxID == "Root=1-abc_def.1:2" || len(ctxID) != 32 {
		t.Fatalf("id with '=' should have been replaced, got %q", ctxID)
	}

	req.Header.Set("X-Correlation-Id", "abc-123_def.1:2")
	h.ServeHTTP(rec, req)
	if ctxID != "abc-123_def.1:2" {
		t.Fatalf("ctx id = %q, want propagated value", ctxID)
	}
}

func TestRequestID_RejectsUnsafe(t *testing.T) {
	for _, id := range []string{"a\r\nX-Evil: 1", strings.Repeat("a", maxRequestIDLen+1), "has space", "quote\""} {
		if validRequestID(id) {
			t.Errorf("validRequestID(%q) = true", id)
		}
	}
	if !validRequestID(strings.Repeat("a", maxRequestIDLen)) {
		t.Error("max length id should be accepted")
	}
}

func TestRequestID_UniquePerRequest(t *testing.T) {
	seen := make(map[string]bool)
	h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i := 0; i < 100; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
		id := rec.Header().Get(DefaultRequestIDHeader)
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestRequestIDFromContext_NoValue(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
	if got := RequestIDFromContext(WithRequestID(context.Background(), "")); got != "" {
		t.Fatalf("empty id should not be stored, got %q", got)
	}
}
