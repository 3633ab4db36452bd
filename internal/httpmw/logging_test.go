package httpmw

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
)

type capturedLog struct {
	msg    string
	fields []any
}

// flatLogger captures With() and Info() calls for test assertions.
// Returns itself from With() so all calls land in one place.
type flatLogger struct {
	mu    sync.Mutex
	infos []capturedLog
	withs [][]any
}

func newFlatLogger() *flatLogger { return &flatLogger{} }

func (l *flatLogger) With(kv ...any) log.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withs = append(l.withs, kv)
	return l
}

func (l *flatLogger) Info(_ context.Context, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, capturedLog{msg: msg, fields: kv})
}

func (l *flatLogger) Debug(context.Context, string, ...any)        {}
func (l *flatLogger) Warn(context.Context, string, ...any)         {}
func (l *flatLogger) Error(context.Context, error, string, ...any) {}
func (l *flatLogger) Sync() error                                  { return nil }

func (l *flatLogger) lastInfo() (capturedLog, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.infos) == 0 {
		return capturedLog{}, false
	}
	return l.infos[len(l.infos)-1], true
}

func (l *flatLogger) infoCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.infos)
}

func (l *flatLogger) withField(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, kv := range l.withs {
		if v, ok := fieldValue(kv, key); ok {
			return v, true
		}
	}
	return nil, false
}

func fieldValue(fields []any, key string) (any, bool) {
	for i := 0; i+1 < len(fields); i += 2 {
		if k, ok := fields[i].(string); ok && k == key {
			return fields[i+1], true
		}
	}
	return nil, false
}

type flusherRecorder struct {
	*httptest.ResponseRecorder
	flushed bool
}

func (f *flusherRecorder) Flush() { f.flushed = true }

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

// responseWriter

func TestResponseWriter_StatusAndBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, ctx: context.Background()}

	rw.Write([]byte("hello "))
	rw.Write([]byte("world"))

	if rw.status != http.StatusOK {
		t.Fatalf("status = %d, want 200 default", rw.status)
	}
	if rw.bytes != 11 {
		t.Fatalf("bytes = %d, want 11", rw.bytes)
	}

	rec = httptest.NewRecorder()
	rw = &responseWriter{ResponseWriter: rec, ctx: context.Background()}
	rw.WriteHeader(http.StatusNotFound)
	rw.Write([]byte("nope"))
	if rw.status != http.StatusNotFound || rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d/%d, want 404", rw.status, rec.Code)
	}
}

func TestResponseWriter_FlushAndHijack(t *testing.T) {
	fr := &flusherRecorder{ResponseRecorder: httptest.NewRecorder()}
	(&responseWriter{ResponseWriter: fr}).Flush()
	if !fr.flushed {
		t.Fatal("Flush should reach the underlying writer")
	}

	hr := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	if _, _, err := (&responseWriter{ResponseWriter: hr}).Hijack(); err != nil || !hr.hijacked {
		t.Fatalf("Hijack should reach the underlying writer: %v", err)
	}

	if _, _, err := (&responseWriter{ResponseWriter: httptest.NewRecorder()}).Hijack(); err == nil {
		t.Fatal("Hijack should fail when unsupported")
	}
}

func TestResponseWriter_Unwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	if (&responseWriter{ResponseWriter: rec}).Unwrap() != rec {
		t.Fatal("Unwrap should return the wrapped writer")
	}
}

func TestResponseWriter_FinishWriteSpan_NilSpan(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), ctx: context.Background()}
	rw.WriteHeader(http.StatusOK)
	rw.finishWriteSpan()
}

// schemeFromRequest

func TestSchemeFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		target string
		xfp    string
		tls    bool
		want   string
	}{
		{"xfp https", "/", "https", false, "https"},
		{"xfp case insensitive", "/", "HTTPS", false, "https"},
		{"xfp takes first", "/", "https, http", false, "https"},
		{"xfp whitespace trimmed", "/", "  https  ", false, "https"},
		{"xfp invalid falls through", "/", "ftp", false, "http"},
		{"xfp injection rejected", "/", "https\r\nX-Injected: evil", false, "http"},
		{"xfp null byte rejected", "/", "https\x00evil", false, "http"},
		{"absolute url", "https://example.com/path", "", false, "https"},
		{"tls", "/", "", true, "https"},
		{"xfp beats tls", "/", "http", true, "http"},
		{"default", "/", "", false, "http"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, http.NoBody)
			if tt.xfp != "" {
				r.Header["X-Forwarded-Proto"] = []string{tt.xfp}
			}
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			} else {
				r.TLS = nil
			}
			if got := schemeFromRequest(r); got != tt.want {
				t.Fatalf("scheme = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSchemeFromRequest_URLSchemeInvalid(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/path", http.NoBody)
	r.URL.Scheme = "gopher"
	if got := schemeFromRequest(r); got != "http" {
		t.Fatalf("scheme = %q, want http", got)
	}
}

// WithLogger

func TestWithLogger_EnrichesContext(t *testing.T) {
	fl := newFlatLogger()

	var ctxLogger log.Logger
	h := WithLogger(fl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxLogger = log.FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/test?secret=1", http.NoBody)
	req.RemoteAddr = "10.0.0.1:12345"
	req = req.WithContext(WithRequestID(WithClientIP(req.Context(), "203.0.113.9"), "req-1"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if ctxLogger != fl {
		t.Fatal("request logger not stored in context")
	}
	want := map[string]any{
		"request_id":           "req-1",
		"client.address":       "203.0.113.9",
		"network.peer.address": "10.0.0.1",
		"http.request.method":  http.MethodGet,
		"url.path":             "/test",
		"url.scheme":           "http",
	}
	for k, v := range want {
		got, ok := fl.withField(k)
		if !ok || got != v {
			t.Errorf("%s = %v, want %v", k, got, v)
		}
	}
	if _, ok := fl.withField("url.query"); ok {
		t.Error("query strings must not be logged")
	}
}

func TestWithLogger_ClientFallsBackToPeer(t *testing.T) {
	fl := newFlatLogger()
	h := WithLogger(fl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "198.51.100.4:999"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got, _ := fl.withField("client.address"); got != "198.51.100.4" {
		t.Fatalf("client.address = %v, want peer address (raw XFF never trusted here)", got)
	}
}

// AccessLog

func serveLogged(fl *flatLogger, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req = req.WithContext(log.WithContext(req.Context(), fl))
	AccessLog()(h).ServeHTTP(rec, req)
	return rec
}

func TestAccessLog_LogsRequest(t *testing.T) {
	fl := newFlatLogger()
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})
	serveLogged(fl, h, httptest.NewRequest(http.MethodGet, "/pot", http.NoBody))

	entry, ok := fl.lastInfo()
	if !ok || entry.msg != "http request" {
		t.Fatalf("expected access log entry, got %+v", entry)
	}
	if v, _ := fieldValue(entry.fields, "http.response.status_code"); v != http.StatusTeapot {
		t.Errorf("status = %v", v)
	}
	if v, _ := fieldValue(entry.fields, "http.response.body.size"); v != int64(15) {
		t.Errorf("body size = %v", v)
	}
	if v, _ := fieldValue(entry.fields, "http.route"); v != "/pot" {
		t.Errorf("route = %v, want path fallback", v)
	}
	if _, ok := fieldValue(entry.fields, "http.server.request.duration"); !ok {
		t.Error("duration missing")
	}
}

func TestAccessLog_DefaultStatus200(t *testing.T) {
	fl := newFlatLogger()
	serveLogged(fl, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	entry, _ := fl.lastInfo()
	if v, _ := fieldValue(entry.fields, "http.response.status_code"); v != http.StatusOK {
		t.Fatalf("status = %v, want 200", v)
	}
}

func TestAccessLog_SkipsSuccessfulStaticAssets(t *testing.T) {
	fl := newFlatLogger()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	for _, p := range []string{"/app.js", "/style.CSS", "/logo.png", "/fonts/a.woff2"} {
		serveLogged(fl, ok, httptest.NewRequest(http.MethodGet, p, http.NoBody))
	}
	if n := fl.infoCount(); n != 0 {
		t.Fatalf("static assets logged %d times, want 0", n)
	}

	missing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	serveLogged(fl, missing, httptest.NewRequest(http.MethodGet, "/missing.js", http.NoBody))
	if n := fl.infoCount(); n != 1 {
		t.Fatalf("failed asset fetch should be logged, count = %d", n)
	}
}

func TestAccessLog_NoLoggerInContext(t *testing.T) {
	rec := httptest.NewRecorder()
	AccessLog()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAccessLog_WithChiRoutePattern(t *testing.T) {
	fl := newFlatLogger()
	r := chi.NewRouter()
	r.Use(AccessLog())
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/items/42", http.NoBody)
	req = req.WithContext(log.WithContext(req.Context(), fl))
	r.ServeHTTP(httptest.NewRecorder(), req)

	entry, _ := fl.lastInfo()
	if v, _ := fieldValue(entry.fields, "http.route"); v != "/items/{id}" {
		t.Fatalf("route = %v, want pattern", v)
	}
}

// Scope

func TestScope_EnrichesLogger(t *testing.T) {
	fl := newFlatLogger()
	called := false
	h := Scope("static")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req = req.WithContext(log.WithContext(req.Context(), fl))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Fatal("handler not called")
	}
	if v, _ := fl.withField("handler"); v != "static" {
		t.Fatalf("handler field = %v", v)
	}
}

func FuzzSchemeFromRequest(f *testing.F) {
	f.Add("https")
	f.Add("HTTP, https")
	f.Add("\x00")
	f.Fuzz(func(t *testing.T, xfp string) {
		r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		r.Header["X-Forwarded-Proto"] = []string{xfp}
		if s := schemeFromRequest(r); !validSchemes[s] {
			t.Fatalf("scheme %q outside the allowed set", s)
		}
	})
}
