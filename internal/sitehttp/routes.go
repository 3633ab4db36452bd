package sitehttp

import (
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-edge/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
)

// HelloBody is the fixed response of GET /test
const HelloBody = "Hello world"

// Rule binds one method and chi pattern to a handler. Rules are registered
// in order and always win over the static fallback.
type Rule struct {
	Method  string
	Pattern string
	Handler http.Handler
}

// DefaultRules returns the concrete routes: GET /test and GET / (index).
func DefaultRules(index http.Handler) []Rule {
	return []Rule{
		{Method: http.MethodGet, Pattern: "/test", Handler: httpmw.Scope("hello")(HelloHandler())},
		{Method: http.MethodGet, Pattern: "/", Handler: httpmw.Scope("index")(index)},
	}
}

type Routes struct {
	Rules  []Rule
	Static http.Handler
}

func New(static http.Handler, rules ...Rule) *Routes {
	return &Routes{Rules: rules, Static: static}
}

// RegisterRoutes registers the rules, then the static handler as the
// NotFound and MethodNotAllowed fallback. Rules match without regard to
// letter case or a trailing slash (GET /TEST/ is GET /test), so patterns
// must be lowercase. It must be called before any route is added to r. Using the fallback rather than a
// /* wildcard keeps concrete routes authoritative for their paths, a
// POST /test reaches the static handler and becomes a 404 like any other
// unmatched request.
func (rt *Routes) RegisterRoutes(r chi.Router) {
	r.Use(looseRoutePath)
	for _, rule := range rt.Rules {
		r.Method(rule.Method, rule.Pattern, rule.Handler)
	}
	if rt.Static != nil {
		r.NotFound(rt.Static.ServeHTTP)
		r.MethodNotAllowed(rt.Static.ServeHTTP)
	}
}

// looseRoutePath lowercases chi's routing path and drops one trailing slash.
// Only route matching sees the change, the static fallback still resolves
// r.URL.Path as sent since files are case sensitive.
func looseRoutePath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			p := rctx.RoutePath
			if p == "" {
				p = r.URL.RawPath
			}
			if p == "" {
				p = r.URL.Path
			}
			if len(p) > 1 {
				p = strings.TrimSuffix(p, "/")
			}
			rctx.RoutePath = strings.ToLower(p)
		}
		next.ServeHTTP(w, r)
	})
}

// HelloHandler answers with the fixed plain text body.
func HelloHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write([]byte(HelloBody))
		}
	})
}

// IndexHandler serves name from fsys for GET /. The file is read on every
// request so edits to a configured directory show up without a restart.
// A missing index is a 404, other read errors are logged and also a 404.
func IndexHandler(fsys fs.FS, name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.FromContext(r.Context()).Error(r.Context(), err, "read index document", "file", name)
			}
			w.Header().Set("Cache-Control", "no-store")
			http.Error(w, "404 page not found", http.StatusNotFound)
			return
		}
		h := w.Header()
		ct := mime.TypeByExtension(path.Ext(name))
		if ct == "" {
			ct = http.DetectContentType(body)
		}
		h.Set("Content-Type", ct)
		h.Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(body)
		}
	})
}
