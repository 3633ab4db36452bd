package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-edge/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
	"github.com/keithlinneman/linnemanlabs-edge/internal/xerrors"
)

// DefaultMaxBodyBytes caps request bodies, nothing served here reads one.
const DefaultMaxBodyBytes = 1024

// untraced paths never get a server span
var untraced = map[string]bool{
	"/favicon.ico": true,
	"/favicon.svg": true,
	"/robots.txt":  true,
}

var untracedExt = map[string]bool{
	".css": true, ".js": true, ".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".svg": true, ".ico": true, ".woff": true, ".woff2": true, ".map": true,
}

func shouldTrace(r *http.Request) bool {
	p := r.URL.Path
	if untraced[p] {
		return false
	}
	return !untracedExt[strings.ToLower(path.Ext(p))]
}

func newRouter(opts *Options) chi.Router {
	r := chi.NewRouter()

	// HEAD is answered by the GET route with the body discarded
	r.Use(middleware.GetHead)

	// Compress text responses (HTML/CSS/JS/JSON/SVG)
	r.Use(middleware.Compress(5,
		"text/html",
		"text/css",
		"text/plain",
		"application/javascript",
		"text/javascript",
		"application/json",
		"image/svg+xml",
		"image/x-icon",
	))

	// Annotate the server span with http.route once chi has matched
	r.Use(httpmw.AnnotateHTTPRoute)

	r.Use(httpmw.AccessLog())

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	r.Use(httpmw.MaxBody(maxBody))

	if opts.Routes != nil {
		opts.Routes(r)
	}
	return r
}

// NewHandler builds the public handler: the chi router wrapped in the
// middleware chain, outermost first:
//
//	security headers, recover, request id, client ip, tracing,
//	trace headers, metrics, rate limit, request logger, router
//
// Rate limiting sits inside metrics and tracing so rejected requests are
// still counted and traced, and outside the router so a limited client
// never touches the filesystem.
func NewHandler(opts *Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	var recoverMW httpmw.Middleware
	if opts.UseRecoverMW {
		recoverMW = httpmw.Recover(opts.Logger, opts.OnPanic)
	}

	tracing := func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(
			next,
			"http.server",
			otelhttp.WithFilter(shouldTrace),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				// AnnotateHTTPRoute renames the span to the route pattern
				return r.Method + " " + httpmw.UnmatchedRoute
			}),
			otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
		)
	}

	return httpmw.Chain(newRouter(opts),
		httpmw.SecurityHeaders,
		recoverMW,
		httpmw.RequestID(httpmw.DefaultRequestIDHeader),
		httpmw.ClientIPWithOptions(opts.ClientIPOpts),
		tracing,
		httpmw.TraceResponseHeaders(httpmw.DefaultTraceHeader, httpmw.DefaultSpanHeader),
		opts.MetricsMW,
		opts.RateLimitMW,
		httpmw.WithLogger(opts.Logger),
	)
}

// Server timeout defaults
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start public HTTP server
// Returns stop(ctx) for graceful shutdown
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)

	handler := NewHandler(opts)
	srv := NewServer(addr, handler)
	srv.BaseContext = func(net.Listener) context.Context { return context.WithoutCancel(ctx) }

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen on %s", addr)
	}

	go func() {
		opts.Logger.Info(ctx, "http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opts.Logger.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			opts.Logger.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
