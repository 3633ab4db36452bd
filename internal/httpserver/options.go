package httpserver

import (
	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-edge/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	// OnPanic is called after a recovered panic, e.g. to increment a prometheus counter
	OnPanic      func()
	MetricsMW    httpmw.Middleware
	RateLimitMW  httpmw.Middleware
	ClientIPOpts httpmw.ClientIPOptions
	// Routes registers the concrete routes and the static fallback
	Routes func(chi.Router)
	// MaxBodyBytes caps request bodies, 0 uses DefaultMaxBodyBytes
	MaxBodyBytes int64
}
