package httpmw

import "net/http"

// Middleware is the shape every function in this package returns.
type Middleware = func(http.Handler) http.Handler

// Chain wraps h so that mws[0] runs first on the way in. Nil entries are
// skipped, which lets callers leave optional layers (metrics, tracing)
// unset without branching.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}
