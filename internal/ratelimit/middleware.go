package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/keithlinneman/linnemanlabs-edge/internal/httpmw"
)

const deniedBody = "Too many requests, please try again later."

// ceilSeconds rounds d up to whole seconds, at least 1
func ceilSeconds(d time.Duration) int64 {
	s := int64(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// Middleware returns middleware that rejects requests over the per-client limit with 429.
// Every response carries X-RateLimit-Limit/Remaining/Reset, where Reset is the unix time the budget is restored.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// resolved by httpmw.ClientIP, which decides whether X-Forwarded-For can be trusted
		ip := httpmw.ClientIPFromContext(r.Context())

		d := l.Take(ip)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(l.now().Unix()+ceilSeconds(d.ResetAfter), 10))

		if !d.Allowed {
			h.Set("Retry-After", strconv.FormatInt(ceilSeconds(d.ResetAfter), 10))
			h.Set("Content-Type", "text/plain; charset=utf-8")
			h.Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(deniedBody))
			return
		}

		next.ServeHTTP(w, r)
	})
}
