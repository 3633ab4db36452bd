package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// unknownClient is the key used when the peer address cannot be parsed
const unknownClient = "0.0.0.0"

// ClientIPOptions configures client IP extraction behavior.
type ClientIPOptions struct {
	// TrustedHops is the number of trusted reverse proxies between the client
	// and this server. 0 = no proxies (X-Forwarded-For ignored), 1 = single
	// load balancer (rightmost XFF entry), 2 = CDN + LB (second from end), etc.
	TrustedHops int
}

// ClientIPWithOptions returns middleware that resolves the client IP using the
// given options. The result is the rate limiting key, so it is always a
// canonical IP string (never a port, never raw header text).
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractRealClientAddr(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// stripForwarded removes proxy headers so nothing downstream trusts them by accident
func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

// canonicalIP renders ip in one form so v4-mapped v6 and v4 share a key
func canonicalIP(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}

// extractRealClientAddr returns the client address for r. X-Forwarded-For is
// only considered when the peer is a private or loopback address and
// trustedHops > 0, in which case the Nth entry from the end is used.
// Too few entries fails closed to the peer address.
func extractRealClientAddr(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		return unknownClient
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// no port, e.g. unix socket listeners or tests
		host = r.RemoteAddr
	}

	peer := net.ParseIP(host)
	if peer == nil {
		stripForwarded(r)
		return unknownClient
	}
	clientAddr := canonicalIP(peer)

	if trustedHops <= 0 || !(peer.IsPrivate() || peer.IsLoopback()) {
		stripForwarded(r)
		return clientAddr
	}

	xf := r.Header.Get("X-Forwarded-For")
	if xf == "" {
		return clientAddr
	}
	parts := strings.Split(xf, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		// fewer entries than configured proxies, misconfiguration or spoofing
		stripForwarded(r)
		return clientAddr
	}
	if candidate := net.ParseIP(strings.TrimSpace(parts[idx])); candidate != nil {
		return canonicalIP(candidate)
	}
	return clientAddr
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
