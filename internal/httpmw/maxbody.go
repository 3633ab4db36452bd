package httpmw

import "net/http"

// MaxBody caps request bodies at n bytes. Nothing on the public listener
// reads a body, the cap keeps a client from streaming one at us anyway.
// Reads past the cap fail with *http.MaxBytesError.
func MaxBody(n int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
