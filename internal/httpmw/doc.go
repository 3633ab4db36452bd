// Package httpmw provides HTTP middleware for the public listener.
//
// httpserver.NewHandler composes them outermost first: security headers,
// panic recovery, request ID, client IP, rate limiting, OTEL, trace
// response headers, metrics, request logger, then the chi router
// (which adds route annotation and the access log).
//
// User-supplied data (query strings, user-agent, arbitrary headers) is kept
// out of logs to avoid PII leaks and log injection.
package httpmw
