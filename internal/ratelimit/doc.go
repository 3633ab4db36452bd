// Package ratelimit is middleware for per-client request rate limiting.
//
// # Simple in-memory implementation, not shared between instances or distributed
//
// Each client (keyed by the IP resolved by httpmw.ClientIP) gets its own
// window: by default 100 requests per 15 minutes, counted from the client's
// first request in the window. Once the ceiling is reached every further
// request is rejected with 429 until the window rolls over.
//
// Windows live in a sharded map. The map lookup takes a shard lock, the
// check-and-increment takes only the client's own lock, so unrelated clients
// do not serialize behind each other. A background sweep evicts clients idle
// for longer than the TTL (never shorter than the window).
//
// What this does NOT protect against:
//   - distributed attacks across many ips
//   - bandwidth-bill attacks, inbound data is already accepted by the time this runs
package ratelimit
