package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"
)

// Algorithm selects how a single client's budget is tracked.
type Algorithm string

const (
	// FixedWindow allows max requests per window, the counter resets when the window that opened on the client's first request elapses.
	FixedWindow Algorithm = "fixed-window"
	// TokenBucket allows bursts of max, refilling max tokens evenly over each window.
	TokenBucket Algorithm = "token-bucket"
)

func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case FixedWindow, TokenBucket:
		return a, nil
	default:
		return "", fmt.Errorf("unknown rate limit algorithm %q (valid are %s|%s)", s, FixedWindow, TokenBucket)
	}
}

// Decision is the outcome of one Take call.
type Decision struct {
	Allowed bool
	// Limit is the configured ceiling per window
	Limit int
	// Remaining is how many more requests the key may make before being denied
	Remaining int
	// ResetAfter is how long until the budget is restored (window rollover, or next token for a denied token bucket)
	ResetAfter time.Duration
}

// budget tracks one key's usage, callers hold the owning visitor's lock
type budget interface {
	take(now time.Time) (allowed bool, remaining int, resetAfter time.Duration)
}

type fixedWindow struct {
	start  time.Time
	count  int
	max    int
	window time.Duration
}

func (f *fixedWindow) take(now time.Time) (bool, int, time.Duration) {
	if f.start.IsZero() || now.Sub(f.start) >= f.window {
		f.start = now
		f.count = 0
	}
	resetAfter := f.start.Add(f.window).Sub(now)
	if f.count >= f.max {
		return false, 0, resetAfter
	}
	f.count++
	return true, f.max - f.count, resetAfter
}

type tokenBucket struct {
	lim *rate.Limiter
}

func newTokenBucket(max int, window time.Duration) *tokenBucket {
	every := window / time.Duration(max)
	if every <= 0 {
		every = time.Nanosecond
	}
	return &tokenBucket{lim: rate.NewLimiter(rate.Every(every), max)}
}

func (b *tokenBucket) take(now time.Time) (bool, int, time.Duration) {
	ok := b.lim.AllowN(now, 1)
	tokens := b.lim.TokensAt(now)
	perSec := float64(b.lim.Limit())

	remaining := int(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}
	var missing float64
	if ok {
		missing = float64(b.lim.Burst()) - tokens
	} else {
		missing = 1 - tokens
	}
	if missing < 0 {
		missing = 0
	}
	return ok, remaining, time.Duration(missing / perSec * float64(time.Second))
}

// visitor is one client's rate limit window plus bookkeeping
type visitor struct {
	mu       sync.Mutex
	budget   budget
	lastSeen time.Time
	// denying is true from the first denial until the next allowed request, so OnFirstDenied fires once per episode
	denying bool
	// evicted is set by cleanup under mu, holders of a stale pointer must look the key up again
	evicted bool
}

const numShards = 64

type shard struct {
	mu       sync.Mutex
	visitors map[string]*visitor
}

// IPLimiter holds per-client windows in a sharded map with background eviction
type IPLimiter struct {
	shards [numShards]shard
	size   atomic.Int64

	algorithm Algorithm
	max       int
	window    time.Duration

	// ttl controls how long an idle client stays in the map before cleanup evicts it
	ttl time.Duration

	// maxVisitors caps tracked clients, new clients are denied at capacity.
	// 0, the default, disables the cap
	maxVisitors int
	atCapacity  atomic.Bool

	now func() time.Time

	// OnFirstDenied is called on the first denial of a client after it was last allowed
	OnFirstDenied func(ip string)
	// OnDenied is called on every denied request
	OnDenied func(ip string)
	// OnCapacity is called once each time the visitor cap is reached
	OnCapacity func()
}

type Option func(*IPLimiter)

// WithLimit allows max requests per window for each client.
func WithLimit(max int, window time.Duration) Option {
	return func(l *IPLimiter) {
		l.max = max
		l.window = window
	}
}

func WithAlgorithm(a Algorithm) Option {
	return func(l *IPLimiter) {
		l.algorithm = a
	}
}

// WithTTL controls how long an idle client stays tracked. Values shorter
// than the window are raised to the window so a client cannot reset its
// counter by pausing.
func WithTTL(d time.Duration) Option {
	return func(l *IPLimiter) {
		l.ttl = d
	}
}

// WithMaxVisitors bounds memory by denying clients never seen before once n
// are tracked, until the sweep evicts idle ones. Those clients are limited
// without having used their budget, so the cap is off unless set.
func WithMaxVisitors(n int) Option {
	return func(l *IPLimiter) {
		l.maxVisitors = n
	}
}

// WithClock replaces time.Now, used by tests to step through windows.
func WithClock(now func() time.Time) Option {
	return func(l *IPLimiter) {
		l.now = now
	}
}

// WithOnFirstDenied sets a callback for the first denial of each episode, used for logging.
// Separate from OnDenied so offenders are logged once but counted on every request.
func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) {
		l.OnFirstDenied = fn
	}
}

// WithOnDenied sets a callback for every denied request, used for prometheus counters
func WithOnDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) {
		l.OnDenied = fn
	}
}

// WithOnCapacity sets a callback fired when the visitor cap starts rejecting new clients
func WithOnCapacity(fn func()) Option {
	return func(l *IPLimiter) {
		l.OnCapacity = fn
	}
}

// New creates an IPLimiter and starts the background cleanup goroutine,
// which stops when ctx is cancelled.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		algorithm:   FixedWindow,
		max:         100,
		window:      15 * time.Minute,
		now:         time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.max < 1 {
		l.max = 1
	}
	if l.window <= 0 {
		l.window = time.Second
	}
	if l.ttl < l.window {
		l.ttl = l.window
	}
	for i := range l.shards {
		l.shards[i].visitors = make(map[string]*visitor)
	}
	go l.cleanup(ctx)
	return l
}

func (l *IPLimiter) Limit() int            { return l.max }
func (l *IPLimiter) Window() time.Duration { return l.window }
func (l *IPLimiter) Algorithm() Algorithm  { return l.algorithm }

// Len reports how many clients are currently tracked.
func (l *IPLimiter) Len() int { return int(l.size.Load()) }

func (l *IPLimiter) shardFor(key string) *shard {
	return &l.shards[xxhash.Sum64String(key)%numShards]
}

func (l *IPLimiter) newBudget() budget {
	if l.algorithm == TokenBucket {
		return newTokenBucket(l.max, l.window)
	}
	return &fixedWindow{max: l.max, window: l.window}
}

// reserveSlot claims room for one more visitor, false when the cap is reached
func (l *IPLimiter) reserveSlot() bool {
	for {
		n := l.size.Load()
		if l.maxVisitors > 0 && n >= int64(l.maxVisitors) {
			return false
		}
		if l.size.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// lookup returns the visitor for key, creating it if needed. nil means the
// key is new and the limiter is at capacity.
func (l *IPLimiter) lookup(key string) *visitor {
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.visitors[key]; ok {
		return v
	}
	if !l.reserveSlot() {
		return nil
	}
	v := &visitor{budget: l.newBudget(), lastSeen: l.now()}
	s.visitors[key] = v
	return v
}

// Take records one request for key and reports whether it may proceed.
// Check and increment happen under the key's own lock, different keys
// only share a shard lock for the map lookup.
func (l *IPLimiter) Take(key string) Decision {
	d := Decision{Limit: l.max}

	var (
		v         *visitor
		firstDeny bool
	)
	for {
		v = l.lookup(key)
		if v == nil {
			return l.denyAtCapacity(key, d)
		}
		v.mu.Lock()
		if !v.evicted {
			break
		}
		// lost a race with cleanup, the key has been removed from its shard
		v.mu.Unlock()
	}

	now := l.now()
	v.lastSeen = now
	d.Allowed, d.Remaining, d.ResetAfter = v.budget.take(now)
	if d.Allowed {
		v.denying = false
	} else if !v.denying {
		v.denying = true
		firstDeny = true
	}
	v.mu.Unlock()

	// hooks may do slow work, never call them under a lock
	if !d.Allowed {
		if firstDeny && l.OnFirstDenied != nil {
			l.OnFirstDenied(key)
		}
		if l.OnDenied != nil {
			l.OnDenied(key)
		}
	}
	return d
}

func (l *IPLimiter) denyAtCapacity(key string, d Decision) Decision {
	d.Allowed = false
	d.Remaining = 0
	// room frees up on the next sweep at the earliest
	d.ResetAfter = l.sweepInterval()
	if l.atCapacity.CompareAndSwap(false, true) && l.OnCapacity != nil {
		l.OnCapacity()
	}
	if l.OnDenied != nil {
		l.OnDenied(key)
	}
	return d
}

func (l *IPLimiter) sweepInterval() time.Duration {
	return l.ttl / 2
}

// cleanup periodically evicts visitors that haven't been seen within the TTL.
func (l *IPLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep(l.now())
		}
	}
}

// sweep evicts idle visitors one shard at a time so requests for other shards are never blocked
func (l *IPLimiter) sweep(now time.Time) int {
	evicted := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for key, v := range s.visitors {
			v.mu.Lock()
			if now.Sub(v.lastSeen) > l.ttl {
				v.evicted = true
				delete(s.visitors, key)
				evicted++
			}
			v.mu.Unlock()
		}
		s.mu.Unlock()
	}
	if evicted > 0 {
		l.size.Add(int64(-evicted))
		l.atCapacity.Store(false)
	}
	return evicted
}
