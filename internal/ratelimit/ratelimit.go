// Package ratelimit throttles unauthenticated phone checks, credential attempts
// and per-user API traffic with in-process token buckets keyed by an arbitrary
// string (normally a normalized phone or a user id).
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy allows Limit events per Window. A non-positive Limit disables the
// limiter.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Result is the outcome of a single Check.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// ResetAtMillis returns ResetAt as epoch milliseconds.
func (r Result) ResetAtMillis() int64 {
	return r.ResetAt.UnixMilli()
}

const (
	disabledRemaining = 999
	sweepThreshold    = 4096
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	name     string
	policy   Policy
	every    rate.Limit
	perToken time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	nowFn   func() time.Time
}

// New builds a Limiter. name prefixes keys so several limiters never collide
// when sharing a backing store.
func New(name string, policy Policy) *Limiter {
	l := &Limiter{
		name:    name,
		policy:  policy,
		buckets: make(map[string]*bucket),
		nowFn:   time.Now,
	}
	if policy.Limit > 0 && policy.Window > 0 {
		l.perToken = policy.Window / time.Duration(policy.Limit)
		l.every = rate.Every(l.perToken)
	}
	return l
}

// WithClock overrides the time provider (used primarily in tests).
func (l *Limiter) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		l.nowFn = nowFn
	}
}

// Name returns the limiter's key prefix.
func (l *Limiter) Name() string {
	return l.name
}

// Enabled reports whether the limiter enforces anything.
func (l *Limiter) Enabled() bool {
	return l != nil && l.every > 0
}

// Check consumes one event for key.
func (l *Limiter) Check(key string) Result {
	if !l.Enabled() {
		return Result{Allowed: true, Remaining: disabledRemaining, ResetAt: time.Now()}
	}

	now := l.nowFn()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) >= sweepThreshold {
		l.sweep(now)
	}

	k := l.name + ":" + key
	b, ok := l.buckets[k]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.every, l.policy.Limit)}
		l.buckets[k] = b
	}
	b.lastSeen = now

	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)

	res := Result{
		Allowed:   allowed,
		Remaining: int(math.Max(0, math.Floor(tokens))),
		ResetAt:   now.Add(l.refillDuration(float64(l.policy.Limit) - tokens)),
	}
	if !allowed {
		res.RetryAfter = l.refillDuration(1 - tokens)
	}
	return res
}

// refillDuration is the time needed to accumulate n tokens.
func (l *Limiter) refillDuration(n float64) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n * float64(l.perToken))
}

// sweep drops buckets idle for a full window; they would be full again anyway.
func (l *Limiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.policy.Window {
			delete(l.buckets, k)
		}
	}
}

// Set groups the limiters used by the API.
type Set struct {
	PhoneCheck *Limiter
	Auth       *Limiter
	API        *Limiter
}

// NewSet builds the phone-check, credential-attempt and per-user API limiters.
func NewSet(phoneCheck, auth, api Policy) Set {
	return Set{
		PhoneCheck: New("phone-check", phoneCheck),
		Auth:       New("pin-attempt", auth),
		API:        New("api", api),
	}
}
