// Package ratelimit implements a best-effort fixed-window request counter
// on top of Redis.
//
// Each check is a GET followed by a SET.  There is no transaction around
// the pair, so two requests racing in the same window can both read the
// same count and under-count; a lost write can also over-count later.
// That is acceptable for abuse mitigation and must not be relied on as an
// exact quota.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTLBuffer is added to the window length when persisting a counter so a
// counter always outlives its own window and a denial is never forgotten
// early.
const TTLBuffer = 60 * time.Second

// DefaultPrefix namespaces counter keys: <prefix>:<identifier>:<windowStart>.
const DefaultPrefix = "ratelimit"

// Result is the outcome of a single Check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetTime time.Time
	// FailedOpen is set when the store could not be used and the request
	// was allowed without counting.
	FailedOpen bool
}

// counter is the JSON value stored per (identifier, window).
type counter struct {
	Count       int   `json:"count"`
	WindowStart int64 `json:"windowStart"`
	ResetTime   int64 `json:"resetTime"`
}

// Limiter counts requests per identifier in aligned windows.
type Limiter struct {
	rdb    redis.Cmdable
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option { return func(l *Limiter) { l.prefix = prefix } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(l *Limiter) { l.now = now } }

// WithLogger sets the logger used to report fail-open decisions.
func WithLogger(logger *slog.Logger) Option { return func(l *Limiter) { l.logger = logger } }

// New returns a Limiter backed by rdb.
func New(rdb redis.Cmdable, opts ...Option) *Limiter {
	l := &Limiter{rdb: rdb, prefix: DefaultPrefix, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check records one request for identifier and reports whether it fits in
// limit requests per window.  The counter is incremented whether or not the
// request is allowed.  Any store failure allows the request.
func (l *Limiter) Check(ctx context.Context, identifier string, limit int, window time.Duration) Result {
	windowSeconds := int64(window / time.Second)
	if windowSeconds < 1 {
		windowSeconds = 1
	}
	now := l.now().Unix()
	windowStart := now / windowSeconds * windowSeconds
	resetTime := windowStart + windowSeconds
	key := fmt.Sprintf("%s:%s:%d", l.prefix, identifier, windowStart)

	failOpen := func(op string, err error) Result {
		l.logger.WarnContext(ctx, "rate limiter store unavailable, allowing request",
			"operation", op, "key", key, "error", err)
		return Result{
			Allowed:    true,
			Limit:      limit,
			Remaining:  limit,
			ResetTime:  time.Unix(resetTime, 0),
			FailedOpen: true,
		}
	}

	var current counter
	data, err := l.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		// first request in this window
	case err != nil:
		return failOpen("get", err)
	default:
		if err := json.Unmarshal(data, &current); err != nil {
			// An unreadable counter is overwritten rather than trusted.
			current = counter{}
		}
	}

	count := current.Count
	allowed := count < limit

	next, err := json.Marshal(counter{Count: count + 1, WindowStart: windowStart, ResetTime: resetTime})
	if err != nil {
		return failOpen("encode", err)
	}
	ttl := time.Duration(windowSeconds)*time.Second + TTLBuffer
	if err := l.rdb.Set(ctx, key, next, ttl).Err(); err != nil {
		return failOpen("set", err)
	}

	remaining := limit - (count + 1)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetTime: time.Unix(resetTime, 0),
	}
}
