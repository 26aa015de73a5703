// Package ratelimit implements the Operations Core's shared rate limiter
// (spec.md §5): Redis-backed token buckets keyed by (org_id, action).
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cleanops/opscore/internal/apperr"
	"github.com/cleanops/opscore/pkg/cache"
)

// Limit is one (action, window) rate policy.
type Limit struct {
	Requests int64
	Window   time.Duration
}

// Limiter is adapted from the teacher's gateway.RateLimiter: same
// INCR-then-EXPIRE-on-first-increment fixed-window counter against Redis,
// generalized from the teacher's fixed key/environment/tenant layers to a
// single caller-supplied (org_id, action) key with a caller-supplied Limit.
type Limiter struct {
	cache *cache.Cache
}

func NewLimiter(c *cache.Cache) *Limiter {
	return &Limiter{cache: c}
}

// Result carries the information the HTTP boundary needs for
// X-RateLimit-*/Retry-After response headers.
type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Allow implements spec.md §5's "token buckets keyed by (org_id, action)...
// exceeding the limit returns 429 and a Retry-After" contract as a
// fixed-window counter: each window is a distinct Redis key so expiry
// alone resets the bucket, with no separate refill goroutine needed.
func (l *Limiter) Allow(ctx context.Context, orgID, action string, limit Limit) (Result, error) {
	now := time.Now().UTC()
	windowStart := now.Truncate(limit.Window)
	resetAt := windowStart.Add(limit.Window)
	key := bucketKey(orgID, action, windowStart)

	count, err := l.cache.Incr(ctx, key)
	if err != nil {
		return Result{}, apperr.DependencyUnavailable("ratelimit_unavailable", "rate limiter cache error: %v", err)
	}
	if count == 1 {
		// Expiry slightly beyond the window covers clock skew between app
		// and Redis, mirroring the teacher's 65s TTL on a 60s window.
		_ = l.cache.Expire(ctx, key, limit.Window+5*time.Second)
	}

	remaining := limit.Requests - count
	if remaining < 0 {
		remaining = 0
	}

	res := Result{Limit: limit.Requests, Remaining: remaining, ResetAt: resetAt}
	if count > limit.Requests {
		res.Allowed = false
		res.RetryAfter = time.Until(resetAt)
		if res.RetryAfter < time.Second {
			res.RetryAfter = time.Second
		}
		return res, nil
	}
	res.Allowed = true
	return res, nil
}

func bucketKey(orgID, action string, windowStart time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", orgID, action, windowStart.Unix())
}

// Headers renders the standard rate-limit response headers, adapted from
// the teacher's RateLimitInfo.GetRateLimitHeaders.
func (r Result) Headers() map[string]string {
	h := map[string]string{
		"X-RateLimit-Limit":     strconv.FormatInt(r.Limit, 10),
		"X-RateLimit-Remaining": strconv.FormatInt(r.Remaining, 10),
		"X-RateLimit-Reset":     strconv.FormatInt(r.ResetAt.Unix(), 10),
	}
	if !r.Allowed {
		h["Retry-After"] = strconv.FormatInt(int64(r.RetryAfter/time.Second), 10)
	}
	return h
}
