package ratelimit

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cleanops/opscore/internal/config"
	"github.com/cleanops/opscore/pkg/cache"
	"github.com/stretchr/testify/require"
)

func setupLimiterCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	c, err := cache.New(config.RedisConfig{Host: mr.Host(), Port: port, PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestAllowWithinLimit(t *testing.T) {
	c := setupLimiterCache(t)
	l := NewLimiter(c)
	limit := Limit{Requests: 2, Window: time.Minute}

	res, err := l.Allow(context.Background(), "org-1", "resend_email", limit)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, int64(1), res.Remaining)

	res, err = l.Allow(context.Background(), "org-1", "resend_email", limit)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, int64(0), res.Remaining)
}

func TestExceedingLimitReturnsRetryAfter(t *testing.T) {
	c := setupLimiterCache(t)
	l := NewLimiter(c)
	limit := Limit{Requests: 1, Window: time.Minute}

	_, err := l.Allow(context.Background(), "org-1", "resend_email", limit)
	require.NoError(t, err)

	res, err := l.Allow(context.Background(), "org-1", "resend_email", limit)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Greater(t, res.RetryAfter, time.Duration(0))

	headers := res.Headers()
	require.Contains(t, headers, "Retry-After")
}

func TestBucketsAreIsolatedByOrgAndAction(t *testing.T) {
	c := setupLimiterCache(t)
	l := NewLimiter(c)
	limit := Limit{Requests: 1, Window: time.Minute}

	_, err := l.Allow(context.Background(), "org-1", "resend_email", limit)
	require.NoError(t, err)

	res, err := l.Allow(context.Background(), "org-2", "resend_email", limit)
	require.NoError(t, err)
	require.True(t, res.Allowed, "a different org must have its own bucket")

	res, err = l.Allow(context.Background(), "org-1", "export_replay", limit)
	require.NoError(t, err)
	require.True(t, res.Allowed, "a different action must have its own bucket")
}
