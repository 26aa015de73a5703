package idempotency

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/cleanops/opscore/internal/config"
	"github.com/cleanops/opscore/pkg/cache"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	c, err := cache.New(config.RedisConfig{Host: mr.Host(), Port: port, PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return NewStore(c)
}

func TestFirstRequestProceedsSecondReplays(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	rec, found, err := s.Begin(ctx, "org-1", "bulk_update", "k1")
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, rec)

	body, _ := json.Marshal(map[string]int{"updated": 3, "reminders_sent": 3})
	require.NoError(t, s.Finish(ctx, "org-1", "bulk_update", "k1", 200, body))

	rec, found, err = s.Begin(ctx, "org-1", "bulk_update", "k1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 200, rec.StatusCode)
	require.JSONEq(t, string(body), string(rec.Body))
}

func TestConcurrentReservationBlocksSecondCaller(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, found, err := s.Begin(ctx, "org-1", "bulk_update", "k2")
	require.NoError(t, err)
	require.False(t, found)

	_, _, err = s.Begin(ctx, "org-1", "bulk_update", "k2")
	require.ErrorIs(t, err, ErrInProgress)
}

func TestReleaseAllowsRetryAfterFailure(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, found, err := s.Begin(ctx, "org-1", "bulk_update", "k3")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Release(ctx, "org-1", "bulk_update", "k3"))

	_, found, err = s.Begin(ctx, "org-1", "bulk_update", "k3")
	require.NoError(t, err)
	require.False(t, found)
}

func TestKeysAreScopedByOrgAndAction(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	body, _ := json.Marshal(map[string]string{"ok": "yes"})
	require.NoError(t, s.Finish(ctx, "org-1", "bulk_update", "k4", 200, body))

	_, found, err := s.Begin(ctx, "org-2", "bulk_update", "k4")
	require.NoError(t, err)
	require.False(t, found, "a different org must not see org-1's cached response")

	_, found, err = s.Begin(ctx, "org-1", "outbox_replay", "k4")
	require.NoError(t, err)
	require.False(t, found, "a different action must not see the bulk_update response")
}
