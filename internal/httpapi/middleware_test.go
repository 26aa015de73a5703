package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/cleanops/opscore/internal/config"
	"github.com/cleanops/opscore/internal/idempotency"
	"github.com/cleanops/opscore/internal/ratelimit"
	"github.com/cleanops/opscore/internal/tenancy"
	"github.com/cleanops/opscore/pkg/cache"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T) *cache.Cache {
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

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
}

func TestIdentityMiddlewareBoundOrgFromHeader(t *testing.T) {
	s := &Server{}
	orgID := uuid.New()

	var captured tenancy.Identity
	h := s.identityMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = tenancy.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/schedule", nil)
	req.Header.Set("X-Identity-Org", orgID.String())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, orgID, captured.OrgID)
}

func TestIdentityMiddlewareUnboundWithoutOverrideIsForbidden(t *testing.T) {
	s := &Server{}
	h := s.identityMiddleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/schedule", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestIdentityMiddlewareUnboundWithTestOrgIsResolved(t *testing.T) {
	s := &Server{}
	orgID := uuid.New()

	var captured tenancy.Identity
	h := s.identityMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = tenancy.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/schedule", nil)
	req.Header.Set("X-Test-Org", orgID.String())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, orgID, captured.OrgID)
}

func TestRateLimitMiddlewareBlocksSecondRequest(t *testing.T) {
	c := setupCache(t)
	s := &Server{limiter: ratelimit.NewLimiter(c)}
	h := s.rateLimitMiddleware("test_action", func() ratelimit.Limit {
		return ratelimit.Limit{Requests: 1, Window: 60 * 1e9}
	})(okHandler())

	org := uuid.New()
	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		return r.WithContext(tenancy.WithIdentity(r.Context(), tenancy.Identity{OrgID: org, Bound: true}))
	}

	rr1 := httptest.NewRecorder()
	h.ServeHTTP(rr1, req())
	require.Equal(t, http.StatusOK, rr1.Code)
	require.NotEmpty(t, rr1.Header().Get("X-RateLimit-Limit"))

	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req())
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	require.NotEmpty(t, rr2.Header().Get("Retry-After"))
}

func TestIdempotentMiddlewareReplaysSecondRequestWithoutReinvokingHandler(t *testing.T) {
	c := setupCache(t)
	calls := 0
	s := &Server{idempotency: idempotency.NewStore(c)}
	h := s.idempotentMiddleware("bulk_update")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"updated":3}`))
	}))

	org := uuid.New()
	newReq := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/v1/admin/bookings/bulk", nil)
		r.Header.Set("Idempotency-Key", "k1")
		return r.WithContext(tenancy.WithIdentity(r.Context(), tenancy.Identity{OrgID: org, Bound: true}))
	}

	rr1 := httptest.NewRecorder()
	h.ServeHTTP(rr1, newReq())
	require.Equal(t, http.StatusOK, rr1.Code)
	require.JSONEq(t, `{"updated":3}`, rr1.Body.String())

	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, newReq())
	require.Equal(t, http.StatusOK, rr2.Code)
	require.JSONEq(t, `{"updated":3}`, rr2.Body.String())

	require.Equal(t, 1, calls, "handler must run exactly once; the second response is a cached replay")
}

func TestIdempotentMiddlewareRequiresKey(t *testing.T) {
	c := setupCache(t)
	s := &Server{idempotency: idempotency.NewStore(c)}
	h := s.idempotentMiddleware("bulk_update")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/bookings/bulk", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}
