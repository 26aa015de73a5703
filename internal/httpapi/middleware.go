package httpapi

import (
	"bytes"
	"net/http"
	"time"

	"github.com/cleanops/opscore/internal/obsmetrics"
	"github.com/cleanops/opscore/internal/ratelimit"
	"github.com/cleanops/opscore/internal/tenancy"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// requestIDResponseMiddleware surfaces chi's request id on the response,
// adapted from the teacher's identically named middleware.
func requestIDResponseMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-ID", id)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.logger == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// metricsMiddleware records request counts/latency by route pattern so
// cardinality stays bounded (chi's RouteContext exposes the matched
// pattern, not the raw path with its ids).
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		obsmetrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		obsmetrics.HTTPRequestDurationSeconds.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// identityMiddleware resolves the acting tenancy.Identity. Authentication
// itself is out of scope (spec.md §1): the identity is trusted from
// whatever fronts this service, and is read here as an already-resolved
// X-Identity-Role/X-Identity-Org pair. X-Test-Org is honored only for
// identities that arrive unbound, per spec.md §6.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := r.Header.Get("X-Identity-Role")
		if role == "" {
			role = "admin"
		}
		id := tenancy.Identity{Subject: r.Header.Get("X-Identity-Subject"), Role: role}

		if boundOrg := r.Header.Get("X-Identity-Org"); boundOrg != "" {
			orgID, err := uuid.Parse(boundOrg)
			if err != nil {
				writeError(w, errInvalidArgument("invalid_identity_org", "X-Identity-Org is not a uuid"))
				return
			}
			id.Bound = true
			id.OrgID = orgID
		}

		var overridePtr *uuid.UUID
		if override := r.Header.Get("X-Test-Org"); override != "" {
			orgID, err := uuid.Parse(override)
			if err != nil {
				writeError(w, errInvalidArgument("invalid_test_org", "X-Test-Org is not a uuid"))
				return
			}
			overridePtr = &orgID
		}

		orgID, err := tenancy.ResolveOrg(id, overridePtr)
		if err != nil {
			writeError(w, err)
			return
		}
		id.OrgID = orgID
		id.Bound = true

		ctx := tenancy.WithIdentity(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimitMiddleware applies internal/ratelimit keyed by (org_id, action),
// writing the standard rate-limit headers on every response per spec.md §5.
func (s *Server) rateLimitMiddleware(action string, limit func() ratelimit.Limit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			id, _ := tenancy.FromContext(r.Context())
			res, err := s.limiter.Allow(r.Context(), id.OrgID.String(), action, limit())
			if err != nil {
				writeError(w, err)
				return
			}
			for k, v := range res.Headers() {
				w.Header().Set(k, v)
			}
			if !res.Allowed {
				writeError(w, errRateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// capturingWriter buffers the handler's response so idempotentMiddleware
// can cache it after a successful (or failed) run.
type capturingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capturingWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *capturingWriter) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// idempotentMiddleware implements spec.md §6's Idempotency-Key contract for
// routes that require it: a missing header is a 400, a concurrent in-flight
// request with the same key is a 409, and a re-seen key within the TTL
// replays the first response verbatim without re-running the handler.
func (s *Server) idempotentMiddleware(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				writeError(w, errInvalidArgument("idempotency_key_required", "Idempotency-Key header is required for this operation"))
				return
			}
			id, _ := tenancy.FromContext(r.Context())
			orgID := id.OrgID.String()

			rec, found, err := s.idempotency.Begin(r.Context(), orgID, action, key)
			if err != nil {
				writeError(w, err)
				return
			}
			if found {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(rec.StatusCode)
				_, _ = w.Write(rec.Body)
				return
			}

			cw := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(cw, r)

			if err := s.idempotency.Finish(r.Context(), orgID, action, key, cw.status, cw.body.Bytes()); err != nil && s.logger != nil {
				s.logger.Warn("idempotency: failed to finalize record", zap.String("action", action), zap.Error(err))
			}
		})
	}
}
