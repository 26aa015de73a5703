// Package httpapi wires the Operations Core's HTTP surface (spec.md §6):
// admin scheduling endpoints, the payments checkout/webhook endpoints, and
// the outbox/export dead-letter admin endpoints, behind a shared
// middleware chain (request id, recovery, CORS, rate limiting, Idempotency-
// Key replay). Grounded on the teacher's internal/gateway.Gateway: a single
// struct owning a chi.Mux, built once in setupRoutes, with group-scoped
// middleware per API surface.
package httpapi

import (
	"net/http"
	"time"

	"github.com/cleanops/opscore/internal/idempotency"
	"github.com/cleanops/opscore/internal/outbox"
	"github.com/cleanops/opscore/internal/payments"
	"github.com/cleanops/opscore/internal/ratelimit"
	"github.com/cleanops/opscore/internal/scheduling"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Server holds the dependencies setupRoutes wires into handlers.
type Server struct {
	router      *chi.Mux
	scheduling  *scheduling.Service
	payments    *payments.Service
	outbox      *outbox.Service
	limiter     *ratelimit.Limiter
	idempotency *idempotency.Store
	logger      *zap.Logger

	limits              RateLimits
	stripeWebhookSecret string
}

// RateLimits holds the per-action policies applied by the rate limit
// middleware (spec.md §5); callers set these from config at startup.
type RateLimits struct {
	Default      ratelimit.Limit
	BulkUpdate   ratelimit.Limit
	ManualReplay ratelimit.Limit
}

// DefaultRateLimits mirrors the teacher's hardcoded fallbacks when config
// does not override them.
var DefaultRateLimits = RateLimits{
	Default:      ratelimit.Limit{Requests: 120, Window: time.Minute},
	BulkUpdate:   ratelimit.Limit{Requests: 10, Window: time.Minute},
	ManualReplay: ratelimit.Limit{Requests: 30, Window: time.Minute},
}

// Deps bundles the application services the HTTP layer dispatches into.
type Deps struct {
	Scheduling          *scheduling.Service
	Payments            *payments.Service
	Outbox              *outbox.Service
	Limiter             *ratelimit.Limiter
	Idempotency         *idempotency.Store
	Logger              *zap.Logger
	CORSOrigins         []string
	RateLimits          RateLimits
	StripeWebhookSecret string
}

// NewServer builds the router and registers every route.
func NewServer(d Deps) *Server {
	limits := d.RateLimits
	if limits.Default.Requests == 0 {
		limits = DefaultRateLimits
	}
	s := &Server{
		router:              chi.NewRouter(),
		scheduling:          d.Scheduling,
		payments:            d.Payments,
		outbox:              d.Outbox,
		limiter:             d.Limiter,
		idempotency:         d.Idempotency,
		logger:              d.Logger,
		limits:              limits,
		stripeWebhookSecret: d.StripeWebhookSecret,
	}
	s.setupRoutes(d.CORSOrigins)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes(corsOrigins []string) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestIDResponseMiddleware)
	s.router.Use(s.loggerMiddleware)
	s.router.Use(metricsMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Test-Org"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleHealth)

	s.router.Post("/v1/payments/stripe/webhook", s.handleStripeWebhook)
	s.router.Post("/v1/webhooks/stripe", s.handleStripeWebhook) // legacy alias

	s.router.Group(func(r chi.Router) {
		r.Use(s.identityMiddleware)
		r.Use(s.rateLimitMiddleware("default", func() ratelimit.Limit { return s.limits.Default }))

		r.Get("/v1/admin/schedule", s.handleGetSchedule)
		r.Get("/v1/admin/schedule/suggestions", s.handleGetSuggestions)
		r.Get("/v1/admin/schedule/conflicts", s.handleGetConflicts)
		r.Post("/v1/admin/schedule/{booking_id}/move", s.handleMoveBooking)
		r.Post("/v1/admin/schedule/block", s.handleBlockSlot)

		r.With(s.idempotentMiddleware("bulk_update"), s.rateLimitMiddleware("bulk_update", func() ratelimit.Limit { return s.limits.BulkUpdate })).
			Post("/v1/admin/bookings/bulk", s.handleBulkUpdate)

		r.Post("/v1/admin/bookings/{booking_id}/confirm", s.handleConfirmBooking)
		r.Post("/v1/admin/bookings/{booking_id}/cancel", s.handleCancelBooking)
		r.Post("/v1/admin/bookings/{booking_id}/reschedule", s.handleRescheduleBooking)
		r.Post("/v1/admin/bookings/{booking_id}/complete", s.handleCompleteBooking)

		r.Post("/v1/payments/deposit/checkout", s.handleDepositCheckout)
		r.Post("/v1/payments/invoice/checkout", s.handleInvoiceCheckout)

		r.Get("/v1/admin/outbox/dead-letter", s.handleListDeadLetters)
		r.With(s.idempotentMiddleware("outbox_replay"), s.rateLimitMiddleware("outbox_replay", func() ratelimit.Limit { return s.limits.ManualReplay })).
			Post("/v1/admin/outbox/{event_id}/replay", s.handleReplayOutboxEvent)

		r.Get("/v1/admin/export-dead-letter", s.handleListExportDeadLetters)
		r.With(s.idempotentMiddleware("export_replay"), s.rateLimitMiddleware("export_replay", func() ratelimit.Limit { return s.limits.ManualReplay })).
			Post("/v1/admin/export-dead-letter/{event_id}/replay", s.handleReplayExportEvent)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
