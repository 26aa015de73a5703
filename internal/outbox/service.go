package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cleanops/opscore/internal/apperr"
	"github.com/cleanops/opscore/internal/breaker"
	"github.com/cleanops/opscore/internal/obsmetrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// txRunner is the slice of *storage.Store this package needs (see
// internal/scheduling's identical seam for the rationale).
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Adapter delivers one outbox Kind. Implementations (email via Resend,
// export via whatever sink) are swapped in at wiring time.
type Adapter interface {
	Kind() Kind
	Deliver(ctx context.Context, event Event) error
}

// Service implements the Outbox & Delivery Pipeline (spec.md §4.4).
type Service struct {
	store    txRunner
	breakers *breaker.BreakerRegistry
	adapters map[Kind]Adapter
	retry    map[Kind]RetryConfig
	logger   *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config bundles the pipeline's tunables.
type Config struct {
	BreakerConfig breaker.BreakerConfig
	Retry         map[Kind]RetryConfig // per-kind override; falls back to DefaultRetryConfig
}

// NewService wires the outbox's dependencies. Adapters are registered
// afterward via RegisterAdapter so each adapter can itself depend on the
// Service for EnqueueEmail-driven dead-letter bookkeeping without a cycle.
func NewService(store txRunner, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		breakers: breaker.NewBreakerRegistry(cfg.BreakerConfig),
		adapters: make(map[Kind]Adapter),
		retry:    cfg.Retry,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// RegisterAdapter attaches a delivery adapter for one kind.
func (s *Service) RegisterAdapter(a Adapter) {
	s.adapters[a.Kind()] = a
}

func (s *Service) retryConfig(k Kind) RetryConfig {
	if c, ok := s.retry[k]; ok {
		return c
	}
	return DefaultRetryConfig
}

// EnqueueEmail implements payments.Enqueuer: it composes an EmailEvent and
// writes it as the JSON payload of a single outbox_events row of kind
// email, in the caller's transaction so enqueue is atomic with whatever
// business change triggered it. No separate email_events row is written.
func (s *Service) EnqueueEmail(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, dedupeKey, recipient, subject, body string, bookingID, invoiceID *uuid.UUID, emailType string) error {
	payload, err := json.Marshal(EmailEvent{
		OrgID: orgID, DedupeKey: dedupeKey, Recipient: recipient,
		Subject: subject, Body: body, BookingID: bookingID, InvoiceID: invoiceID, EmailType: emailType,
	})
	if err != nil {
		return apperr.Internal(err)
	}
	return s.enqueueTx(ctx, tx, orgID, KindEmail, dedupeKey, payload)
}

// Enqueue is the generic, non-email entry point (e.g. export events).
func (s *Service) Enqueue(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, kind Kind, dedupeKey string, payload []byte) error {
	return s.enqueueTx(ctx, tx, orgID, kind, dedupeKey, payload)
}

func (s *Service) enqueueTx(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, kind Kind, dedupeKey string, payload []byte) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO outbox_events (event_id, org_id, kind, status, attempts, next_attempt_at, payload, dedupe_key)
		 VALUES ($1,$2,$3,$4,0,now(),$5,$6)
		 ON CONFLICT (org_id, dedupe_key) DO NOTHING`,
		uuid.New(), orgID, kind, StatusPending, payload, dedupeKey,
	)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// StartWorker launches the periodic delivery sweep, modeled on the
// teacher's aggregationLoop ticker combined with the NexusCRM
// StartWorker/StopWorker stopCh+WaitGroup shutdown contract.
func (s *Service) StartWorker(ctx context.Context, interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.sweep(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// StopWorker requests the worker loop stop and waits for it to exit.
func (s *Service) StopWorker() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// sweep fetches due events and processes each one independently, mirroring
// NexusCRM's ProcessOutbox/processEventAtomic split.
func (s *Service) sweep(ctx context.Context) {
	events, err := s.fetchDue(ctx, 100)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("outbox sweep: fetch due failed", zap.Error(err))
		}
		return
	}
	for _, e := range events {
		if err := s.processOne(ctx, e); err != nil && s.logger != nil {
			s.logger.Warn("outbox sweep: event failed", zap.String("event_id", e.EventID.String()), zap.Error(err))
		}
	}
	s.reportBacklog(ctx)
	s.reportBreakerState()
}

// reportBacklog gauges pending count and oldest-pending lag per kind
// (spec.md §4.4's OutboxPendingTotal/OutboxLagSeconds).
func (s *Service) reportBacklog(ctx context.Context) {
	rows, err := s.backlogByKind(ctx)
	if err != nil {
		return
	}
	for kind, info := range rows {
		obsmetrics.OutboxPendingTotal.WithLabelValues(string(kind)).Set(float64(info.count))
		obsmetrics.OutboxLagSeconds.WithLabelValues(string(kind)).Set(info.lagSeconds)
	}
}

type backlogInfo struct {
	count      int
	lagSeconds float64
}

func (s *Service) backlogByKind(ctx context.Context) (map[Kind]backlogInfo, error) {
	out := make(map[Kind]backlogInfo)
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT kind, COUNT(*), COALESCE(EXTRACT(EPOCH FROM (now() - MIN(created_at))), 0)
			 FROM outbox_events WHERE status = 'pending' GROUP BY kind`,
		)
		if err != nil {
			return apperr.Internal(err)
		}
		defer rows.Close()
		for rows.Next() {
			var kind Kind
			var info backlogInfo
			if err := rows.Scan(&kind, &info.count, &info.lagSeconds); err != nil {
				return apperr.Internal(err)
			}
			out[kind] = info
		}
		return rows.Err()
	})
	return out, err
}

// reportBreakerState gauges each registered adapter's circuit state, the
// deferred wiring flagged in DESIGN.md's payments "Simplification" entry.
func (s *Service) reportBreakerState() {
	for kind := range s.adapters {
		state := s.breakers.For(string(kind)).State()
		var v float64
		switch state {
		case breaker.BreakerOpen:
			v = 1
		case breaker.BreakerHalfOpen:
			v = 2
		}
		obsmetrics.CircuitBreakerState.WithLabelValues(string(kind)).Set(v)
	}
}

func (s *Service) fetchDue(ctx context.Context, limit int) ([]Event, error) {
	var out []Event
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT event_id, org_id, kind, status, attempts, next_attempt_at, last_error, payload, dedupe_key, created_at
			 FROM outbox_events WHERE status = 'pending' AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`,
			limit,
		)
		if err != nil {
			return apperr.Internal(err)
		}
		defer rows.Close()
		for rows.Next() {
			var e Event
			if err := rows.Scan(&e.EventID, &e.OrgID, &e.Kind, &e.Status, &e.Attempts, &e.NextAttemptAt, &e.LastError, &e.Payload, &e.DedupeKey, &e.CreatedAt); err != nil {
				return apperr.Internal(err)
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// processOne implements spec.md §4.4's claim-deliver-update contract: claim
// the specific row (no-op if already claimed by a concurrent worker),
// deliver via the kind's adapter guarded by its circuit breaker, then
// advance status/attempts/backoff or dead-letter at MaxRetries.
func (s *Service) processOne(ctx context.Context, e Event) error {
	return s.store.WithTx(ctx, func(tx pgx.Tx) error {
		var claimed bool
		err := tx.QueryRow(ctx,
			`UPDATE outbox_events SET status = 'pending', attempts = attempts
			 WHERE event_id = $1 AND status = 'pending' RETURNING true`,
			e.EventID,
		).Scan(&claimed)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil // already claimed or no longer pending
		}
		if err != nil {
			return apperr.Internal(err)
		}

		adapter, ok := s.adapters[e.Kind]
		if !ok {
			obsmetrics.OutboxDeliverTotal.WithLabelValues(string(e.Kind), "skipped").Inc()
			if s.logger != nil {
				s.logger.Warn("outbox: no adapter registered", zap.String("kind", string(e.Kind)))
			}
			return nil
		}

		b := s.breakers.For(string(e.Kind))
		if !b.Allow() {
			return s.reschedule(ctx, tx, e, fmt.Errorf("circuit open for %s", e.Kind))
		}

		deliverErr := adapter.Deliver(ctx, e)
		if deliverErr != nil {
			b.RecordFailure()
			return s.reschedule(ctx, tx, e, deliverErr)
		}
		b.RecordSuccess()

		if _, err := tx.Exec(ctx, `UPDATE outbox_events SET status = 'sent' WHERE event_id = $1`, e.EventID); err != nil {
			return apperr.Internal(err)
		}
		obsmetrics.OutboxDeliverTotal.WithLabelValues(string(e.Kind), "sent").Inc()
		return nil
	})
}

// reschedule advances attempts and next_attempt_at on failure, dead-
// lettering once MaxRetries is exhausted (spec.md §4.4).
func (s *Service) reschedule(ctx context.Context, tx pgx.Tx, e Event, cause error) error {
	cfg := s.retryConfig(e.Kind)
	attempts := e.Attempts + 1
	msg := cause.Error()

	if attempts > cfg.MaxRetries {
		_, err := tx.Exec(ctx,
			`UPDATE outbox_events SET status = 'dead', attempts = $1, last_error = $2 WHERE event_id = $3`,
			attempts, msg, e.EventID,
		)
		if err != nil {
			return apperr.Internal(err)
		}
		obsmetrics.OutboxDeliverTotal.WithLabelValues(string(e.Kind), "dead").Inc()
		if e.Kind == KindEmail {
			if err := s.deadLetterEmail(ctx, tx, e, msg); err != nil {
				return err
			}
		}
		return nil
	}

	next := cfg.NextAttempt(time.Now(), attempts)
	_, err := tx.Exec(ctx,
		`UPDATE outbox_events SET attempts = $1, next_attempt_at = $2, last_error = $3 WHERE event_id = $4`,
		attempts, next, msg, e.EventID,
	)
	if err != nil {
		return apperr.Internal(err)
	}
	obsmetrics.OutboxDeliverTotal.WithLabelValues(string(e.Kind), "failed").Inc()
	return nil
}

// deadLetterEmail mirrors the dead outbox_events row into email_failures
// so the DLQ replay surface (spec.md §4.4) can target emails specifically
// by (org_id, dedupe_key) without re-decoding generic payload JSON.
func (s *Service) deadLetterEmail(ctx context.Context, tx pgx.Tx, e Event, lastError string) error {
	var em EmailEvent
	if err := json.Unmarshal(e.Payload, &em); err != nil {
		return apperr.Internal(err)
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO email_failures (failure_id, org_id, dedupe_key, recipient, subject, body, status, attempt_count, max_retries, next_retry_at, last_error)
		 VALUES ($1,$2,$3,$4,$5,$6,'dead',$7,$7,now(),$8)
		 ON CONFLICT (org_id, dedupe_key) DO UPDATE
		   SET status = 'dead', attempt_count = EXCLUDED.attempt_count, last_error = EXCLUDED.last_error`,
		uuid.New(), e.OrgID, e.DedupeKey, em.Recipient, em.Subject, em.Body, e.Attempts, lastError,
	)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}
