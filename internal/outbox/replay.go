package outbox

import (
	"context"
	"fmt"

	"github.com/cleanops/opscore/internal/apperr"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ReplayEvent implements spec.md §4.4's outbox replay contract: a dead
// event is reset to pending with attempts cleared so the next sweep
// retries it. Replaying a non-dead event is a conflict, not a silent
// no-op, so an operator can tell a stale replay request apart from a
// successful one.
func (s *Service) ReplayEvent(ctx context.Context, orgID, eventID uuid.UUID) error {
	return s.store.WithTx(ctx, func(tx pgx.Tx) error {
		var status Status
		err := tx.QueryRow(ctx, `SELECT status FROM outbox_events WHERE event_id = $1 AND org_id = $2 FOR UPDATE`, eventID, orgID).Scan(&status)
		if err != nil {
			if err == pgx.ErrNoRows {
				return apperr.NotFound("outbox_event_not_found", "event %s not found in org %s", eventID, orgID)
			}
			return apperr.Internal(err)
		}
		if status != StatusDead {
			return apperr.Conflict("outbox_event_not_dead", "event %s is %s, not dead", eventID, status)
		}
		_, err = tx.Exec(ctx,
			`UPDATE outbox_events SET status = 'pending', attempts = 0, next_attempt_at = now(), last_error = NULL WHERE event_id = $1`,
			eventID,
		)
		if err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
}

// ListDead lists dead-lettered outbox events of one kind for an org, newest
// first, for the `GET /v1/admin/outbox/dead-letter` and
// `GET /v1/admin/export-dead-letter` admin endpoints.
func (s *Service) ListDead(ctx context.Context, orgID uuid.UUID, kind Kind, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []Event
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT event_id, org_id, kind, status, attempts, next_attempt_at, last_error, payload, dedupe_key, created_at
			 FROM outbox_events WHERE org_id = $1 AND kind = $2 AND status = 'dead' ORDER BY created_at DESC LIMIT $3`,
			orgID, kind, limit,
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

// ReplayEmail implements the email-specific replay path: an operator
// manually resends a dead-lettered email. The dedupe key is namespaced
// with a nonce (manual_resend:<failure_id>:<nonce>) so repeated manual
// resends of the same failure are each distinct deliveries rather than
// being deduped away by the original (org_id, dedupe_key) constraint.
func (s *Service) ReplayEmail(ctx context.Context, orgID, failureID uuid.UUID, nonce string) error {
	return s.store.WithTx(ctx, func(tx pgx.Tx) error {
		var em EmailEvent
		var status EmailFailureStatus
		err := tx.QueryRow(ctx,
			`SELECT recipient, subject, body, status FROM email_failures WHERE failure_id = $1 AND org_id = $2 FOR UPDATE`,
			failureID, orgID,
		).Scan(&em.Recipient, &em.Subject, &em.Body, &status)
		if err != nil {
			if err == pgx.ErrNoRows {
				return apperr.NotFound("email_failure_not_found", "email failure %s not found in org %s", failureID, orgID)
			}
			return apperr.Internal(err)
		}
		if status != EmailFailureDead {
			return apperr.Conflict("email_failure_not_dead", "email failure %s is %s, not dead", failureID, status)
		}

		em.OrgID = orgID
		em.DedupeKey = fmt.Sprintf("manual_resend:%s:%s", failureID, nonce)
		return s.EnqueueEmail(ctx, tx, orgID, em.DedupeKey, em.Recipient, em.Subject, em.Body, nil, nil, "manual_resend")
	})
}
