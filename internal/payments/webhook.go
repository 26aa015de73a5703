package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/cleanops/opscore/internal/apperr"
	"github.com/cleanops/opscore/internal/obsmetrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

// ErrAmbiguousMetadata is returned when an event's metadata carries both
// invoice_id and booking_id, per spec.md §9's resolved open question: this
// is rejected outright rather than guessed at.
var ErrAmbiguousMetadata = errors.New("ambiguous_metadata")

// ErrOrgCustomerMismatch signals the §4.3 step-2 security failure: resolved
// org context disagrees with metadata.org_id.
var ErrOrgCustomerMismatch = errors.New("org_customer_mismatch")

// VerifySignature wraps stripe-go's webhook.ConstructEvent, the teacher's
// sole use of the webhook subpackage (billing/webhooks.go step 2).
func VerifySignature(body []byte, signature, secret string) (stripe.Event, error) {
	return webhook.ConstructEvent(body, signature, secret)
}

// PayloadHash implements spec.md §4.3 step 1's payload_hash = sha256(raw_body).
func PayloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// orgContext is the resolved tenancy scope for one webhook event (spec.md
// §4.3 step 2).
type orgContext struct {
	OrgID     uuid.UUID
	InvoiceID *uuid.UUID
	BookingID *uuid.UUID
}

// eventMetadata is the subset of Stripe metadata the reconciler reads.
type eventMetadata struct {
	InvoiceID *uuid.UUID
	BookingID *uuid.UUID
	OrgID     *uuid.UUID
}

func parseMetadata(raw map[string]string) (eventMetadata, error) {
	var m eventMetadata
	if v, ok := raw["invoice_id"]; ok && v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return eventMetadata{}, apperr.DependencyProtocol("invalid_metadata", "invoice_id metadata not a uuid: %v", err)
		}
		m.InvoiceID = &id
	}
	if v, ok := raw["booking_id"]; ok && v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return eventMetadata{}, apperr.DependencyProtocol("invalid_metadata", "booking_id metadata not a uuid: %v", err)
		}
		m.BookingID = &id
	}
	if v, ok := raw["org_id"]; ok && v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return eventMetadata{}, apperr.DependencyProtocol("invalid_metadata", "org_id metadata not a uuid: %v", err)
		}
		m.OrgID = &id
	}
	return m, nil
}

// resolveOrgContext implements spec.md §4.3 step 2's precedence chain:
// invoice_id > booking_id > checkout/intent correlation > customer mapping,
// with the ambiguous_metadata check run first per DESIGN.md's decision on
// the (non-)open question.
func (s *Service) resolveOrgContext(ctx context.Context, tx pgx.Tx, event stripe.Event, meta eventMetadata) (orgContext, error) {
	if meta.InvoiceID != nil && meta.BookingID != nil {
		return orgContext{}, apperr.Wrap(apperr.KindInvalidWindow, "ambiguous_metadata", ErrAmbiguousMetadata)
	}

	if meta.InvoiceID != nil {
		var orgID uuid.UUID
		err := tx.QueryRow(ctx, `SELECT org_id FROM invoices WHERE invoice_id = $1 FOR UPDATE`, *meta.InvoiceID).Scan(&orgID)
		if errors.Is(err, pgx.ErrNoRows) {
			return orgContext{}, apperr.NotFound("invoice_not_found", "invoice %s not found", *meta.InvoiceID)
		}
		if err != nil {
			return orgContext{}, apperr.Internal(err)
		}
		if err := checkOrgConsistency(meta.OrgID, orgID); err != nil {
			return orgContext{}, err
		}
		return orgContext{OrgID: orgID, InvoiceID: meta.InvoiceID}, nil
	}

	if meta.BookingID != nil {
		var orgID uuid.UUID
		err := tx.QueryRow(ctx, `SELECT org_id FROM bookings WHERE booking_id = $1 FOR UPDATE`, *meta.BookingID).Scan(&orgID)
		if errors.Is(err, pgx.ErrNoRows) {
			return orgContext{}, apperr.NotFound("booking_not_found", "booking %s not found", *meta.BookingID)
		}
		if err != nil {
			return orgContext{}, apperr.Internal(err)
		}
		if err := checkOrgConsistency(meta.OrgID, orgID); err != nil {
			return orgContext{}, err
		}
		return orgContext{OrgID: orgID, BookingID: meta.BookingID}, nil
	}

	// Correlate by an existing checkout_session_id/payment_intent_id already
	// attached to a booking from checkout creation.
	sessionID, intentID := correlationIDs(event)
	if sessionID != "" || intentID != "" {
		var orgID, bookingID uuid.UUID
		err := tx.QueryRow(ctx,
			`SELECT org_id, booking_id FROM bookings
			 WHERE (stripe_checkout_session_id = $1 AND $1 != '') OR (stripe_payment_intent_id = $2 AND $2 != '')
			 FOR UPDATE`,
			sessionID, intentID,
		).Scan(&orgID, &bookingID)
		if err == nil {
			if err := checkOrgConsistency(meta.OrgID, orgID); err != nil {
				return orgContext{}, err
			}
			return orgContext{OrgID: orgID, BookingID: &bookingID}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return orgContext{}, apperr.Internal(err)
		}
	}

	// Fall back to customer_id -> org billing record mapping.
	customerID := customerID(event)
	if customerID != "" {
		var orgID uuid.UUID
		err := tx.QueryRow(ctx, `SELECT org_id FROM org_billing WHERE stripe_customer_id = $1`, customerID).Scan(&orgID)
		if err == nil {
			if err := checkOrgConsistency(meta.OrgID, orgID); err != nil {
				return orgContext{}, err
			}
			return orgContext{OrgID: orgID}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return orgContext{}, apperr.Internal(err)
		}
	}

	return orgContext{}, apperr.NotFound("org_context_unresolved", "could not resolve an org for event %s", event.ID)
}

func checkOrgConsistency(metaOrgID *uuid.UUID, resolvedOrgID uuid.UUID) error {
	if metaOrgID != nil && *metaOrgID != resolvedOrgID {
		return apperr.Wrap(apperr.KindInvalidWindow, "org_customer_mismatch", ErrOrgCustomerMismatch)
	}
	return nil
}

func correlationIDs(event stripe.Event) (sessionID, intentID string) {
	var raw struct {
		ID       string `json:"id"`
		Object   string `json:"object"`
		Metadata map[string]string `json:"metadata"`
	}
	_ = json.Unmarshal(event.Data.Raw, &raw)
	switch raw.Object {
	case "checkout.session":
		return raw.ID, ""
	case "payment_intent":
		return "", raw.ID
	default:
		return "", ""
	}
}

func customerID(event stripe.Event) string {
	var raw struct {
		Customer string `json:"customer"`
	}
	_ = json.Unmarshal(event.Data.Raw, &raw)
	return raw.Customer
}

// extractMetadata pulls the event object's "metadata" map out of the raw
// JSON payload as string keys/values, since stripe.Event only decodes the
// object generically (map[string]interface{}).
func extractMetadata(event stripe.Event) map[string]string {
	var raw struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(event.Data.Raw, &raw); err != nil {
		return nil
	}
	return raw.Metadata
}

// ProcessWebhook implements spec.md §4.3's full webhook processing
// contract: signature verification is the caller's responsibility (the
// HTTP handler calls VerifySignature before this), this function runs
// steps 1-5 inside one transaction.
func (s *Service) ProcessWebhook(ctx context.Context, event stripe.Event, rawBody []byte) (Outcome, error) {
	if event.ID == "" {
		return OutcomeError, apperr.DependencyProtocol("empty_event_id", "stripe event missing id")
	}
	hash := PayloadHash(rawBody)

	var outcome Outcome
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		meta, err := parseMetadata(extractMetadata(event))
		if err != nil {
			meta = eventMetadata{}
		}

		octx, err := s.resolveOrgContext(ctx, tx, event, meta)
		if err != nil {
			if errors.Is(err, ErrOrgCustomerMismatch) || errors.Is(err, ErrAmbiguousMetadata) {
				outcome = OutcomeError
				return err
			}
			// Any other unresolvable context is a silent 200-ignore per §4.3 step 2.
			outcome = OutcomeIgnored
			return nil
		}

		existing, err := s.lockStripeEvent(ctx, tx, event.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.OrgID != octx.OrgID {
				outcome = OutcomeError
				return apperr.InvalidWindow("event_org_mismatch", "event %s already bound to a different org", event.ID)
			}
			if existing.PayloadHash != hash {
				outcome = OutcomeError
				return apperr.InvalidWindow("payload_mismatch", "event %s payload hash changed on replay", event.ID)
			}
			switch existing.Status {
			case EventSucceeded, EventIgnored, EventProcessing:
				outcome = OutcomeDuplicate
				return nil
			}
		} else {
			if err := s.insertStripeEvent(ctx, tx, StripeEvent{
				EventID: event.ID, PayloadHash: hash, Status: EventProcessing,
				OrgID: octx.OrgID, EventType: string(event.Type),
				EventCreatedAt: time.Unix(event.Created, 0).UTC(),
				InvoiceID: octx.InvoiceID, BookingID: octx.BookingID,
			}); err != nil {
				return err
			}
		}

		dispatchErr := s.dispatch(ctx, tx, event, octx)
		if dispatchErr != nil {
			msg := dispatchErr.Error()
			_ = s.setStripeEventStatus(ctx, tx, event.ID, EventError, &msg)
			outcome = OutcomeError
			return dispatchErr
		}

		_ = s.setStripeEventStatus(ctx, tx, event.ID, EventSucceeded, nil)
		outcome = OutcomeProcessed
		return nil
	})

	obsmetrics.WebhookEventsTotal.WithLabelValues(string(outcome)).Inc()
	if s.logger != nil {
		s.logger.Info("webhook processed", zap.String("event_id", event.ID), zap.String("outcome", string(outcome)))
	}
	return outcome, err
}
