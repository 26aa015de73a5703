package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cleanops/opscore/internal/apperr"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v76"
)

// dispatch implements spec.md §4.3 step 4's event-type dispatch table.
func (s *Service) dispatch(ctx context.Context, tx pgx.Tx, event stripe.Event, octx orgContext) error {
	switch {
	case octx.InvoiceID != nil && isPaymentOutcomeEvent(event.Type):
		return s.handleInvoicePayment(ctx, tx, event, octx)
	case octx.BookingID != nil && isPaymentOutcomeEvent(event.Type):
		return s.handleDepositPayment(ctx, tx, event, octx)
	case strings.HasPrefix(string(event.Type), "customer.subscription."):
		return s.handleSubscriptionEvent(ctx, tx, event, octx)
	default:
		return nil // unknown/unhandled event type: succeeds as a no-op
	}
}

func isPaymentOutcomeEvent(t stripe.EventType) bool {
	switch t {
	case "checkout.session.completed",
		"payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		return true
	default:
		return false
	}
}

// paymentOutcomeData covers both the checkout.session and payment_intent
// object shapes Stripe sends for these event types: amount_total/currency
// on a Session, amount/amount_received/currency on a PaymentIntent.
type paymentOutcomeData struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Currency       string `json:"currency"`
	AmountTotal    int64  `json:"amount_total"`
	AmountReceived int64  `json:"amount_received"`
	Amount         int64  `json:"amount"`
}

// resolvedAmountCents picks whichever of the event's amount fields is
// actually populated for its object type, preferring the amount Stripe
// confirms was moved (amount_total / amount_received) over the requested
// amount.
func (d paymentOutcomeData) resolvedAmountCents() int64 {
	switch {
	case d.AmountTotal > 0:
		return d.AmountTotal
	case d.AmountReceived > 0:
		return d.AmountReceived
	default:
		return d.Amount
	}
}

func (d paymentOutcomeData) resolvedCurrency() string {
	if d.Currency == "" {
		return "usd"
	}
	return d.Currency
}

func parsePaymentOutcome(event stripe.Event) (paymentOutcomeData, bool, bool) {
	var raw paymentOutcomeData
	_ = json.Unmarshal(event.Data.Raw, &raw)
	succeeded := event.Type == "payment_intent.succeeded" || (event.Type == "checkout.session.completed" && raw.Status == "complete")
	failedOrExpired := event.Type == "payment_intent.payment_failed" || event.Type == "payment_intent.canceled"
	return raw, succeeded, failedOrExpired
}

// handleInvoicePayment implements §4.3's "Invoice checkout / payment_intent
// succeeded|failed with invoice_id metadata" branch: upserts a Payment
// deduped on (provider, provider_ref), recomputes invoice status on
// success, enqueues a dunning email on failure.
func (s *Service) handleInvoicePayment(ctx context.Context, tx pgx.Tx, event stripe.Event, octx orgContext) error {
	raw, succeeded, failed := parsePaymentOutcome(event)
	status := PaymentPending
	if succeeded {
		status = PaymentSucceeded
	} else if failed {
		status = PaymentFailed
	}

	if err := s.upsertPayment(ctx, tx, octx.OrgID, octx.InvoiceID, nil, raw.ID, raw.resolvedAmountCents(), raw.resolvedCurrency(), status); err != nil {
		return err
	}

	if succeeded {
		var totalCents, paidCents int64
		err := tx.QueryRow(ctx,
			`SELECT total_cents, COALESCE((SELECT SUM(amount_cents) FROM payments WHERE invoice_id = $1 AND status = 'SUCCEEDED'), 0)
			 FROM invoices WHERE invoice_id = $1`,
			*octx.InvoiceID,
		).Scan(&totalCents, &paidCents)
		if err != nil {
			return apperr.Internal(err)
		}
		newStatus := InvoicePartial
		if paidCents >= totalCents {
			newStatus = InvoicePaid
		}
		if _, err := tx.Exec(ctx, `UPDATE invoices SET status = $1 WHERE invoice_id = $2`, newStatus, *octx.InvoiceID); err != nil {
			return apperr.Internal(err)
		}
	}

	if failed && s.outbox != nil {
		dedupe := fmt.Sprintf("invoice:%s:dunning:payment_failed", octx.InvoiceID.String())
		if err := s.outbox.EnqueueEmail(ctx, tx, octx.OrgID, dedupe, "", "Payment failed", "Your invoice payment failed", nil, octx.InvoiceID, "dunning"); err != nil {
			return err
		}
	}
	return nil
}

// handleDepositPayment implements §4.3's "Deposit checkout / payment_intent
// succeeded|failed|expired with booking_id metadata" branch.
func (s *Service) handleDepositPayment(ctx context.Context, tx pgx.Tx, event stripe.Event, octx orgContext) error {
	raw, succeeded, failedOrExpired := parsePaymentOutcome(event)
	expired := event.Type == "payment_intent.canceled"

	status := PaymentPending
	if succeeded {
		status = PaymentSucceeded
	} else if failedOrExpired {
		status = PaymentFailed
	}
	if err := s.upsertPayment(ctx, tx, octx.OrgID, nil, octx.BookingID, raw.ID, raw.resolvedAmountCents(), raw.resolvedCurrency(), status); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE bookings SET stripe_payment_intent_id = $1 WHERE booking_id = $2`, raw.ID, *octx.BookingID); err != nil {
		return apperr.Internal(err)
	}

	if succeeded {
		return s.markDepositPaid(ctx, tx, octx.OrgID, *octx.BookingID)
	}
	if failedOrExpired {
		return s.markDepositFailed(ctx, tx, octx.OrgID, *octx.BookingID, expired)
	}
	return nil
}

// markDepositPaid implements spec.md §4.3's mark_deposit_paid branch: set
// deposit_status=paid; if risk_band != HIGH, confirm the booking and
// enqueue a confirmation email. A HIGH risk band never auto-confirms off a
// deposit webhook alone — that case always waits for an explicit operator
// confirm (scheduling.Service.ConfirmBooking).
func (s *Service) markDepositPaid(ctx context.Context, tx pgx.Tx, orgID, bookingID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `UPDATE bookings SET deposit_status = 'paid' WHERE booking_id = $1`, bookingID); err != nil {
		return apperr.Internal(err)
	}

	var riskBand, status string
	if err := tx.QueryRow(ctx, `SELECT risk_band, status FROM bookings WHERE booking_id = $1`, bookingID).Scan(&riskBand, &status); err != nil {
		return apperr.Internal(err)
	}
	if riskBand == "HIGH" {
		return nil
	}
	if status != "PENDING" {
		return nil
	}
	if _, err := tx.Exec(ctx, `UPDATE bookings SET status = 'CONFIRMED' WHERE booking_id = $1`, bookingID); err != nil {
		return apperr.Internal(err)
	}
	if s.outbox != nil {
		dedupe := fmt.Sprintf("booking:%s:confirmation", bookingID.String())
		if err := s.outbox.EnqueueEmail(ctx, tx, orgID, dedupe, "", "Booking confirmed", "Your deposit was received and your booking is confirmed", &bookingID, nil, "confirmation"); err != nil {
			return err
		}
	}
	return nil
}

// markDepositFailed implements spec.md §4.3's mark_deposit_failed branch:
// set deposit_status=expired|failed; a still-PENDING booking is cancelled.
func (s *Service) markDepositFailed(ctx context.Context, tx pgx.Tx, orgID, bookingID uuid.UUID, expired bool) error {
	newStatus := "failed"
	if expired {
		newStatus = "expired"
	}
	if _, err := tx.Exec(ctx, `UPDATE bookings SET deposit_status = $1 WHERE booking_id = $2`, newStatus, bookingID); err != nil {
		return apperr.Internal(err)
	}

	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM bookings WHERE booking_id = $1`, bookingID).Scan(&status); err != nil {
		return apperr.Internal(err)
	}
	if status == "PENDING" {
		if _, err := tx.Exec(ctx, `UPDATE bookings SET status = 'CANCELLED' WHERE booking_id = $1`, bookingID); err != nil {
			return apperr.Internal(err)
		}
	}
	return nil
}

// handleSubscriptionEvent implements spec.md §4.3's "Subscription events:
// update billing record; require org consistency" branch.
func (s *Service) handleSubscriptionEvent(ctx context.Context, tx pgx.Tx, event stripe.Event, octx orgContext) error {
	var sub struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return apperr.DependencyProtocol("invalid_subscription_payload", "could not parse subscription event: %v", err)
	}
	_, err := tx.Exec(ctx,
		`UPDATE org_billing SET subscription_status = $1 WHERE org_id = $2`,
		sub.Status, octx.OrgID,
	)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// upsertPayment implements spec.md §4.3's "record/upsert a Payment (dedup
// on (provider, provider_ref) or (invoice_id/booking_id, checkout_session_id))".
// Succeeded payments are monotonic: a replayed webhook never downgrades an
// already-SUCCEEDED row (spec.md §3 Payment invariant).
//
// The checkout-time row (service.go's CreateDepositCheckout/
// CreateInvoiceCheckout) is inserted with checkout_session_id set and
// provider_ref NULL, since the provider reference (payment intent or
// session id) only exists once Stripe reports an outcome. The first
// outcome event for that checkout therefore never matches on
// (provider, provider_ref) — it has to reconcile against the
// checkout_session_id row instead, per the original
// record_stripe_deposit_payment's two-step dedup. Only once that row has
// been claimed (or no such row exists) does a later replay fall back to
// matching on (provider, provider_ref).
func (s *Service) upsertPayment(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, invoiceID, bookingID *uuid.UUID, providerRef string, amountCents int64, currency string, status PaymentStatus) error {
	tag, err := tx.Exec(ctx,
		`UPDATE payments SET provider_ref = $1, amount_cents = $2, currency = $3,
		   status = CASE WHEN status = 'SUCCEEDED' THEN status ELSE $4 END
		 WHERE provider_ref IS NULL AND checkout_session_id IS NOT NULL
		   AND ((invoice_id = $5::uuid) OR (booking_id = $6::uuid))`,
		providerRef, amountCents, currency, status, invoiceID, bookingID,
	)
	if err != nil {
		return apperr.Internal(err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO payments (payment_id, invoice_id, booking_id, provider, provider_ref, method, amount_cents, currency, status)
		 VALUES ($1,$2,$3,'stripe',$4,'card',$5,$6,$7)
		 ON CONFLICT (provider, provider_ref) WHERE provider_ref IS NOT NULL DO UPDATE
		   SET status = CASE WHEN payments.status = 'SUCCEEDED' THEN payments.status ELSE EXCLUDED.status END,
		       amount_cents = CASE WHEN payments.status = 'SUCCEEDED' THEN payments.amount_cents ELSE EXCLUDED.amount_cents END,
		       currency = CASE WHEN payments.status = 'SUCCEEDED' THEN payments.currency ELSE EXCLUDED.currency END`,
		uuid.New(), invoiceID, bookingID, providerRef, amountCents, currency, status,
	)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}
