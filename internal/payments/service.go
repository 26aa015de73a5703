package payments

import (
	"context"
	"errors"
	"time"

	"github.com/cleanops/opscore/internal/apperr"
	"github.com/cleanops/opscore/internal/breaker"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"go.uber.org/zap"
)

// txRunner is the slice of *storage.Store this package needs (see
// internal/scheduling's identical seam for the rationale).
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Enqueuer is the outbox's enqueue contract (spec.md §4.4), accepted as an
// interface here rather than importing internal/outbox directly: outbox
// depends on internal/breaker the same way payments does, and this keeps
// the dependency graph a DAG.
type Enqueuer interface {
	EnqueueEmail(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, dedupeKey, recipient, subject, body string, bookingID, invoiceID *uuid.UUID, emailType string) error
}

// Service implements the Payment Reconciler (spec.md §4.3).
type Service struct {
	store             txRunner
	outbox            Enqueuer
	breakers          *breaker.BreakerRegistry
	callTimeout       time.Duration
	successURL        string
	cancelURL         string
	invoiceSuccessURL string
	invoiceCancelURL  string
	logger            *zap.Logger
}

// Config bundles the Payment Reconciler's tunables (spec.md §6's Stripe
// env/config knobs). InvoiceSuccessURL/InvoiceCancelURL fall back to
// SuccessURL/CancelURL when unset, since not every deployment redirects
// invoice payers somewhere different than deposit payers.
type Config struct {
	CallTimeout       time.Duration
	SuccessURL        string
	CancelURL         string
	InvoiceSuccessURL string
	InvoiceCancelURL  string
	BreakerConfig     breaker.BreakerConfig
}

// NewService wires the reconciler's dependencies.
func NewService(store txRunner, outbox Enqueuer, cfg Config, logger *zap.Logger) *Service {
	invoiceSuccess, invoiceCancel := cfg.InvoiceSuccessURL, cfg.InvoiceCancelURL
	if invoiceSuccess == "" {
		invoiceSuccess = cfg.SuccessURL
	}
	if invoiceCancel == "" {
		invoiceCancel = cfg.CancelURL
	}
	return &Service{
		store:             store,
		outbox:            outbox,
		breakers:          breaker.NewBreakerRegistry(cfg.BreakerConfig),
		callTimeout:       cfg.CallTimeout,
		successURL:        cfg.SuccessURL,
		cancelURL:         cfg.CancelURL,
		invoiceSuccessURL: invoiceSuccess,
		invoiceCancelURL:  invoiceCancel,
		logger:            logger,
	}
}

const stripeDependency = "stripe"

// CreateDepositCheckout implements spec.md §4.3's "Create Stripe checkout"
// entry point for a booking deposit: pre-checks run in a transaction, the
// Stripe call happens outside it (per spec.md §5: "must NOT hold DB
// transactions open across external calls"), and the PENDING payment row
// plus correlation ids are committed only after Stripe succeeds.
func (s *Service) CreateDepositCheckout(ctx context.Context, orgID, bookingID uuid.UUID) (string, error) {
	type precheck struct {
		depositRequired bool
		depositStatus   string
		depositCents    int64
		teamID          uuid.UUID
	}
	var pc precheck
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`SELECT deposit_required, deposit_status, COALESCE(deposit_cents,0), team_id
			 FROM bookings WHERE booking_id = $1 AND org_id = $2`,
			bookingID, orgID,
		).Scan(&pc.depositRequired, &pc.depositStatus, &pc.depositCents, &pc.teamID)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperr.NotFound("booking_not_found", "booking %s not found in org %s", bookingID, orgID)
	}
	if err != nil {
		return "", apperr.Internal(err)
	}
	if !pc.depositRequired {
		return "", apperr.Conflict("deposit_not_required", "booking %s does not require a deposit", bookingID)
	}
	if pc.depositStatus == "paid" {
		return "", apperr.Conflict("deposit_already_paid", "booking %s deposit already paid", bookingID)
	}

	b := s.breakers.For(stripeDependency)
	if !b.Allow() {
		return "", apperr.DependencyUnavailable("stripe_temporarily_unavailable", "stripe circuit open")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Params:     stripe.Params{Context: callCtx},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String("usd"),
				UnitAmount: stripe.Int64(pc.depositCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Booking deposit"),
				},
			},
		}},
		Metadata: map[string]string{"booking_id": bookingID.String(), "org_id": orgID.String()},
	}

	sess, sessErr := session.New(params)
	if sessErr != nil {
		b.RecordFailure()
		return "", apperr.DependencyProtocol("stripe_checkout_unavailable", "stripe checkout session create failed: %v", sessErr)
	}
	b.RecordSuccess()

	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE bookings SET stripe_checkout_session_id = $1 WHERE booking_id = $2`,
			sess.ID, bookingID,
		); err != nil {
			return apperr.Internal(err)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO payments (payment_id, booking_id, provider, checkout_session_id, method, amount_cents, currency, status)
			 VALUES ($1,$2,'stripe',$3,'card',$4,'usd','PENDING')`,
			uuid.New(), bookingID, sess.ID, pc.depositCents,
		)
		if err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

// CreateInvoiceCheckout mirrors CreateDepositCheckout for the other §6
// checkout entry point: a standalone invoice rather than a booking deposit.
// Any invoice that is not PAID or VOID (DRAFT, SENT, PARTIAL, OVERDUE) and
// has an outstanding balance is payable.
func (s *Service) CreateInvoiceCheckout(ctx context.Context, orgID, invoiceID uuid.UUID) (string, error) {
	type precheck struct {
		status     InvoiceStatus
		totalCents int64
		paidCents  int64
	}
	var pc precheck
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`SELECT status, total_cents,
			        COALESCE((SELECT SUM(amount_cents) FROM payments WHERE invoice_id = $1 AND status = 'SUCCEEDED'), 0)
			 FROM invoices WHERE invoice_id = $1 AND org_id = $2`,
			invoiceID, orgID,
		).Scan(&pc.status, &pc.totalCents, &pc.paidCents)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperr.NotFound("invoice_not_found", "invoice %s not found in org %s", invoiceID, orgID)
	}
	if err != nil {
		return "", apperr.Internal(err)
	}
	switch pc.status {
	case InvoicePaid, InvoiceVoid:
		return "", apperr.Conflict("invoice_not_payable", "invoice %s is %s", invoiceID, pc.status)
	}
	balance := pc.totalCents - pc.paidCents
	if balance <= 0 {
		return "", apperr.Conflict("invoice_no_balance_due", "invoice %s has no balance due", invoiceID)
	}

	b := s.breakers.For(stripeDependency)
	if !b.Allow() {
		return "", apperr.DependencyUnavailable("stripe_temporarily_unavailable", "stripe circuit open")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Params:     stripe.Params{Context: callCtx},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.invoiceSuccessURL),
		CancelURL:  stripe.String(s.invoiceCancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String("usd"),
				UnitAmount: stripe.Int64(balance),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Invoice payment"),
				},
			},
		}},
		Metadata: map[string]string{"invoice_id": invoiceID.String(), "org_id": orgID.String()},
	}

	sess, sessErr := session.New(params)
	if sessErr != nil {
		b.RecordFailure()
		return "", apperr.DependencyProtocol("stripe_checkout_unavailable", "stripe checkout session create failed: %v", sessErr)
	}
	b.RecordSuccess()

	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		if pc.status == InvoiceDraft {
			if _, err := tx.Exec(ctx, `UPDATE invoices SET status = 'SENT' WHERE invoice_id = $1`, invoiceID); err != nil {
				return apperr.Internal(err)
			}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO payments (payment_id, invoice_id, provider, checkout_session_id, method, amount_cents, currency, status)
			 VALUES ($1,$2,'stripe',$3,'card',$4,'usd','PENDING')`,
			uuid.New(), invoiceID, sess.ID, balance,
		)
		if err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

func (s *Service) lockStripeEvent(ctx context.Context, tx pgx.Tx, eventID string) (*StripeEvent, error) {
	var e StripeEvent
	var invoiceID, bookingID *uuid.UUID
	err := tx.QueryRow(ctx,
		`SELECT event_id, payload_hash, status, org_id, event_type, event_created_at, invoice_id, booking_id
		 FROM stripe_events WHERE event_id = $1 FOR UPDATE`,
		eventID,
	).Scan(&e.EventID, &e.PayloadHash, &e.Status, &e.OrgID, &e.EventType, &e.EventCreatedAt, &invoiceID, &bookingID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	e.InvoiceID, e.BookingID = invoiceID, bookingID
	return &e, nil
}

func (s *Service) insertStripeEvent(ctx context.Context, tx pgx.Tx, e StripeEvent) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO stripe_events (event_id, payload_hash, status, org_id, event_type, event_created_at, invoice_id, booking_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.EventID, e.PayloadHash, e.Status, e.OrgID, e.EventType, e.EventCreatedAt, e.InvoiceID, e.BookingID,
	)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Service) setStripeEventStatus(ctx context.Context, tx pgx.Tx, eventID string, status StripeEventStatus, lastError *string) error {
	_, err := tx.Exec(ctx, `UPDATE stripe_events SET status = $1, last_error = $2 WHERE event_id = $3`, status, lastError, eventID)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}
