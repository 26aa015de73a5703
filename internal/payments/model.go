// Package payments implements the Payment Reconciler (spec.md §4.3): Stripe
// checkout creation and exactly-once webhook intake, guarded by a circuit
// breaker around every outbound Stripe call.
package payments

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus mirrors spec.md §3's Payment.status domain.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Payment is the provider-correlated money movement record (spec.md §3).
type Payment struct {
	PaymentID         uuid.UUID
	InvoiceID         *uuid.UUID
	BookingID         *uuid.UUID
	Provider          string
	ProviderRef       *string
	CheckoutSessionID *string
	PaymentIntentID   *string
	Method            string
	AmountCents       int64
	Currency          string
	Status            PaymentStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// StripeEventStatus mirrors spec.md §3's StripeEvent.status domain.
type StripeEventStatus string

const (
	EventProcessing StripeEventStatus = "processing"
	EventSucceeded  StripeEventStatus = "succeeded"
	EventIgnored    StripeEventStatus = "ignored"
	EventError      StripeEventStatus = "error"
)

// StripeEvent is the exactly-once processed-event ledger row (spec.md §3).
type StripeEvent struct {
	EventID        string
	PayloadHash    string
	Status         StripeEventStatus
	OrgID          uuid.UUID
	EventType      string
	EventCreatedAt time.Time
	InvoiceID      *uuid.UUID
	BookingID      *uuid.UUID
	LastError      *string
}

// InvoiceStatus mirrors spec.md §3's Invoice.status domain.
type InvoiceStatus string

const (
	InvoiceDraft   InvoiceStatus = "DRAFT"
	InvoiceSent    InvoiceStatus = "SENT"
	InvoicePartial InvoiceStatus = "PARTIAL"
	InvoicePaid    InvoiceStatus = "PAID"
	InvoiceOverdue InvoiceStatus = "OVERDUE"
	InvoiceVoid    InvoiceStatus = "VOID"
)

// Outcome is the metric label recorded for every webhook processed (spec.md
// §4.3's "Metric outcomes per outcome of the pipeline").
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeError     Outcome = "error"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnavailable Outcome = "unavailable"
)
