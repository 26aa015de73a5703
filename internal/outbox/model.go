// Package outbox implements the Outbox & Delivery Pipeline (spec.md §4.4):
// transactional event enqueue, worker-driven delivery with backoff,
// dead-letter, and replay.
package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Status is an OutboxEvent's delivery state (spec.md §3).
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusDead    Status = "dead"
)

// Kind names the adapter that delivers an event.
type Kind string

const (
	KindEmail  Kind = "email"
	KindExport Kind = "export"
)

// Event is the durable work-queue row (spec.md §3 OutboxEvent).
type Event struct {
	EventID       uuid.UUID
	OrgID         uuid.UUID
	Kind          Kind
	Status        Status
	Attempts      int
	NextAttemptAt time.Time
	LastError     *string
	Payload       []byte // opaque JSON
	DedupeKey     string
	CreatedAt     time.Time
}

// EmailEvent records a composed outbound email (spec.md §3).
type EmailEvent struct {
	EventID    uuid.UUID
	OrgID      uuid.UUID
	DedupeKey  string
	Recipient  string
	Subject    string
	Body       string
	BookingID  *uuid.UUID
	InvoiceID  *uuid.UUID
	EmailType  string
	CreatedAt  time.Time
}

// EmailFailureStatus mirrors spec.md §3's EmailFailure.status domain.
type EmailFailureStatus string

const (
	EmailFailurePending EmailFailureStatus = "pending"
	EmailFailureSent    EmailFailureStatus = "sent"
	EmailFailureDead    EmailFailureStatus = "dead"
)

// EmailFailure is the email-specific DLQ row (spec.md §3).
type EmailFailure struct {
	FailureID    uuid.UUID
	OrgID        uuid.UUID
	DedupeKey    string
	Recipient    string
	Subject      string
	Body         string
	Status       EmailFailureStatus
	AttemptCount int
	MaxRetries   int
	NextRetryAt  time.Time
	LastError    *string
}

// RetryConfig parameterizes one kind's backoff/retry behavior (spec.md
// §4.4: "Base backoff, max retries... configurable per kind").
type RetryConfig struct {
	BaseBackoff time.Duration
	MaxRetries  int
}

// DefaultRetryConfig mirrors the NexusCRM teacher's MaxRetryAttempts=5,
// paired with a 30s base backoff doubling per attempt.
var DefaultRetryConfig = RetryConfig{BaseBackoff: 30 * time.Second, MaxRetries: 5}

// NextAttempt implements spec.md §4.4's exponential backoff: next_attempt_at
// = now + base_backoff * 2^(attempt-1).
func (c RetryConfig) NextAttempt(now time.Time, attempt int) time.Time {
	if attempt < 1 {
		attempt = 1
	}
	backoff := c.BaseBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	return now.Add(backoff)
}
