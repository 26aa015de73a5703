// Package scheduling implements the Scheduling Engine (spec.md §4.1): slot
// generation, conflict detection, booking lifecycle, suggestions,
// rescheduling, and bulk updates.
package scheduling

import (
	"time"

	"github.com/cleanops/opscore/internal/policy"
	"github.com/google/uuid"
)

// Status is a Booking's position in the state machine (spec.md §4.1).
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusDone      Status = "DONE"
	StatusCancelled Status = "CANCELLED"
)

// DepositStatus tracks a booking's deposit payment lifecycle.
type DepositStatus string

const (
	DepositStatusNone    DepositStatus = ""
	DepositStatusPending DepositStatus = "pending"
	DepositStatusPaid    DepositStatus = "paid"
	DepositStatusExpired DepositStatus = "expired"
	DepositStatusFailed  DepositStatus = "failed"
)

// Team is owned by an Organization (spec.md §3).
type Team struct {
	TeamID       uuid.UUID
	OrgID        uuid.UUID
	Name         string
	WorkingHours WorkingHoursByWeekday
}

// WorkingHoursByWeekday maps weekday -> local working hours for a team.
type WorkingHoursByWeekday map[time.Weekday]WorkingHours

// WorkingHours is duplicated here (rather than importing clockcal's type
// directly into the DB row) so a team row can be scanned without reaching
// into clockcal; Service converts between the two at the boundary.
type WorkingHours struct {
	StartMinute int
	EndMinute   int
	Closed      bool
}

// TeamBlackout blocks a team window without a buffer (spec.md §3).
type TeamBlackout struct {
	BlackoutID uuid.UUID
	TeamID     uuid.UUID
	StartsAt   time.Time
	EndsAt     time.Time
	Reason     string
}

// Booking is the central scheduling entity (spec.md §3).
type Booking struct {
	BookingID      uuid.UUID
	OrgID          uuid.UUID
	TeamID         uuid.UUID
	AssignedWorkerID *uuid.UUID
	LeadID         *uuid.UUID
	ClientID       *uuid.UUID

	StartsAt           time.Time
	DurationMinutes    int
	PlannedMinutes     *int
	ActualDurationMinutes *int

	Status Status

	DepositRequired bool
	DepositCents    *int64
	DepositStatus   DepositStatus
	DepositPolicy   []string

	PolicySnapshot policy.BookingPolicySnapshot

	RiskScore   int
	RiskBand    policy.RiskBand
	RiskReasons []string

	StripeCheckoutSessionID *string
	StripePaymentIntentID   *string

	CancellationException     bool
	CancellationExceptionNote string

	ServiceType string
}

// Interval is a half-open [Start, End) UTC window.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Conflict describes one blocking interval found by CheckConflicts.
type Conflict struct {
	Kind      string // "booking" or "blackout"
	Reference uuid.UUID
	Starts    time.Time
	Ends      time.Time
	Note      string
}

// BufferMinutes is the fixed margin added on both sides of an existing
// booking when checking conflicts (spec.md §4.1, GLOSSARY).
const BufferMinutes = 30

// SlotStepMinutes is the candidate-slot granularity (spec.md §4.1).
const SlotStepMinutes = 30
