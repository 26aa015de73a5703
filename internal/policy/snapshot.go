package policy

import (
	"math"
	"time"
)

// LeadTimeHours implements spec.md §4.2's "Lead-time hours = max(0,
// round((starts_at - now)/hour, 2))".
func LeadTimeHours(startsAt, now time.Time) float64 {
	hours := startsAt.Sub(now).Hours()
	if hours < 0 {
		hours = 0
	}
	return math.Round(hours*100) / 100
}

// BuildSnapshotInputs bundles everything EvaluateDeposit/EvaluateCancellation
// need so BuildBookingPolicySnapshot can call both with one argument, the
// way the original's create_booking composes _build_deposit_snapshot and
// _build_cancellation_policy from the same resolved lead/time context.
type BuildSnapshotInputs struct {
	StartsAt            time.Time
	Now                  time.Time
	ServiceType          string
	EstimatedTotalCents *int64
	FirstTimeClient      bool
	ExtraDepositReasons  []string
	RiskRequired         bool
	ConfiguredPercent    float64
	DepositsEnabled      bool
	MinDepositCents      int64
	MaxDepositCents      int64
	HighValueThresholdCents int64
}

// BuildBookingPolicySnapshot computes the full immutable document stored on
// Booking.policy_snapshot at creation time (spec.md §3, §4.1 step 2).
func BuildBookingPolicySnapshot(in BuildSnapshotInputs) BookingPolicySnapshot {
	leadTime := LeadTimeHours(in.StartsAt, in.Now)
	highValue := in.EstimatedTotalCents != nil && *in.EstimatedTotalCents >= in.HighValueThresholdCents

	deposit := EvaluateDeposit(DepositInputs{
		LeadTimeHours:    leadTime,
		ServiceType:      in.ServiceType,
		EstimatedTotalCents: in.EstimatedTotalCents,
		FirstTimeClient:  in.FirstTimeClient,
		ExtraReasons:     in.ExtraDepositReasons,
		RiskRequired:     in.RiskRequired,
		ConfiguredPercent: in.ConfiguredPercent,
		DepositsEnabled:  in.DepositsEnabled,
		MinCents:         in.MinDepositCents,
		MaxCents:         in.MaxDepositCents,
		HighValueThresholdCents: in.HighValueThresholdCents,
	})

	cancellation := EvaluateCancellation(CancellationInputs{
		ServiceType:      in.ServiceType,
		LeadTimeHours:    leadTime,
		FirstTimeClient:  in.FirstTimeClient,
		HighValueBooking: highValue,
		ShortNotice:      leadTime < 24,
	})

	return BookingPolicySnapshot{
		SchemaVersion:    CurrentSchemaVersion,
		LeadTimeHours:    leadTime,
		ServiceType:      in.ServiceType,
		TotalAmountCents: in.EstimatedTotalCents,
		FirstTimeClient:  in.FirstTimeClient,
		Deposit:          deposit,
		Cancellation:     cancellation,
	}
}
