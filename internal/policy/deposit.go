package policy

import "math"

// Inputs every deposit/risk function needs, explicit per spec.md §9's
// "replace implicit exception-driven control flow" and "ambient async
// context" redesign notes — no hidden globals, no request-scoped state bag.
type DepositInputs struct {
	LeadTimeHours    float64
	ServiceType      string
	EstimatedTotalCents *int64 // nil when unknown
	FirstTimeClient  bool
	ExtraReasons     []string
	RiskRequired     bool // forced by a HIGH/MEDIUM risk assessment
	ConfiguredPercent float64
	DepositsEnabled  bool
	MinCents         int64
	MaxCents         int64
	HighValueThresholdCents int64
}

// EvaluateDeposit implements spec.md §4.2's deposit snapshot rules. The
// percent-floor bumps are combined with max(), not mutually exclusive
// elif branches: a booking that is both heavy-service and short-notice
// gets the higher of the two floors, not just the last one checked. This
// was resolved by reading the original Python source's
// _build_deposit_snapshot, which threads the running percent through
// repeated max() calls regardless of which reason triggered it (see the
// deposit notes in SPEC_FULL.md).
func EvaluateDeposit(in DepositInputs) DepositSnapshot {
	if !in.DepositsEnabled {
		return DepositSnapshot{Required: false, Basis: BasisDisabled, MinCents: in.MinCents, MaxCents: in.MaxCents}
	}

	var reasons []string
	percent := in.ConfiguredPercent

	if in.FirstTimeClient {
		reasons = append(reasons, "first_time_client")
	}
	if HeavyServiceTypes[in.ServiceType] {
		reasons = append(reasons, "service_type_"+in.ServiceType)
		percent = math.Max(percent, 0.35)
	}
	if in.LeadTimeHours < 24 {
		reasons = append(reasons, "short_notice")
		percent = math.Max(percent, 0.50)
	} else if in.LeadTimeHours < 48 {
		reasons = append(reasons, "late_booking")
		percent = math.Max(percent, 0.40)
	}
	if in.EstimatedTotalCents != nil && *in.EstimatedTotalCents >= in.HighValueThresholdCents {
		reasons = append(reasons, "high_value_booking")
		percent = math.Max(percent, 0.30)
	}
	// risk_required only explains the deposit when nothing else already
	// does, and is recorded after the caller's extra reasons — matching
	// the original's `if force_deposit and not reasons`.
	riskRequired := in.RiskRequired && len(reasons) == 0
	reasons = append(reasons, in.ExtraReasons...)
	if riskRequired {
		reasons = append(reasons, "risk_required")
	}

	if len(reasons) == 0 {
		return DepositSnapshot{Required: false, Basis: BasisDisabled, MinCents: in.MinCents, MaxCents: in.MaxCents}
	}

	var amount int64
	var basis DepositBasis
	if in.EstimatedTotalCents != nil {
		raw := int64(math.Ceil(float64(*in.EstimatedTotalCents) * percent))
		amount = clampInt64(raw, in.MinCents, in.MaxCents)
		basis = BasisPercentClamped
	} else {
		// Total unknown: the minimum is the amount itself, not merely a
		// floor applied to an unknowable percentage computation.
		amount = in.MinCents
		basis = BasisFixedMinimum
	}

	pct := percent
	return DepositSnapshot{
		Required:      true,
		AmountCents:   &amount,
		PercentApplied: &pct,
		MinCents:      in.MinCents,
		MaxCents:      in.MaxCents,
		Reasons:       reasons,
		Basis:         basis,
	}
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DowngradeDepositRequirement implements the transform named in spec.md
// §4.2/§4.1's policy overrides: the resulting decision has Required=false,
// and the reasons list gains a downgraded:<reason> marker appended at most
// once (idempotent: applying it twice is the same as applying it once,
// per spec.md §8's round-trip law).
func DowngradeDepositRequirement(d DepositSnapshot, reason string) DepositSnapshot {
	marker := "downgraded:" + reason
	for _, r := range d.Reasons {
		if r == marker {
			// Already downgraded for this reason; idempotent no-op.
			out := d
			out.Required = false
			out.AmountCents = nil
			return out
		}
	}
	newReasons := make([]string, len(d.Reasons), len(d.Reasons)+1)
	copy(newReasons, d.Reasons)
	newReasons = append(newReasons, marker)
	return DepositSnapshot{
		Required:      false,
		AmountCents:   nil,
		PercentApplied: d.PercentApplied,
		MinCents:      d.MinCents,
		MaxCents:      d.MaxCents,
		Reasons:       newReasons,
		Basis:         d.Basis,
	}
}
