package policy

// CancellationInputs feeds EvaluateCancellation.
type CancellationInputs struct {
	ServiceType         string
	LeadTimeHours       float64
	FirstTimeClient     bool
	HighValueBooking    bool
	ShortNotice         bool // LeadTimeHours < 24
}

// EvaluateCancellation implements spec.md §4.2's cancellation snapshot:
// free-cancel cutoff is 72h for heavy services else 48h; the partial
// window starts at 48h (heavy) else 24h. The partial refund percent starts
// at 50 and is clamped down to the MINIMUM of 50 and each applicable
// target among first-time(40)/high-value(25)/short-notice(25) — per the
// original source's `partial_refund = min(partial_refund, target)`
// combination, not a sum of deductions — floored at 0.
func EvaluateCancellation(in CancellationInputs) CancellationSnapshot {
	heavy := HeavyServiceTypes[in.ServiceType]

	freeCutoff := 48.0
	partialStart := 24.0
	if heavy {
		freeCutoff = 72.0
		partialStart = 48.0
	}

	percent := 50
	var rules []string
	if in.FirstTimeClient {
		if 40 < percent {
			percent = 40
		}
		rules = append(rules, "first_time_client")
	}
	if in.HighValueBooking {
		if 25 < percent {
			percent = 25
		}
		rules = append(rules, "high_value_booking")
	}
	if in.ShortNotice {
		if 25 < percent {
			percent = 25
		}
		rules = append(rules, "short_notice")
	}
	if percent < 0 {
		percent = 0
	}

	cutoff := freeCutoff
	start := partialStart
	return CancellationSnapshot{
		FreeCancelCutoffHours:   freeCutoff,
		PartialWindowStartHours: partialStart,
		Windows: []CancellationWindow{
			{Name: "free", FromHours: cutoff, ToHours: nil, RefundPercent: 100},
			{Name: "partial", FromHours: start, ToHours: &cutoff, RefundPercent: percent},
			{Name: "late", FromHours: 0, ToHours: &start, RefundPercent: 0},
		},
		Rules: rules,
	}
}
