// Package policy implements the Policy Engine (spec.md §4.2): pure
// functions from (lead, time, service) to deposit and cancellation
// snapshots, plus risk scoring. Nothing in this package touches the
// database or the clock directly — every input is an explicit parameter,
// matching spec.md §9's "replace dynamic settings singleton with an
// injected configuration struct" redesign note.
package policy

// RiskBand is the coarse risk classification derived from RiskAssessment.Score.
type RiskBand string

const (
	RiskLow    RiskBand = "LOW"
	RiskMedium RiskBand = "MEDIUM"
	RiskHigh   RiskBand = "HIGH"
)

// DepositBasis records how DepositSnapshot.AmountCents was derived.
type DepositBasis string

const (
	BasisDisabled      DepositBasis = "disabled"
	BasisPercentClamped DepositBasis = "percent_clamped"
	BasisFixedMinimum   DepositBasis = "fixed_minimum"
)

// DepositSnapshot is the immutable record of a deposit decision at booking
// time (spec.md §3 Booking.policy_snapshot, §4.2).
type DepositSnapshot struct {
	Required      bool
	AmountCents   *int64
	PercentApplied *float64
	MinCents      int64
	MaxCents      int64
	Reasons       []string
	Basis         DepositBasis
}

// CancellationWindow is one of the three refund bands emitted by
// EvaluateCancellation.
type CancellationWindow struct {
	Name            string // "free", "partial", "late"
	FromHours       float64 // inclusive lower bound of lead-time-hours membership
	ToHours         *float64 // exclusive upper bound; nil means unbounded above
	RefundPercent   int
}

// CancellationSnapshot is the immutable cancellation-policy record attached
// to a booking at creation/reschedule time.
type CancellationSnapshot struct {
	FreeCancelCutoffHours  float64
	PartialWindowStartHours float64
	Windows                []CancellationWindow
	Rules                  []string
}

// RiskAssessment is the output of EvaluateRisk.
type RiskAssessment struct {
	Score                     int
	Band                      RiskBand
	Reasons                   []string
	RequiresManualConfirmation bool
	RequiresDeposit            bool
}

// BookingPolicySnapshot is the full immutable document stored on
// Booking.policy_snapshot (spec.md §3, §9 "free-form JSON snapshot... keep
// as an opaque, schema-versioned embedded document").
type BookingPolicySnapshot struct {
	SchemaVersion    int    `json:"schema_version"`
	LeadTimeHours    float64 `json:"lead_time_hours"`
	ServiceType      string `json:"service_type"`
	TotalAmountCents *int64 `json:"total_amount_cents,omitempty"`
	FirstTimeClient  bool   `json:"first_time_client"`
	Deposit          DepositSnapshot       `json:"deposit"`
	Cancellation     CancellationSnapshot  `json:"cancellation"`
	DowngradeNote    string `json:"downgrade_note,omitempty"`
}

// CurrentSchemaVersion is bumped whenever BookingPolicySnapshot's shape
// changes in a way a reader must know about.
const CurrentSchemaVersion = 1

// DepositDecision combines the deposit snapshot with the cancellation
// snapshot it was computed alongside, per spec.md §4.2's "DepositDecision
// combining the deposit snapshot, cancellation snapshot...".
type DepositDecision struct {
	Required        bool
	DepositCents    *int64
	Reasons         []string
	PolicySnapshot  *BookingPolicySnapshot
}

// HeavyServiceTypes is the "heavy" set from spec.md §4.2.
var HeavyServiceTypes = map[string]bool{
	"deep":            true,
	"move_out_empty":  true,
	"move_in_empty":   true,
}

// PolicyConfigView is the narrow slice of internal/config.PolicyConfig
// that deposit evaluation needs, kept here rather than imported from
// internal/config so this package stays dependency-free per its doc
// comment — cmd/server translates its config struct into this view at the
// edge and hands it to internal/scheduling.
type PolicyConfigView struct {
	DepositsEnabled         bool
	DepositPercent          float64
	MinDepositCents         int64
	MaxDepositCents         int64
	HighValueThresholdCents int64
}
