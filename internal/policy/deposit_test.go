package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeadTimeHours(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		delta time.Duration
		want  float64
	}{
		{"in the future", 12 * time.Hour, 12},
		{"in the past clamps to zero", -3 * time.Hour, 0},
		{"fractional rounds to two decimals", 90*time.Minute + 30*time.Second, 1.51},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := LeadTimeHours(now.Add(tc.delta), now)
			assert.InDelta(t, tc.want, got, 0.01)
		})
	}
}

func TestEvaluateDeposit_HighValueHeavyShortNoticeTakesHighestFloor(t *testing.T) {
	// End-to-end scenario 1 from spec.md §8: deep clean, first-time, $400,
	// starting 12h from now. Heavy service floors at 0.35, short_notice
	// floors at 0.50 (since lead time < 24h); the combined percent is the
	// max of all applicable floors, i.e. 0.50, not their sum.
	total := int64(40000)
	snap := EvaluateDeposit(DepositInputs{
		LeadTimeHours:    12,
		ServiceType:      "deep",
		EstimatedTotalCents: &total,
		FirstTimeClient:  true,
		ConfiguredPercent: 0.20,
		DepositsEnabled:  true,
		MinCents:         5000,
		MaxCents:         20000,
		HighValueThresholdCents: 30000,
	})

	require.True(t, snap.Required)
	require.NotNil(t, snap.AmountCents)
	assert.Equal(t, int64(20000), *snap.AmountCents, "ceil(40000*0.5)=20000, clamped to max 20000")
	assert.Equal(t, BasisPercentClamped, snap.Basis)
	assert.Contains(t, snap.Reasons, "first_time_client")
	assert.Contains(t, snap.Reasons, "service_type_deep")
	assert.Contains(t, snap.Reasons, "short_notice")
	assert.Contains(t, snap.Reasons, "high_value_booking")
	assert.NotContains(t, snap.Reasons, "late_booking", "short_notice and late_booking are mutually exclusive")
}

func TestEvaluateDeposit_NoReasonsMeansNotRequired(t *testing.T) {
	snap := EvaluateDeposit(DepositInputs{
		LeadTimeHours:    96,
		ServiceType:      "standard",
		ConfiguredPercent: 0.20,
		DepositsEnabled:  true,
		MinCents:         5000,
		MaxCents:         20000,
		HighValueThresholdCents: 30000,
	})
	assert.False(t, snap.Required)
	assert.Equal(t, BasisDisabled, snap.Basis)
	assert.Nil(t, snap.AmountCents)
}

func TestEvaluateDeposit_UnknownTotalUsesFixedMinimum(t *testing.T) {
	snap := EvaluateDeposit(DepositInputs{
		LeadTimeHours:    10, // short notice, no total known
		ServiceType:      "standard",
		ConfiguredPercent: 0.20,
		DepositsEnabled:  true,
		MinCents:         5000,
		MaxCents:         20000,
		HighValueThresholdCents: 30000,
	})
	require.True(t, snap.Required)
	require.NotNil(t, snap.AmountCents)
	assert.Equal(t, int64(5000), *snap.AmountCents)
	assert.Equal(t, BasisFixedMinimum, snap.Basis)
}

func TestEvaluateDeposit_DepositsDisabled(t *testing.T) {
	total := int64(50000)
	snap := EvaluateDeposit(DepositInputs{
		LeadTimeHours:    1,
		ServiceType:      "deep",
		EstimatedTotalCents: &total,
		DepositsEnabled:  false,
	})
	assert.False(t, snap.Required)
	assert.Equal(t, BasisDisabled, snap.Basis)
}

func TestEvaluateDeposit_RiskRequiredOnlyWhenNoOtherReason(t *testing.T) {
	total := int64(10000)
	snap := EvaluateDeposit(DepositInputs{
		LeadTimeHours:    96, // ample notice, no other floor triggers
		ServiceType:      "standard",
		EstimatedTotalCents: &total,
		ConfiguredPercent: 0.20,
		RiskRequired:     true,
		DepositsEnabled:  true,
		MinCents:         5000,
		MaxCents:         20000,
		HighValueThresholdCents: 30000,
	})
	require.True(t, snap.Required)
	assert.Equal(t, []string{"risk_required"}, snap.Reasons)
}

func TestEvaluateDeposit_RiskRequiredSuppressedWhenAnotherReasonFired(t *testing.T) {
	total := int64(10000)
	snap := EvaluateDeposit(DepositInputs{
		LeadTimeHours:    96,
		ServiceType:      "standard",
		EstimatedTotalCents: &total,
		FirstTimeClient:  true,
		ConfiguredPercent: 0.20,
		RiskRequired:     true,
		ExtraReasons:     []string{"manual_override"},
		DepositsEnabled:  true,
		MinCents:         5000,
		MaxCents:         20000,
		HighValueThresholdCents: 30000,
	})
	require.True(t, snap.Required)
	assert.Equal(t, []string{"first_time_client", "manual_override"}, snap.Reasons,
		"risk_required is dropped once another reason already explains the deposit, and ExtraReasons sits before it would have")
}

func TestDowngradeDepositRequirement_IdempotentMarker(t *testing.T) {
	total := int64(50000)
	original := EvaluateDeposit(DepositInputs{
		LeadTimeHours:    1,
		ServiceType:      "deep",
		EstimatedTotalCents: &total,
		ConfiguredPercent: 0.20,
		DepositsEnabled:  true,
		MinCents:         5000,
		MaxCents:         20000,
		HighValueThresholdCents: 30000,
	})
	require.True(t, original.Required)

	once := DowngradeDepositRequirement(original, "customer_loyalty")
	twice := DowngradeDepositRequirement(once, "customer_loyalty")

	assert.False(t, once.Required)
	assert.Nil(t, once.AmountCents)
	assert.False(t, twice.Required)

	count := 0
	for _, r := range twice.Reasons {
		if r == "downgraded:customer_loyalty" {
			count++
		}
	}
	assert.Equal(t, 1, count, "marker must appear at most once")
}
