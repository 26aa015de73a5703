package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateRisk_ClampsAtOneHundred(t *testing.T) {
	total := int64(50000)
	assessment := EvaluateRisk(RiskInputs{
		NewClient:          true,  // +20
		EstimatedTotalCents: &total, // +25
		HighValueThresholdCents: 30000,
		LeadTimeHours:       5, // +20
		PostalCode:          "9999",
		HighRiskPostalPrefixes: []string{"99"}, // +15
		AnyCancellation:     true, // +45
		CancellationCount:   3,    // +10
	})
	// 20+25+20+15+45+10 = 135, clamped to 100.
	assert.Equal(t, 100, assessment.Score)
	assert.Equal(t, RiskHigh, assessment.Band)
	assert.True(t, assessment.RequiresManualConfirmation)
	assert.True(t, assessment.RequiresDeposit)
}

func TestEvaluateRisk_Bands(t *testing.T) {
	cases := []struct {
		name  string
		score func() RiskAssessment
		band  RiskBand
	}{
		{"low with nothing triggered", func() RiskAssessment {
			return EvaluateRisk(RiskInputs{LeadTimeHours: 200, HighValueThresholdCents: 30000})
		}, RiskLow},
		{"medium from single cancellation", func() RiskAssessment {
			return EvaluateRisk(RiskInputs{LeadTimeHours: 200, HighValueThresholdCents: 30000, AnyCancellation: true})
		}, RiskMedium},
		{"high from new client plus repeat cancellation history", func() RiskAssessment {
			return EvaluateRisk(RiskInputs{NewClient: true, LeadTimeHours: 200, HighValueThresholdCents: 30000, AnyCancellation: true, CancellationCount: 2})
		}, RiskHigh},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.score()
			assert.Equal(t, tc.band, got.Band)
		})
	}
}

func TestEvaluateRisk_MediumRequiresDepositButNotManualConfirmation(t *testing.T) {
	assessment := EvaluateRisk(RiskInputs{LeadTimeHours: 200, HighValueThresholdCents: 30000, AnyCancellation: true})
	assert.Equal(t, RiskMedium, assessment.Band)
	assert.True(t, assessment.RequiresDeposit)
	assert.False(t, assessment.RequiresManualConfirmation)
}
