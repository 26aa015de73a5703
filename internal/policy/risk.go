package policy

// RiskInputs feeds EvaluateRisk.
type RiskInputs struct {
	NewClient          bool
	EstimatedTotalCents *int64
	HighValueThresholdCents int64
	LeadTimeHours      float64
	PostalCode         string
	HighRiskPostalPrefixes []string
	AnyCancellation    bool
	CancellationCount  int
}

// EvaluateRisk implements spec.md §4.2's risk scoring: an integer score
// clamped to [0,100], banded, with manual-confirmation/deposit
// implications.
func EvaluateRisk(in RiskInputs) RiskAssessment {
	score := 0
	var reasons []string

	if in.NewClient {
		score += 20
		reasons = append(reasons, "new_client")
	}
	if in.EstimatedTotalCents != nil && *in.EstimatedTotalCents >= in.HighValueThresholdCents {
		score += 25
		reasons = append(reasons, "high_total")
	}
	if in.LeadTimeHours < 24 {
		score += 20
		reasons = append(reasons, "short_notice")
	}
	if postalFlagged(in.PostalCode, in.HighRiskPostalPrefixes) {
		score += 15
		reasons = append(reasons, "area_flagged")
	}
	if in.AnyCancellation {
		score += 45
		reasons = append(reasons, "cancel_history")
		if in.CancellationCount > 1 {
			score += 10
			reasons = append(reasons, "repeat_cancel_history")
		}
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	band := RiskLow
	switch {
	case score >= 75:
		band = RiskHigh
	case score >= 45:
		band = RiskMedium
	}

	return RiskAssessment{
		Score:                      score,
		Band:                       band,
		Reasons:                    reasons,
		RequiresManualConfirmation: band == RiskHigh,
		RequiresDeposit:            band == RiskHigh || band == RiskMedium,
	}
}

func postalFlagged(postal string, prefixes []string) bool {
	if postal == "" {
		return false
	}
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		if len(postal) >= len(p) && postal[:len(p)] == p {
			return true
		}
	}
	return false
}
