package domain

// Risk level labels, highest first.
const (
	RiskCritical = "Critical"
	RiskHigh     = "High"
	RiskElevated = "Elevated"
	RiskMedium   = "Medium"
	RiskLow      = "Low"
	RiskVeryLow  = "Very Low"
)

// RiskLevel maps a score onto the severity ladder.
func (t RiskThresholds) RiskLevel(score int) string {
	switch {
	case score >= t.Critical:
		return RiskCritical
	case score >= t.High:
		return RiskHigh
	case score >= t.HighRisk:
		return RiskElevated
	case score >= t.MediumRisk:
		return RiskMedium
	case score >= t.Low:
		return RiskLow
	default:
		return RiskVeryLow
	}
}

// Label is the training label for a score: 1 iff score >= HighRisk.
func (t RiskThresholds) Label(score int) int {
	if score >= t.HighRisk {
		return 1
	}
	return 0
}
