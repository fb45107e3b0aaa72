package domain

import (
	"time"
)

// SignalTypeComposite tags signals produced by the blended scorer.
const SignalTypeComposite = "composite_risk"

// Alert status values. Resolution is an operator action.
const (
	AlertOpen     = "open"
	AlertResolved = "resolved"
)

// Assessment is the scorer's result. The ok case always carries a
// usable score; Degraded distinguishes fallbacks from real scores.
type Assessment struct {
	RiskScore  int      `json:"riskScore"`
	Reasons    []string `json:"reasons"`
	Confidence float64  `json:"confidence"`

	RuleScore       float64 `json:"ruleScore"`
	ModelPrediction float64 `json:"modelPrediction"`

	Degraded       bool   `json:"degraded,omitempty"`
	DegradedReason string `json:"degradedReason,omitempty"`
}

// RiskSignal is one persisted scoring outcome.
type RiskSignal struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	SignalType    string    `json:"signalType"`
	RiskScore     int       `json:"riskScore"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Alert is raised when a signal crosses the high-risk threshold.
type Alert struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	RiskScore     int       `json:"riskScore"`
	Severity      string    `json:"severity"`
	Reason        string    `json:"reason"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

// DashboardStats are the aggregate counters refreshed after each tick.
type DashboardStats struct {
	TotalAlerts       int64 `json:"totalAlerts"`
	OpenAlerts        int64 `json:"openAlerts"`
	TotalTransactions int64 `json:"totalTransactions"`
	HighRiskSignals   int64 `json:"highRiskSignals"`
}
