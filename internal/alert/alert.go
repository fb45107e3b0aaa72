// Package alert applies the threshold policy that turns a risk signal
// into an operator-visible alert.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Action is what the policy asks for at a given score.
type Action string

const (
	ActionNone    Action = "none"
	ActionMonitor Action = "monitor"
	ActionAlert   Action = "alert"
)

// Decision is the outcome of the threshold policy.
type Decision struct {
	Action   Action `json:"action"`
	Severity string `json:"severity"`
	Reason   string `json:"reason,omitempty"`
}

// ShouldAlert returns true if the decision creates an alert.
func (d Decision) ShouldAlert() bool {
	return d.Action == ActionAlert
}

// Decide applies the thresholds to a score. It has no side effects.
// Scores at or above HighRisk create an alert, scores at or above
// MediumRisk are monitored, anything lower is ignored.
func Decide(t domain.RiskThresholds, score int, reasons []string) Decision {
	d := Decision{Severity: t.RiskLevel(score)}

	switch {
	case score >= t.HighRisk:
		d.Action = ActionAlert
		d.Reason = ComposeReason(score, d.Severity, reasons)
	case score >= t.MediumRisk:
		d.Action = ActionMonitor
		d.Reason = ComposeReason(score, d.Severity, reasons)
	default:
		d.Action = ActionNone
	}
	return d
}

// ComposeReason joins the scorer's reasons into the alert text.
func ComposeReason(score int, severity string, reasons []string) string {
	if len(reasons) == 0 {
		return fmt.Sprintf("%s risk (score %d)", severity, score)
	}
	return fmt.Sprintf("%s risk (score %d): %s", severity, score, strings.Join(reasons, "; "))
}

// Dispatcher persists the alerts the policy asks for.
type Dispatcher struct {
	repo       domain.Repository
	thresholds domain.RiskThresholds
}

// NewDispatcher creates a dispatcher over repo.
func NewDispatcher(repo domain.Repository, t domain.RiskThresholds) *Dispatcher {
	return &Dispatcher{repo: repo, thresholds: t}
}

// Decide applies the dispatcher's thresholds to a score.
func (d *Dispatcher) Decide(score int, reasons []string) Decision {
	return Decide(d.thresholds, score, reasons)
}

// Dispatch decides on signal and stores an alert when one is due. The
// alert carries the signal's score. A nil alert with a nil error means
// no alert was needed.
func (d *Dispatcher) Dispatch(ctx context.Context, signal *domain.RiskSignal, reasons []string) (*domain.Alert, Decision, error) {
	if signal == nil || signal.TransactionID == "" {
		return nil, Decision{}, fmt.Errorf("%w: signal with transaction id required", domain.ErrInvalidInput)
	}

	decision := d.Decide(signal.RiskScore, reasons)

	switch decision.Action {
	case ActionMonitor:
		slog.Info("transaction flagged for monitoring",
			"transaction_id", signal.TransactionID,
			"risk_score", signal.RiskScore,
			"severity", decision.Severity,
		)
		return nil, decision, nil
	case ActionNone:
		return nil, decision, nil
	}

	a := &domain.Alert{
		TransactionID: signal.TransactionID,
		RiskScore:     signal.RiskScore,
		Severity:      decision.Severity,
		Reason:        decision.Reason,
		Status:        domain.AlertOpen,
	}
	if err := d.repo.SaveAlert(ctx, a); err != nil {
		return nil, decision, fmt.Errorf("failed to save alert: %w", err)
	}

	slog.Warn("alert created",
		"alert_id", a.ID,
		"transaction_id", a.TransactionID,
		"risk_score", a.RiskScore,
		"severity", a.Severity,
	)
	return a, decision, nil
}
