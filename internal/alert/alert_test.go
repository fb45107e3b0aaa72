package alert

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "alert-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestDecide(t *testing.T) {
	th := domain.DefaultConfig().Scoring.Thresholds

	tests := []struct {
		score    int
		action   Action
		severity string
	}{
		{100, ActionAlert, domain.RiskCritical},
		{90, ActionAlert, domain.RiskCritical},
		{80, ActionAlert, domain.RiskHigh},
		{th.HighRisk, ActionAlert, domain.RiskElevated},
		{th.HighRisk - 1, ActionMonitor, domain.RiskMedium},
		{th.MediumRisk, ActionMonitor, domain.RiskMedium},
		{th.MediumRisk - 1, ActionNone, domain.RiskLow},
		{0, ActionNone, domain.RiskVeryLow},
	}

	for _, tt := range tests {
		d := Decide(th, tt.score, []string{"New device (last seen 0.5 hours ago)"})
		if d.Action != tt.action {
			t.Errorf("score %d: expected action %s, got %s", tt.score, tt.action, d.Action)
		}
		if d.Severity != tt.severity {
			t.Errorf("score %d: expected severity %s, got %s", tt.score, tt.severity, d.Severity)
		}
		if d.ShouldAlert() != (tt.action == ActionAlert) {
			t.Errorf("score %d: ShouldAlert mismatch", tt.score)
		}
	}
}

func TestDecideCustomThresholds(t *testing.T) {
	th := domain.RiskThresholds{Critical: 95, High: 85, HighRisk: 60, MediumRisk: 40, Low: 20}

	if d := Decide(th, 65, nil); !d.ShouldAlert() || d.Severity != domain.RiskElevated {
		t.Errorf("expected Elevated alert at 65, got %+v", d)
	}
	if d := Decide(th, 59, nil); d.Action != ActionMonitor {
		t.Errorf("expected monitor at 59, got %+v", d)
	}
}

func TestComposeReason(t *testing.T) {
	got := ComposeReason(82, domain.RiskHigh, []string{"High-risk merchant (risk level 90)", "New device (last seen 0.0 hours ago)"})
	want := "High risk (score 82): High-risk merchant (risk level 90); New device (last seen 0.0 hours ago)"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	if got := ComposeReason(71, domain.RiskElevated, nil); got != "Elevated risk (score 71)" {
		t.Errorf("unexpected reason without details: %q", got)
	}
}

func TestDispatch(t *testing.T) {
	repo := newTestRepo(t)
	th := domain.DefaultConfig().Scoring.Thresholds
	d := NewDispatcher(repo, th)
	ctx := context.Background()

	t.Run("AtThresholdCreatesOneAlert", func(t *testing.T) {
		signal := &domain.RiskSignal{ID: "sig-1", TransactionID: "tx-1", RiskScore: th.HighRisk}
		a, decision, err := d.Dispatch(ctx, signal, []string{"Amount is 6.0x the user's average"})
		if err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
		if a == nil || !decision.ShouldAlert() {
			t.Fatal("expected an alert at the threshold")
		}
		if a.RiskScore != signal.RiskScore {
			t.Errorf("alert score %d should equal signal score %d", a.RiskScore, signal.RiskScore)
		}
		if a.Status != domain.AlertOpen {
			t.Errorf("expected open alert, got %s", a.Status)
		}
		if !strings.Contains(a.Reason, "Amount is 6.0x") {
			t.Errorf("expected reason to carry scorer reasons, got %q", a.Reason)
		}

		alerts, err := repo.ListAlerts(ctx, "", 10)
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) != 1 {
			t.Fatalf("expected 1 stored alert, got %d", len(alerts))
		}
	})

	t.Run("BelowThresholdStoresNothing", func(t *testing.T) {
		for _, score := range []int{th.HighRisk - 1, th.MediumRisk, 10} {
			signal := &domain.RiskSignal{TransactionID: "tx-2", RiskScore: score}
			a, _, err := d.Dispatch(ctx, signal, nil)
			if err != nil {
				t.Fatalf("Dispatch failed: %v", err)
			}
			if a != nil {
				t.Errorf("score %d should not create an alert", score)
			}
		}

		alerts, _ := repo.ListAlerts(ctx, "", 10)
		if len(alerts) != 1 {
			t.Errorf("expected alert count to stay 1, got %d", len(alerts))
		}
	})

	t.Run("InvalidSignal", func(t *testing.T) {
		_, _, err := d.Dispatch(ctx, nil, nil)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("StoreFailure", func(t *testing.T) {
		broken := newTestRepo(t)
		broken.Close()

		_, decision, err := NewDispatcher(broken, th).Dispatch(ctx, &domain.RiskSignal{TransactionID: "tx-3", RiskScore: 95}, nil)
		if err == nil {
			t.Fatal("expected error from closed store")
		}
		if !decision.ShouldAlert() {
			t.Error("decision should still be reported on store failure")
		}
	})
}
