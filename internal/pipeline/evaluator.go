// Package pipeline runs a transaction through extraction, scoring,
// alerting and training, and broadcasts what it produced.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/tracing"
	"github.com/opensource-finance/kestrel/internal/training"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Components are the stages an Evaluator chains together. Emitter,
// Metrics and Velocity may be nil.
type Components struct {
	Repo       domain.Repository
	Extractor  *features.Extractor
	Scorer     *scoring.Scorer
	Dispatcher *alert.Dispatcher
	Recorder   *training.Recorder
	Velocity   *velocity.Service
	Emitter    *bus.Emitter
	Metrics    *metrics.Collector
}

// Outcome is everything one evaluation produced.
type Outcome struct {
	Transaction *domain.Transaction `json:"transaction"`
	Signal      *domain.RiskSignal  `json:"signal"`
	Alert       *domain.Alert       `json:"alert,omitempty"`
	Assessment  *domain.Assessment  `json:"assessment"`
	Decision    alert.Decision      `json:"decision"`
	RiskLevel   string              `json:"riskLevel"`
	DurationMs  int64               `json:"durationMs"`
}

// SignalEvent is the broadcast form of a risk signal.
type SignalEvent struct {
	*domain.RiskSignal
	RiskLevel  string   `json:"riskLevel"`
	Reasons    []string `json:"reasons"`
	Confidence float64  `json:"confidence"`
	Degraded   bool     `json:"degraded,omitempty"`
}

// Evaluator is the single path every transaction takes, whether it
// arrives from the API, the bus worker or the simulation.
type Evaluator struct {
	Components
	cfg *domain.Config
}

// New creates an evaluator.
func New(cfg *domain.Config, c Components) *Evaluator {
	return &Evaluator{Components: c, cfg: cfg}
}

// Evaluate stores tx and scores it. Only validation and the transaction
// and signal writes fail the call; later stages log and carry on.
func (e *Evaluator) Evaluate(ctx context.Context, tx *domain.Transaction) (*Outcome, error) {
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "pipeline.evaluate")
	defer span.End()

	if tx == nil {
		return nil, fmt.Errorf("%w: transaction required", domain.ErrInvalidInput)
	}
	if err := domain.ValidateTransactionInput(tx.UserID, tx.DeviceID, tx.MerchantID, tx.Amount); err != nil {
		return nil, err
	}

	// 1. Persist the transaction
	if err := e.Repo.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}
	span.SetAttributes(tracing.TransactionID(tx.ID))
	e.Velocity.Record(ctx, tx.UserID, e.cfg.Features.FrequencyWindow)

	// 2. Extract and score
	vec := e.Extractor.Extract(ctx, tx)
	if vec.Degraded {
		e.Metrics.Degraded("features")
	}

	assessment := e.Scorer.Score(ctx, vec)
	if assessment.Degraded && !vec.Degraded {
		e.Metrics.Degraded("scoring")
	}
	e.Metrics.ObserveScore(assessment.RiskScore)

	// 3. Persist the signal
	signal := &domain.RiskSignal{
		TransactionID: tx.ID,
		SignalType:    domain.SignalTypeComposite,
		RiskScore:     assessment.RiskScore,
	}
	if err := e.Repo.SaveRiskSignal(ctx, signal); err != nil {
		return nil, fmt.Errorf("failed to save risk signal: %w", err)
	}

	out := &Outcome{
		Transaction: tx,
		Signal:      signal,
		Assessment:  assessment,
		RiskLevel:   e.Scorer.RiskLevel(assessment.RiskScore),
	}

	// 4. Alert on high risk
	a, decision, err := e.Dispatcher.Dispatch(ctx, signal, assessment.Reasons)
	out.Decision = decision
	if err != nil {
		slog.Error("alert dispatch failed",
			"transaction_id", tx.ID,
			"risk_score", signal.RiskScore,
			"error", err,
		)
		e.Metrics.Degraded("alert")
	} else if a != nil {
		out.Alert = a
		e.Metrics.AlertCreated(a.Severity)
	}

	// 5. Feed training
	e.Recorder.Record(ctx, tx.ID, vec, e.cfg.Scoring.Thresholds.Label(assessment.RiskScore))

	// 6. Broadcast
	e.broadcast(ctx, out)

	out.DurationMs = time.Since(start).Milliseconds()
	span.SetAttributes(tracing.RiskScore(signal.RiskScore))

	slog.Info("transaction evaluated",
		"transaction_id", tx.ID,
		"risk_score", signal.RiskScore,
		"risk_level", out.RiskLevel,
		"confidence", assessment.Confidence,
		"alert", out.Alert != nil,
		"degraded", assessment.Degraded,
		"duration_ms", out.DurationMs,
	)
	return out, nil
}

// Submit builds a transaction from req and evaluates it.
func (e *Evaluator) Submit(ctx context.Context, req *domain.TransactionRequest) (*Outcome, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request body required", domain.ErrInvalidInput)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return e.Evaluate(ctx, req.ToTransaction())
}

func (e *Evaluator) broadcast(ctx context.Context, out *Outcome) {
	if e.Emitter == nil {
		return
	}

	e.Emitter.Emit(ctx, domain.TopicTransactionCreated, out.Transaction)
	e.Emitter.Emit(ctx, domain.TopicRiskSignalCreated, SignalEvent{
		RiskSignal: out.Signal,
		RiskLevel:  out.RiskLevel,
		Reasons:    out.Assessment.Reasons,
		Confidence: out.Assessment.Confidence,
		Degraded:   out.Assessment.Degraded,
	})
	if out.Alert != nil {
		e.Emitter.Emit(ctx, domain.TopicAlertCreated, out.Alert)
	}

	stats, err := e.Repo.DashboardStats(ctx, e.cfg.Scoring.Thresholds.HighRisk)
	if err != nil {
		slog.Warn("failed to refresh dashboard stats", "error", err)
		return
	}
	e.Emitter.Emit(ctx, domain.TopicDashboardStats, stats)
}
