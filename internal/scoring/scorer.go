// Package scoring blends the rule-based score with the model prediction.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/tracing"
)

// Fallback values returned when scoring fails.
const (
	FallbackScore      = 50
	FallbackReason     = "Risk analysis failed, manual review recommended"
	FallbackConfidence = 0.05
)

// LowRiskReason is reported when no threshold triggers.
const LowRiskReason = "Low risk transaction"

// Predictor is the model capability the scorer needs.
type Predictor interface {
	Predict(x []float64) float64
}

// RuleEvaluator evaluates custom boost rules.
type RuleEvaluator interface {
	EvaluateAll(ctx context.Context, vec *domain.FeatureVector) []domain.RuleHit
}

// Scorer computes the final risk assessment of a feature vector.
type Scorer struct {
	cfg   *domain.Config
	model Predictor
	rules RuleEvaluator
}

// NewScorer creates a scorer. rules may be nil.
func NewScorer(cfg *domain.Config, model Predictor, rules RuleEvaluator) *Scorer {
	return &Scorer{cfg: cfg, model: model, rules: rules}
}

// RiskLevel maps a score onto the configured severity ladder.
func (s *Scorer) RiskLevel(score int) string {
	return s.cfg.Scoring.Thresholds.RiskLevel(score)
}

// Fallback is the fixed assessment substituted when scoring fails.
func Fallback(reason string) *domain.Assessment {
	return &domain.Assessment{
		RiskScore:       FallbackScore,
		Reasons:         []string{FallbackReason},
		Confidence:      FallbackConfidence,
		ModelPrediction: 0.5,
		Degraded:        true,
		DegradedReason:  reason,
	}
}

// Score never fails; any panic or invalid intermediate yields Fallback.
func (s *Scorer) Score(ctx context.Context, vec *domain.FeatureVector) (result *domain.Assessment) {
	ctx, span := tracing.StartSpan(ctx, "scoring.score")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("risk scoring panicked", "panic", r)
			result = Fallback(fmt.Sprintf("scoring panic: %v", r))
		}
	}()

	if vec == nil {
		return Fallback("no feature vector")
	}

	a, err := s.score(ctx, vec)
	if err != nil {
		slog.Warn("risk scoring degraded",
			"transaction_id", vec.Raw.TransactionID,
			"error", err,
		)
		return Fallback(err.Error())
	}

	span.SetAttributes(tracing.TransactionID(vec.Raw.TransactionID), tracing.RiskScore(a.RiskScore))
	return a
}

func (s *Scorer) score(ctx context.Context, vec *domain.FeatureVector) (*domain.Assessment, error) {
	var hits []domain.RuleHit
	if s.rules != nil {
		hits = s.rules.EvaluateAll(ctx, vec)
	}

	ruleScore := s.ruleScore(vec, hits)

	prediction := 0.5
	if s.model != nil {
		prediction = s.model.Predict(vec.Values())
	}

	confidence := s.confidence(vec)

	blend := confidence*prediction + (1-confidence)*ruleScore
	if math.IsNaN(blend) || math.IsInf(blend, 0) {
		return nil, fmt.Errorf("non-finite blend (rule=%v model=%v confidence=%v)", ruleScore, prediction, confidence)
	}

	score := int(math.Round(100 * blend))
	score = max(0, min(100, score))

	a := &domain.Assessment{
		RiskScore:       score,
		Reasons:         s.reasons(vec, prediction, hits),
		Confidence:      confidence,
		RuleScore:       ruleScore,
		ModelPrediction: prediction,
	}
	if vec.Degraded {
		a.Degraded = true
		a.DegradedReason = "features: " + vec.DegradedReason
	}
	return a, nil
}

// ruleScore is the weighted sum of the normalized dimensions scaled by
// the average of every triggered multiplier, capped at 1. A new device
// contributes through the complement of its normalized age.
func (s *Scorer) ruleScore(vec *domain.FeatureVector, hits []domain.RuleHit) float64 {
	w := s.cfg.Scoring.Weights
	base := w.Amount*vec.Amount +
		w.MerchantRisk*vec.MerchantRisk +
		w.DeviceAge*(1-vec.DeviceAge) +
		w.Frequency*vec.Frequency +
		w.AvgAmount*vec.AvgAmount

	multipliers := s.triggeredMultipliers(vec)
	for _, h := range hits {
		multipliers = append(multipliers, h.Multiplier)
	}

	if len(multipliers) > 0 {
		var sum float64
		for _, m := range multipliers {
			sum += m
		}
		base *= sum / float64(len(multipliers))
	}

	return math.Min(math.Max(base, 0), 1)
}

func (s *Scorer) triggeredMultipliers(vec *domain.FeatureVector) []float64 {
	b := s.cfg.Scoring.Boosts
	m := s.cfg.Scoring.Multipliers
	raw := vec.Raw

	var out []float64
	if raw.AvgAmount > 0 && raw.Amount > b.AmountRatio*raw.AvgAmount {
		out = append(out, m.AmountDeviation)
	}
	if raw.RecentCount > b.RecentCount {
		out = append(out, m.HighFrequency)
	}
	if raw.DeviceAgeHours < b.NewDeviceHours {
		out = append(out, m.NewDevice)
	}
	if raw.MerchantRisk > b.HighRiskMerchant {
		out = append(out, m.HighRiskMerchant)
	}
	return out
}

// confidence measures how much history backs the prediction.
func (s *Scorer) confidence(vec *domain.FeatureVector) float64 {
	c := s.cfg.Scoring.Confidence
	raw := vec.Raw

	conf := c.Base +
		c.HistoryWeight*math.Min(float64(raw.UserTxCount)/c.HistoryScale, 1) +
		c.DeviceWeight*math.Min(float64(raw.DeviceTxCount)/c.DeviceScale, 1)

	if raw.AmountVelocity > c.VelocityLimit {
		conf -= c.VelocityPenalty
	}
	if vec.DeviceRisk >= s.cfg.Features.DeviceRiskHigh {
		conf -= c.DeviceRiskPenalty
	}
	return math.Min(math.Max(conf, c.Min), c.Max)
}

// reasons re-checks the boost thresholds and explains each one that fired.
func (s *Scorer) reasons(vec *domain.FeatureVector, prediction float64, hits []domain.RuleHit) []string {
	b := s.cfg.Scoring.Boosts
	raw := vec.Raw

	var out []string
	if raw.MerchantRisk > b.HighRiskMerchant {
		out = append(out, fmt.Sprintf("High-risk merchant (risk level %.0f)", raw.MerchantRisk))
	}
	if raw.RecentCount > b.RecentCount {
		out = append(out, fmt.Sprintf("High transaction frequency (%d in the last %s)", raw.RecentCount, s.cfg.Features.FrequencyWindow))
	}
	if raw.DeviceAgeHours < b.NewDeviceHours {
		out = append(out, fmt.Sprintf("New device (last seen %.1f hours ago)", raw.DeviceAgeHours))
	}
	if raw.AvgAmount > 0 && raw.Amount > b.AmountRatio*raw.AvgAmount {
		out = append(out, fmt.Sprintf("Amount is %.1fx the user's average", raw.Amount/raw.AvgAmount))
	}
	if raw.Amount > b.LargeAmount {
		out = append(out, fmt.Sprintf("Large transaction amount (%.2f)", raw.Amount))
	}
	if prediction > b.ModelFlag {
		out = append(out, fmt.Sprintf("Model flags high risk (%.0f%%)", prediction*100))
	}
	for _, h := range hits {
		if h.Reason != "" {
			out = append(out, h.Reason)
		}
	}

	if len(out) == 0 {
		return []string{LowRiskReason}
	}
	return out
}
