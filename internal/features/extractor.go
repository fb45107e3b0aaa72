// Package features derives the normalized feature vector of a transaction.
package features

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/tracing"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Extractor gathers the signals used to judge a transaction. Extract
// never fails: any error yields the neutral vector, flagged Degraded.
type Extractor struct {
	repo     domain.Repository
	cache    domain.Cache
	velocity *velocity.Service
	cfg      domain.FeatureConfig
	now      func() time.Time
}

// NewExtractor creates an extractor. cache may be nil.
func NewExtractor(repo domain.Repository, c domain.Cache, vel *velocity.Service, cfg *domain.Config) *Extractor {
	if vel == nil {
		vel = velocity.NewService(repo, c)
	}
	return &Extractor{
		repo:     repo,
		cache:    c,
		velocity: vel,
		cfg:      cfg.Features,
		now:      time.Now,
	}
}

// Extract builds the feature vector for tx. The transaction's own row,
// if already stored, is excluded from its history.
func (e *Extractor) Extract(ctx context.Context, tx *domain.Transaction) *domain.FeatureVector {
	ctx, span := tracing.StartSpan(ctx, "features.extract")
	defer span.End()

	if tx == nil {
		return e.Default(nil, "no transaction")
	}
	span.SetAttributes(tracing.TransactionID(tx.ID))

	vec, err := e.extract(ctx, tx)
	if err != nil {
		slog.Warn("feature extraction degraded",
			"transaction_id", tx.ID,
			"error", err,
		)
		return e.Default(tx, err.Error())
	}
	return vec
}

// lookups are the independent datastore reads behind one vector.
type lookups struct {
	merchantRisk  float64
	deviceAgeHrs  float64
	deviceTxCount int64
	recentCount   int64
	userTxCount   int64
	history       []float64 // prior amounts, newest first
}

func (e *Extractor) extract(ctx context.Context, tx *domain.Transaction) (*domain.FeatureVector, error) {
	if err := domain.ValidateTransactionInput(tx.UserID, tx.DeviceID, tx.MerchantID, tx.Amount); err != nil {
		return nil, err
	}

	now := e.now()
	at := tx.Timestamp
	if at.IsZero() {
		at = now
	}

	var l lookups
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		risk, err := e.merchantRisk(gctx, tx.MerchantID)
		l.merchantRisk = risk
		return err
	})
	g.Go(func() error {
		device, err := e.repo.GetDevice(gctx, tx.DeviceID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return nil
		case err != nil:
			return fmt.Errorf("device lookup: %w", err)
		}
		l.deviceAgeHrs = math.Max(now.Sub(device.LastSeen).Hours(), 0)
		return nil
	})
	g.Go(func() error {
		n, err := e.repo.CountDeviceTransactions(gctx, tx.DeviceID, time.Time{})
		l.deviceTxCount = n
		return err
	})
	g.Go(func() error {
		n, err := e.velocity.RecentCount(gctx, tx.UserID, e.cfg.FrequencyWindow)
		l.recentCount = n
		return err
	})
	g.Go(func() error {
		n, err := e.repo.CountUserTransactions(gctx, tx.UserID, time.Time{})
		l.userTxCount = n
		return err
	})
	g.Go(func() error {
		txs, err := e.repo.ListUserTransactions(gctx, tx.UserID, now.Add(-e.cfg.HistoryWindow), e.cfg.HistoryLimit)
		if err != nil {
			return fmt.Errorf("history lookup: %w", err)
		}
		for _, prior := range txs {
			if prior.ID == tx.ID {
				continue
			}
			l.history = append(l.history, prior.Amount.InexactFloat64())
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return e.build(tx, at, l), nil
}

// merchantRisk reads the merchant risk level through the cache.
func (e *Extractor) merchantRisk(ctx context.Context, merchantID string) (float64, error) {
	key := "merchant:" + merchantID

	var m domain.Merchant
	if e.cache != nil {
		if hit, err := cache.GetJSON(ctx, e.cache, key, &m); err == nil && hit {
			return m.RiskLevel, nil
		}
	}

	found, err := e.repo.GetMerchant(ctx, merchantID)
	if errors.Is(err, domain.ErrNotFound) {
		return e.cfg.DefaultMerchantRisk, nil
	}
	if err != nil {
		return 0, fmt.Errorf("merchant lookup: %w", err)
	}

	if e.cache != nil {
		if err := cache.SetJSON(ctx, e.cache, key, found, e.cfg.MerchantCacheTTL); err != nil {
			slog.Debug("failed to cache merchant", "merchant_id", merchantID, "error", err)
		}
	}
	return found.RiskLevel, nil
}

func (e *Extractor) build(tx *domain.Transaction, at time.Time, l lookups) *domain.FeatureVector {
	cfg := e.cfg
	amount := tx.Amount.InexactFloat64()

	raw := domain.RawFeatures{
		TransactionID:  tx.ID,
		Amount:         amount,
		MerchantRisk:   l.merchantRisk,
		DeviceAgeHours: l.deviceAgeHrs,
		RecentCount:    l.recentCount,
		HistoryCount:   len(l.history),
		UserTxCount:    l.userTxCount,
		DeviceTxCount:  l.deviceTxCount,
		Hour:           at.Hour(),
		Weekday:        int(at.Weekday()),
	}

	if len(l.history) > 0 {
		raw.AvgAmount = mean(l.history)
	}
	if len(l.history) >= 2 {
		newest, oldest := l.history[0], l.history[len(l.history)-1]
		if oldest > 0 {
			raw.AmountVelocity = math.Abs(newest-oldest) / oldest
		}
	}

	pattern, z := e.patternRisk(amount, l.history)
	raw.ZScore = z

	deviceRisk := cfg.DeviceRiskLow
	if l.deviceTxCount < cfg.NewDeviceTxCount {
		deviceRisk = cfg.DeviceRiskHigh
	}

	userBehavior := cfg.UserBehaviorEstablished
	if l.userTxCount < cfg.EstablishedUserTxCount {
		userBehavior = cfg.UserBehaviorNew
	}

	return &domain.FeatureVector{
		Amount:         ratio(amount, cfg.AmountScale),
		MerchantRisk:   ratio(l.merchantRisk, 100),
		DeviceAge:      ratio(l.deviceAgeHrs, cfg.DeviceAgeScale.Hours()),
		Frequency:      ratio(float64(l.recentCount), cfg.FrequencyScale),
		AvgAmount:      ratio(raw.AvgAmount, cfg.AvgAmountScale),
		AmountVelocity: ratio(raw.AmountVelocity, 1),
		DeviceRisk:     deviceRisk,
		UserBehavior:   userBehavior,
		PatternRisk:    pattern,
		TimeOfDay:      float64(raw.Hour) / 23,
		DayOfWeek:      float64(raw.Weekday) / 6,
		Raw:            raw,
	}
}

// patternRisk buckets how far amount sits above the user's recent
// amounts. It also returns the z-score used, 0 when none applies.
func (e *Extractor) patternRisk(amount float64, history []float64) (float64, float64) {
	cfg := e.cfg
	n := len(history)

	if n == 0 {
		return cfg.PatternNeutral, 0
	}

	avg := mean(history)
	if n < cfg.PatternMinHistory {
		if avg <= 0 {
			return cfg.PatternNeutral, 0
		}
		scaled := ratio(amount/avg, 5)
		return cfg.PatternLow + scaled*(cfg.PatternHigh-cfg.PatternLow), 0
	}

	var variance float64
	for _, v := range history {
		variance += (v - avg) * (v - avg)
	}
	std := math.Sqrt(variance / float64(n))

	var z float64
	switch {
	case std > 0:
		z = (amount - avg) / std
	case amount != avg:
		z = math.Copysign(cfg.ZScoreHigh, amount-avg)
	}

	// Only amounts above the average raise the risk, so the dimension
	// never falls as the amount grows.
	switch {
	case z >= cfg.ZScoreHigh:
		return cfg.PatternHigh, z
	case z >= cfg.ZScoreMedium:
		return cfg.PatternMedium, z
	default:
		return cfg.PatternLow, z
	}
}

// Default is the conservative vector substituted on failure: amount
// normalized, everything else neutral.
func (e *Extractor) Default(tx *domain.Transaction, reason string) *domain.FeatureVector {
	cfg := e.cfg
	neutral := cfg.Neutral

	var amount float64
	raw := domain.RawFeatures{
		MerchantRisk:   neutral * 100,
		DeviceAgeHours: neutral * cfg.DeviceAgeScale.Hours(),
	}
	if tx != nil {
		raw.TransactionID = tx.ID
		if tx.Amount.IsPositive() {
			amount = tx.Amount.InexactFloat64()
		}
	}
	raw.Amount = amount

	return &domain.FeatureVector{
		Amount:         ratio(amount, cfg.AmountScale),
		MerchantRisk:   neutral,
		DeviceAge:      neutral,
		Frequency:      neutral,
		AvgAmount:      neutral,
		AmountVelocity: neutral,
		DeviceRisk:     neutral,
		UserBehavior:   neutral,
		PatternRisk:    neutral,
		TimeOfDay:      neutral,
		DayOfWeek:      neutral,
		Raw:            raw,
		Degraded:       true,
		DegradedReason: reason,
	}
}

// ratio is min(v/scale, 1) floored at 0.
func ratio(v, scale float64) float64 {
	if scale <= 0 || v <= 0 || math.IsNaN(v) {
		return 0
	}
	return math.Min(v/scale, 1)
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
