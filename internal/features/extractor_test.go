package features

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "features-test-*.db")
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

func assertUnitRange(t *testing.T, vec *domain.FeatureVector) {
	t.Helper()
	for i, v := range vec.Values() {
		if v < 0 || v > 1 || math.IsNaN(v) {
			t.Errorf("dimension %s = %v outside [0,1]", domain.FeatureNames[i], v)
		}
	}
}

func TestExtract(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	lru := cache.NewLRUCache(100)
	defer lru.Close()

	cfg := domain.DefaultConfig()
	ex := NewExtractor(repo, lru, nil, cfg)

	risky := &domain.Merchant{Name: "Night Casino", Category: "gambling", RiskLevel: 90}
	if err := repo.SaveMerchant(ctx, risky); err != nil {
		t.Fatalf("SaveMerchant failed: %v", err)
	}
	user := &domain.User{Name: "Grace", Email: "grace@example.com"}
	if err := repo.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}
	fresh := &domain.Device{UserID: user.ID, Fingerprint: "fp-new", LastSeen: time.Now().UTC()}
	if err := repo.SaveDevice(ctx, fresh); err != nil {
		t.Fatalf("SaveDevice failed: %v", err)
	}
	old := &domain.Device{UserID: user.ID, Fingerprint: "fp-old", LastSeen: time.Now().UTC().Add(-48 * time.Hour)}
	if err := repo.SaveDevice(ctx, old); err != nil {
		t.Fatalf("SaveDevice failed: %v", err)
	}

	t.Run("RiskyContext", func(t *testing.T) {
		vec := ex.Extract(ctx, &domain.Transaction{
			ID:         "tx-risky",
			UserID:     user.ID,
			DeviceID:   fresh.ID,
			MerchantID: risky.ID,
			Amount:     decimal.NewFromInt(10000),
		})
		if vec.Degraded {
			t.Fatalf("unexpected degraded vector: %s", vec.DegradedReason)
		}
		assertUnitRange(t, vec)

		if vec.Amount != 1 {
			t.Errorf("expected amount 1, got %v", vec.Amount)
		}
		if math.Abs(vec.MerchantRisk-0.9) > 1e-9 {
			t.Errorf("expected merchant risk 0.9, got %v", vec.MerchantRisk)
		}
		if vec.DeviceAge > 0.01 {
			t.Errorf("expected device age near 0, got %v", vec.DeviceAge)
		}
		if vec.DeviceRisk != cfg.Features.DeviceRiskHigh {
			t.Errorf("expected high device risk, got %v", vec.DeviceRisk)
		}
		if vec.UserBehavior != cfg.Features.UserBehaviorNew {
			t.Errorf("expected new-user behavior, got %v", vec.UserBehavior)
		}
		if vec.PatternRisk != cfg.Features.PatternNeutral {
			t.Errorf("expected neutral pattern risk without history, got %v", vec.PatternRisk)
		}
		if vec.Raw.MerchantRisk != 90 {
			t.Errorf("expected raw merchant risk 90, got %v", vec.Raw.MerchantRisk)
		}
	})

	t.Run("MerchantIsCached", func(t *testing.T) {
		var m domain.Merchant
		hit, err := cache.GetJSON(ctx, lru, "merchant:"+risky.ID, &m)
		if err != nil || !hit {
			t.Fatalf("expected cached merchant, hit=%v err=%v", hit, err)
		}
		if m.RiskLevel != 90 {
			t.Errorf("expected cached risk 90, got %v", m.RiskLevel)
		}
	})

	t.Run("MissingEntities", func(t *testing.T) {
		vec := ex.Extract(ctx, &domain.Transaction{
			ID:         "tx-missing",
			UserID:     "ghost",
			DeviceID:   "ghost-device",
			MerchantID: "ghost-merchant",
			Amount:     decimal.NewFromInt(50),
		})
		if vec.Degraded {
			t.Fatalf("missing entities must not degrade: %s", vec.DegradedReason)
		}
		if vec.Raw.MerchantRisk != cfg.Features.DefaultMerchantRisk {
			t.Errorf("expected default merchant risk, got %v", vec.Raw.MerchantRisk)
		}
		if vec.Raw.DeviceAgeHours != 0 {
			t.Errorf("expected device age 0 for missing device, got %v", vec.Raw.DeviceAgeHours)
		}
	})

	t.Run("HistoryExcludesSelf", func(t *testing.T) {
		base := time.Now().UTC().Add(-time.Hour)
		for i, amt := range []int64{100, 110, 90} {
			tx := &domain.Transaction{
				UserID:     user.ID,
				DeviceID:   old.ID,
				MerchantID: risky.ID,
				Amount:     decimal.NewFromInt(amt),
				Timestamp:  base.Add(time.Duration(i) * time.Minute),
			}
			if err := repo.SaveTransaction(ctx, tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}
		}

		current := &domain.Transaction{
			UserID:     user.ID,
			DeviceID:   old.ID,
			MerchantID: risky.ID,
			Amount:     decimal.NewFromInt(5000),
		}
		if err := repo.SaveTransaction(ctx, current); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		vec := ex.Extract(ctx, current)
		assertUnitRange(t, vec)
		if vec.Raw.HistoryCount != 3 {
			t.Fatalf("expected 3 prior amounts, got %d", vec.Raw.HistoryCount)
		}
		if math.Abs(vec.Raw.AvgAmount-100) > 1e-9 {
			t.Errorf("expected average 100, got %v", vec.Raw.AvgAmount)
		}
		if vec.PatternRisk != cfg.Features.PatternHigh {
			t.Errorf("expected high pattern risk for 50x deviation, got %v", vec.PatternRisk)
		}
		if vec.DeviceAge != 1 {
			t.Errorf("expected saturated device age, got %v", vec.DeviceAge)
		}
		if vec.Raw.RecentCount != 1 {
			t.Errorf("expected 1 transaction in frequency window, got %d", vec.Raw.RecentCount)
		}
	})

	t.Run("InvalidInputDegrades", func(t *testing.T) {
		vec := ex.Extract(ctx, &domain.Transaction{
			ID:         "tx-bad",
			UserID:     "",
			DeviceID:   "d",
			MerchantID: "m",
			Amount:     decimal.NewFromInt(500),
		})
		if !vec.Degraded {
			t.Fatal("expected degraded vector for invalid input")
		}
		if math.Abs(vec.Amount-0.05) > 1e-9 {
			t.Errorf("expected amount kept at 0.05, got %v", vec.Amount)
		}
		if vec.MerchantRisk != 0.5 || vec.Frequency != 0.5 || vec.PatternRisk != 0.5 {
			t.Errorf("expected neutral dimensions, got %+v", vec)
		}
	})

	t.Run("NilTransaction", func(t *testing.T) {
		vec := ex.Extract(ctx, nil)
		if !vec.Degraded {
			t.Fatal("expected degraded vector")
		}
		assertUnitRange(t, vec)
	})
}

func TestExtractStoreUnavailable(t *testing.T) {
	repo := newRepo(t)
	ex := NewExtractor(repo, nil, nil, domain.DefaultConfig())
	repo.Close()

	vec := ex.Extract(context.Background(), &domain.Transaction{
		ID:         "tx-1",
		UserID:     "u",
		DeviceID:   "d",
		MerchantID: "m",
		Amount:     decimal.NewFromInt(100),
	})
	if !vec.Degraded {
		t.Fatal("expected degraded vector when the store is closed")
	}
	if vec.DegradedReason == "" {
		t.Error("expected a degraded reason")
	}
	assertUnitRange(t, vec)
}

func TestPatternRisk(t *testing.T) {
	cfg := domain.DefaultConfig()
	ex := &Extractor{cfg: cfg.Features}

	tests := []struct {
		name    string
		amount  float64
		history []float64
		want    float64
	}{
		{"NoHistory", 100, nil, 0.5},
		{"ShortHistoryAtAverage", 100, []float64{100}, 0.3 + 0.2*0.5},
		{"ShortHistorySaturated", 1000, []float64{100, 100}, 0.8},
		{"WithinNormal", 105, []float64{100, 110, 90, 100}, 0.3},
		{"TwoSigma", 120, []float64{100, 110, 90, 100}, 0.6},
		{"ThreeSigma", 200, []float64{100, 110, 90, 100}, 0.8},
		{"FlatHistorySame", 50, []float64{50, 50, 50}, 0.3},
		{"FlatHistoryDiffers", 51, []float64{50, 50, 50}, 0.8},
		{"FarBelowAverage", 10, []float64{100, 110, 90, 100}, 0.3},
		{"FlatHistoryBelow", 49, []float64{50, 50, 50}, 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := ex.patternRisk(tt.amount, tt.history)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("patternRisk(%v, %v) = %v, want %v", tt.amount, tt.history, got, tt.want)
			}
		})
	}

	t.Run("NonDecreasingInAmount", func(t *testing.T) {
		for _, history := range [][]float64{{100}, {80, 120}, {80, 120, 100}, {50, 50, 50}} {
			prev := -1.0
			for amount := 1.0; amount <= 1000; amount += 7 {
				got, _ := ex.patternRisk(amount, history)
				if got < prev {
					t.Fatalf("history %v: pattern risk fell from %v to %v at %v", history, prev, got, amount)
				}
				prev = got
			}
		}
	})
}
