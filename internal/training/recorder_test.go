package training

import (
	"context"
	"os"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "training-test-*.db")
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

// record stores n examples of each class. Positives are large amounts
// at risky merchants.
func record(t *testing.T, rec *Recorder, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		jitter := 0.01 * float64(i%5)
		rec.Record(ctx, "tx-low", &domain.FeatureVector{Amount: 0.05 + jitter, MerchantRisk: 0.1 + jitter}, 0)
		rec.Record(ctx, "tx-high", &domain.FeatureVector{Amount: 0.9 - jitter, MerchantRisk: 0.9 - jitter}, 1)
	}
}

func TestRecord(t *testing.T) {
	repo := newTestRepo(t)
	cfg := domain.DefaultConfig().Training
	rec := NewRecorder(repo, cfg, metrics.New())
	ctx := context.Background()

	vec := &domain.FeatureVector{Amount: 0.42, Raw: domain.RawFeatures{Amount: 4200}}
	rec.Record(ctx, "tx-1", vec, 1)

	examples, err := repo.ListTrainingExamples(ctx, 10)
	if err != nil {
		t.Fatalf("ListTrainingExamples failed: %v", err)
	}
	if len(examples) != 1 {
		t.Fatalf("expected 1 example, got %d", len(examples))
	}

	ex := examples[0]
	if ex.Label != 1 || ex.TransactionID != "tx-1" {
		t.Errorf("unexpected example: %+v", ex)
	}
	if ex.Features["amount"] != 0.42 || ex.Features["raw_amount"] != 4200 {
		t.Errorf("expected payload to round-trip, got %v", ex.Features)
	}

	t.Run("NilVectorIgnored", func(t *testing.T) {
		rec.Record(ctx, "tx-2", nil, 0)
		if n, _ := repo.CountTrainingExamples(ctx); n != 1 {
			t.Errorf("expected count to stay 1, got %d", n)
		}
	})

	t.Run("StoreFailureSwallowed", func(t *testing.T) {
		broken := newTestRepo(t)
		broken.Close()
		NewRecorder(broken, cfg, nil).Record(ctx, "tx-3", vec, 0)
	})

	t.Run("InvalidLabelSwallowed", func(t *testing.T) {
		rec.Record(ctx, "tx-4", vec, 7)
		if n, _ := repo.CountTrainingExamples(ctx); n != 1 {
			t.Errorf("expected invalid label to be dropped, count %d", n)
		}
	})
}

func TestRetrain(t *testing.T) {
	cfg := domain.DefaultConfig().Training
	ctx := context.Background()

	t.Run("TooFewExamples", func(t *testing.T) {
		repo := newTestRepo(t)
		rec := NewRecorder(repo, cfg, nil)
		mgr := model.NewManager(repo, cfg)
		mgr.Initialize(ctx)

		record(t, rec, (cfg.MinSamples-1)/2)

		res, err := rec.Retrain(ctx, mgr)
		if err != nil {
			t.Fatalf("expected silent no-op, got %v", err)
		}
		if res.Trained {
			t.Error("expected no training below min samples")
		}
		if mgr.IsTrained() {
			t.Error("model should stay untrained")
		}
		if _, err := repo.LatestModel(ctx, mgr.Kind()); err == nil {
			t.Error("no model row should be written")
		}
	})

	t.Run("TrainsAndPersists", func(t *testing.T) {
		repo := newTestRepo(t)
		rec := NewRecorder(repo, cfg, metrics.New())
		mgr := model.NewManager(repo, cfg)
		mgr.Initialize(ctx)

		record(t, rec, cfg.MinSamples)

		res, err := rec.Retrain(ctx, mgr)
		if err != nil {
			t.Fatalf("Retrain failed: %v", err)
		}
		if !res.Trained || res.Samples != 2*cfg.MinSamples {
			t.Fatalf("unexpected result: %+v", res)
		}
		if res.Accuracy == nil || *res.Accuracy < 0.9 || *res.Accuracy > 1 {
			t.Errorf("expected high accuracy on separable data, got %v", res.Accuracy)
		}
		if res.Model.Version != "1.0.1" {
			t.Errorf("expected version 1.0.1, got %s", res.Model.Version)
		}
		if !mgr.IsTrained() {
			t.Error("manager should report trained")
		}

		high := (&domain.FeatureVector{Amount: 0.9, MerchantRisk: 0.9}).Values()
		low := (&domain.FeatureVector{Amount: 0.05, MerchantRisk: 0.1}).Values()
		if mgr.Predict(high) <= mgr.Predict(low) {
			t.Error("trained model should rank the risky vector higher")
		}

		res, err = rec.Retrain(ctx, mgr)
		if err != nil {
			t.Fatalf("second Retrain failed: %v", err)
		}
		if res.Model.Version != "1.0.2" {
			t.Errorf("expected version 1.0.2, got %s", res.Model.Version)
		}
	})

	t.Run("StoreFailure", func(t *testing.T) {
		repo := newTestRepo(t)
		repo.Close()
		if _, err := NewRecorder(repo, cfg, nil).Retrain(ctx, model.NewManager(repo, cfg)); err == nil {
			t.Error("expected error when examples cannot be loaded")
		}
	})
}
