package velocity

import (
	"context"
	"errors"
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

	tmpFile, err := os.CreateTemp("", "velocity-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestVelocityService(t *testing.T) {
	repo := newRepo(t)

	lruCache := cache.NewLRUCache(100)
	defer lruCache.Close()

	svc := NewService(repo, lruCache)
	ctx := context.Background()
	window := 5 * time.Minute

	t.Run("EmptyDatabase", func(t *testing.T) {
		count, err := svc.RecentCount(ctx, "user-001", window)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for empty database, got %d", count)
		}
	})

	t.Run("WithTransactions", func(t *testing.T) {
		now := time.Now().UTC()
		offsets := []time.Duration{-1 * time.Minute, -2 * time.Minute, -3 * time.Minute, -30 * time.Minute}
		for _, off := range offsets {
			tx := &domain.Transaction{
				UserID:     "user-001",
				DeviceID:   "device-001",
				MerchantID: "merchant-001",
				Amount:     decimal.NewFromInt(100),
				Timestamp:  now.Add(off),
			}
			if err := repo.SaveTransaction(ctx, tx); err != nil {
				t.Fatalf("failed to save transaction: %v", err)
			}
		}

		count, err := svc.RecentCount(ctx, "user-001", window)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 3 {
			t.Errorf("expected 3 transactions in window, got %d", count)
		}

		count, err = svc.RecentCount(ctx, "user-001", time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 4 {
			t.Errorf("expected 4 transactions in hour window, got %d", count)
		}

		count, err = svc.RecentCount(ctx, "unknown-user", window)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for unknown user, got %d", count)
		}
	})

	t.Run("RequiresUserID", func(t *testing.T) {
		_, err := svc.RecentCount(ctx, "", window)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("RequiresWindow", func(t *testing.T) {
		_, err := svc.RecentCount(ctx, "user-001", 0)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestCacheFallback(t *testing.T) {
	ctx := context.Background()
	window := 5 * time.Minute

	repo := newRepo(t)
	lruCache := cache.NewLRUCache(100)
	defer lruCache.Close()

	svc := NewService(repo, lruCache)
	svc.Record(ctx, "user-002", window)
	svc.Record(ctx, "user-002", window)

	// A closed store forces the counter path.
	repo.Close()

	count, err := svc.RecentCount(ctx, "user-002", window)
	if err != nil {
		t.Fatalf("expected cache fallback, got error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected cached count 2, got %d", count)
	}
}

func TestNoDataSource(t *testing.T) {
	svc := NewService(nil, nil)

	_, err := svc.RecentCount(context.Background(), "user-001", time.Minute)
	if err == nil {
		t.Error("expected error with no data source")
	}

	// Record without a cache is a no-op.
	svc.Record(context.Background(), "user-001", time.Minute)
}
