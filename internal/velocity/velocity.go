// Package velocity counts recent transactions for the frequency signal.
package velocity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service counts a user's transactions in a trailing window. The store
// is authoritative; the cache counter, bumped by Record, answers when
// the store is unavailable.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	now   func() time.Time
}

// NewService creates a new velocity service. cache may be nil.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		now:   time.Now,
	}
}

func counterKey(userID string, window time.Duration) string {
	return fmt.Sprintf("velocity:user:%s:%d", userID, int64(window.Seconds()))
}

// RecentCount returns the number of transactions userID made within window.
func (s *Service) RecentCount(ctx context.Context, userID string, window time.Duration) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: userID is required", domain.ErrInvalidInput)
	}
	if window <= 0 {
		return 0, fmt.Errorf("%w: window must be positive", domain.ErrInvalidInput)
	}

	var storeErr error
	if s.repo != nil {
		count, err := s.repo.CountUserTransactions(ctx, userID, s.now().Add(-window))
		if err == nil {
			return count, nil
		}
		storeErr = err
	} else {
		storeErr = errors.New("no repository configured")
	}

	if s.cache != nil {
		count, err := s.cache.GetCounter(ctx, counterKey(userID, window))
		if err == nil {
			slog.Warn("velocity served from cache counter",
				"user_id", userID,
				"error", storeErr,
			)
			return count, nil
		}
	}

	return 0, fmt.Errorf("failed to count recent transactions: %w", storeErr)
}

// Record bumps the cache counter for userID. A nil Service ignores the
// call and counter failures are logged.
func (s *Service) Record(ctx context.Context, userID string, window time.Duration) {
	if s == nil || s.cache == nil || userID == "" || window <= 0 {
		return
	}
	if _, err := s.cache.IncrementCounter(ctx, counterKey(userID, window), window); err != nil {
		slog.Warn("failed to bump velocity counter", "user_id", userID, "error", err)
	}
}
