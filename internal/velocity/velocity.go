// Package velocity provides trade velocity calculation.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/payguard/internal/domain"
)

// DefaultWindow is the trailing window used for ingestion bursts.
const DefaultWindow = time.Hour

// Service counts trades per trader. Record keeps a fixed-window counter in
// the cache for the ingestion path; TradeCount asks the repository for an
// exact sliding-window count.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	window time.Duration
	now    func() time.Time
}

// NewService creates a new velocity service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		window: DefaultWindow,
		now:    time.Now,
	}
}

// Record counts one more trade for the trader and returns the count in the
// current window.
func (s *Service) Record(ctx context.Context, traderID string) (int64, error) {
	if traderID == "" {
		return 0, fmt.Errorf("traderID is required")
	}
	if s.cache == nil {
		return 0, fmt.Errorf("no cache available")
	}

	count, err := s.cache.IncrementCounter(ctx, domain.CacheNamespaceVelocity, traderID, s.window)
	if err != nil {
		return 0, fmt.Errorf("failed to increment velocity counter: %w", err)
	}
	return count, nil
}

// TradeCount returns the number of trades recorded for a trader within window.
// This is the VelocityGetter signature expected by the rule engine.
func (s *Service) TradeCount(ctx context.Context, traderID string, window time.Duration) (int64, error) {
	if traderID == "" {
		return 0, fmt.Errorf("traderID is required")
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}
	if window <= 0 {
		window = s.window
	}

	count, err := s.repo.CountTradesSince(ctx, traderID, s.now().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return count, nil
}
