package velocity

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/payguard/internal/cache"
	"github.com/opensource-finance/payguard/internal/domain"
	"github.com/opensource-finance/payguard/internal/repository"
)

func TestVelocityService(t *testing.T) {
	// Create temp database
	tmpFile, err := os.CreateTemp("", "velocity-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	lruCache := cache.NewLRUCache(100)
	defer lruCache.Close()

	svc := NewService(repo, lruCache)
	ctx := context.Background()

	t.Run("EmptyDatabase", func(t *testing.T) {
		count, err := svc.TradeCount(ctx, "trader-001", time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for empty database, got %d", count)
		}
	})

	t.Run("WithTrades", func(t *testing.T) {
		now := time.Now().UTC()
		for i := 0; i < 5; i++ {
			trade := &domain.TradeEvent{
				TradeID:    fmt.Sprintf("trade-%d", i),
				TraderID:   "trader-001",
				Symbol:     "AAPL",
				Type:       domain.SideBuy,
				Quantity:   1,
				Price:      100,
				TotalValue: 100,
				Timestamp:  now,
			}
			if err := repo.SaveTrade(ctx, trade); err != nil {
				t.Fatalf("failed to save trade: %v", err)
			}
		}

		old := &domain.TradeEvent{
			TradeID:   "trade-old",
			TraderID:  "trader-001",
			Type:      domain.SideSell,
			Timestamp: now.Add(-3 * time.Hour),
		}
		if err := repo.SaveTrade(ctx, old); err != nil {
			t.Fatalf("failed to save trade: %v", err)
		}

		count, err := svc.TradeCount(ctx, "trader-001", time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 5 {
			t.Errorf("expected count 5 in the last hour, got %d", count)
		}

		count, err = svc.TradeCount(ctx, "trader-001", 24*time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 6 {
			t.Errorf("expected count 6 in the last day, got %d", count)
		}

		count, err = svc.TradeCount(ctx, "unknown-trader", time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for unknown trader, got %d", count)
		}
	})

	t.Run("RequiresTraderID", func(t *testing.T) {
		if _, err := svc.TradeCount(ctx, "", time.Hour); err == nil {
			t.Error("expected error for empty traderID")
		}
		if _, err := svc.Record(ctx, ""); err == nil {
			t.Error("expected error for empty traderID")
		}
	})
}

func TestRecord(t *testing.T) {
	lruCache := cache.NewLRUCache(100)
	defer lruCache.Close()

	svc := NewService(nil, lruCache)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, err := svc.Record(ctx, "trader-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != i {
			t.Errorf("expected count %d, got %d", i, count)
		}
	}

	count, err := svc.Record(ctx, "trader-002")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected independent counter per trader, got %d", count)
	}
}

func TestNoDataSource(t *testing.T) {
	svc := NewService(nil, nil)
	ctx := context.Background()

	if _, err := svc.TradeCount(ctx, "trader-001", time.Hour); err == nil {
		t.Error("expected error without repository")
	}
	if _, err := svc.Record(ctx, "trader-001"); err == nil {
		t.Error("expected error without cache")
	}
}
