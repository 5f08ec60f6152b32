package payout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/payguard/internal/domain"
	"github.com/opensource-finance/payguard/internal/features"
	"github.com/opensource-finance/payguard/internal/graph"
	"github.com/opensource-finance/payguard/internal/patterns"
)

// PayoutDetail is a payout with the trader's history and how it compares
// to clean trading.
type PayoutDetail struct {
	*domain.Payout
	History         []*domain.TradeEvent   `json:"history"`
	GraphComparison domain.GraphComparison `json:"graph_comparison"`
}

// TraderComparison contrasts one trader with the clean baseline and the
// pattern catalog.
type TraderComparison struct {
	TraderID            string                     `json:"trader_id"`
	TradeCount          int                        `json:"trade_count"`
	Comparison          domain.GraphComparison     `json:"comparison"`
	FraudPatternMatches []domain.PatternComparison `json:"fraud_pattern_matches"`
}

// PayoutCounts tallies payouts by status.
type PayoutCounts struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Blocked  int `json:"blocked"`
	Approved int `json:"approved"`
}

// ModelSummary is the model section of Stats.
type ModelSummary struct {
	domain.ModelStats
	TotalPatterns int `json:"total_patterns"`
}

// Stats is the dashboard summary.
type Stats struct {
	Model   ModelSummary      `json:"model"`
	Payouts PayoutCounts      `json:"payouts"`
	Alerts  int               `json:"alerts"`
	Trades  int               `json:"trades"`
	Traders int               `json:"traders"`
	Volume  string            `json:"volume"`
	Graph   domain.GraphStats `json:"graph"`
}

// traderVector summarizes a history under a neutral profile.
func (s *Service) traderVector(trades []*domain.TradeEvent) domain.FeatureVector {
	return features.Extract(trades, domain.UserProfile{KYCVerified: true, AccountAgeDays: defaultAccountAgeDays})
}

// Payout returns a payout with its trader's history.
func (s *Service) Payout(ctx context.Context, id string) (*PayoutDetail, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	history := s.store.ByTrader(p.TraderID, 0)
	baseline := s.store.Baseline(p.TraderID, s.opts.BaselineSize)

	return &PayoutDetail{
		Payout:          p,
		History:         history,
		GraphComparison: patterns.CompareGraphs(features.Extract(history, p.Profile), s.traderVector(baseline)),
	}, nil
}

// Payouts lists payouts, newest first. An empty status lists all.
func (s *Service) Payouts(ctx context.Context, status domain.PayoutStatus, limit int) ([]*domain.Payout, error) {
	switch status {
	case "", domain.PayoutApproved, domain.PayoutBlocked, domain.PayoutPendingReview:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	return s.repo.ListPayouts(ctx, status, limit)
}

// Alerts lists alerts, newest first.
func (s *Service) Alerts(ctx context.Context, limit int) ([]*domain.Alert, error) {
	return s.repo.ListAlerts(ctx, limit)
}

// Trades lists stored trades newest first, optionally for one trader.
func (s *Service) Trades(traderID string, limit int) []*domain.TradeEvent {
	if traderID != "" {
		return s.store.ByTrader(traderID, limit)
	}
	return s.store.All(limit)
}

// ModelStats returns the feedback bookkeeping with the learned pattern count.
func (s *Service) ModelStats() domain.ModelStats {
	return s.scorer.ModelStats()
}

// Patterns returns the catalog including learned patterns.
func (s *Service) Patterns() []domain.FraudPattern {
	return s.library.Patterns()
}

// Graph returns the relationship graph.
func (s *Service) Graph() *graph.Graph {
	return s.graph
}

// Stats returns the dashboard summary.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	payouts, err := s.repo.ListPayouts(ctx, "", 0)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	alerts, err := s.repo.ListAlerts(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}

	counts := PayoutCounts{Total: len(payouts)}
	for _, p := range payouts {
		switch p.Status {
		case domain.PayoutPendingReview:
			counts.Pending++
		case domain.PayoutBlocked:
			counts.Blocked++
		case domain.PayoutApproved:
			counts.Approved++
		}
	}

	return &Stats{
		Model: ModelSummary{
			ModelStats:    s.ModelStats(),
			TotalPatterns: len(s.library.Patterns()),
		},
		Payouts: counts,
		Alerts:  len(alerts),
		Trades:  s.store.Len(),
		Traders: s.store.Traders(),
		Volume:  s.store.Volume().StringFixed(2),
		Graph:   s.graph.Stats(),
	}, nil
}

// GraphComparison contrasts a trader's history with clean trading.
func (s *Service) GraphComparison(traderID string) TraderComparison {
	history := s.store.ByTrader(traderID, 0)
	vector := s.traderVector(history)
	baseline := s.traderVector(s.store.Baseline(traderID, 2*s.opts.BaselineSize))

	return TraderComparison{
		TraderID:            traderID,
		TradeCount:          len(history),
		Comparison:          patterns.CompareGraphs(vector, baseline),
		FraudPatternMatches: s.library.TopComparisons(vector),
	}
}

// Hydrate rebuilds in-memory state from the repository: the trade log and
// graph, the feedback memory and learned patterns.
func (s *Service) Hydrate(ctx context.Context, maxTrades int) error {
	trades, err := s.repo.ListTrades(ctx, maxTrades)
	if err != nil {
		return fmt.Errorf("hydrate trades: %w", err)
	}
	s.store.Load(trades)
	for _, t := range trades {
		s.graph.ProcessTransaction(t)
	}

	cases, err := s.memory.Restore(ctx, 0)
	if err != nil {
		return err
	}

	learned, err := s.repo.ListPatterns(ctx)
	if err != nil {
		return fmt.Errorf("hydrate patterns: %w", err)
	}
	restored := make([]domain.FraudPattern, 0, len(learned))
	for _, p := range learned {
		if p != nil {
			restored = append(restored, *p)
		}
	}
	s.library.Restore(restored)

	if s.metrics != nil {
		s.metrics.StoredTrades.Set(float64(s.store.Len()))
		s.metrics.ObserveGraph(int64(s.graph.NodeCount()), int64(s.graph.EdgeCount()))
	}
	slog.Info("state hydrated",
		"trades", len(trades),
		"graph_nodes", s.graph.NodeCount(),
		"confirmed_cases", cases,
		"learned_patterns", len(restored),
	)
	return nil
}

// RunPruner prunes stale graph nodes every interval until ctx is done.
func (s *Service) RunPruner(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := s.graph.Prune(maxAge)
			if s.metrics != nil {
				s.metrics.ObserveGraph(int64(s.graph.NodeCount()), int64(s.graph.EdgeCount()))
			}
			if removed > 0 {
				slog.Info("graph pruned", "removed", removed, "nodes", s.graph.NodeCount())
			}
		}
	}
}
