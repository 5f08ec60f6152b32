// Package feedback keeps the append-only log of reviewer verdicts and the
// running accuracy bookkeeping derived from it. Nothing here is trained.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/payguard/internal/domain"
)

// highRiskScore is the engine score above which a case counts as a block call.
const highRiskScore = 0.5

// CaseStore persists confirmed cases. domain.Repository satisfies it.
type CaseStore interface {
	SaveConfirmedCase(ctx context.Context, c *domain.ConfirmedCase) error
	ListConfirmedCases(ctx context.Context, limit int) ([]*domain.ConfirmedCase, error)
}

// Memory is the in-process feedback log. Safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	frauds     []domain.ConfirmedCase
	legitimate []domain.ConfirmedCase

	feedbackCount  int
	correct        int
	total          int
	falsePositives int
	falseNegatives int
	decisions      domain.DecisionTally

	store CaseStore
	now   func() time.Time
}

// NewMemory creates an empty memory. store may be nil.
func NewMemory(store CaseStore) *Memory {
	return &Memory{
		store: store,
		now:   time.Now,
	}
}

// AddFeedback records a reviewer verdict on a scored case and returns the
// stored record. Persistence failures are logged; the in-memory log is
// always updated.
func (m *Memory) AddFeedback(ctx context.Context, c domain.ConfirmedCase) (domain.ConfirmedCase, error) {
	if c.Decision != domain.HumanApprove && c.Decision != domain.HumanBlock {
		return domain.ConfirmedCase{}, fmt.Errorf("invalid decision %q", c.Decision)
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.ConfirmedAt.IsZero() {
		c.ConfirmedAt = m.now()
	}
	c.Vector = c.Vector.Clone()

	m.mu.Lock()
	m.apply(c)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveConfirmedCase(ctx, &c); err != nil {
			slog.Error("failed to persist confirmed case",
				"case_id", c.ID,
				"trader_id", c.TraderID,
				"error", err,
			)
		}
	}

	slog.Info("feedback recorded",
		"trader_id", c.TraderID,
		"decision", c.Decision,
		"accuracy", m.Stats().Accuracy,
	)
	return c, nil
}

// apply updates counters and lists. Caller holds the write lock.
func (m *Memory) apply(c domain.ConfirmedCase) {
	m.feedbackCount++
	m.total++

	wasHighRisk := c.RiskScore > highRiskScore
	blocked := c.Decision == domain.HumanBlock
	switch {
	case wasHighRisk == blocked:
		m.correct++
	case wasHighRisk:
		m.falsePositives++
	default:
		m.falseNegatives++
	}

	if blocked {
		m.frauds = append(m.frauds, c)
	} else {
		m.legitimate = append(m.legitimate, c)
	}
}

// RecordDecision bumps the engine decision tally.
func (m *Memory) RecordDecision(d domain.Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch d {
	case domain.DecisionApproved:
		m.decisions.Approved++
	case domain.DecisionBlocked:
		m.decisions.Blocked++
	default:
		m.decisions.Reviewed++
	}
}

// RecentFraudVectors returns copies of the vectors of the last n confirmed
// frauds, oldest first. Cases without a vector are skipped.
func (m *Memory) RecentFraudVectors(n int) []domain.FeatureVector {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := max(len(m.frauds)-n, 0)
	out := make([]domain.FeatureVector, 0, len(m.frauds)-start)
	for _, c := range m.frauds[start:] {
		if len(c.Vector) == 0 {
			continue
		}
		out = append(out, c.Vector.Clone())
	}
	return out
}

// Stats returns the bookkeeping snapshot.
func (m *Memory) Stats() domain.ModelStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := domain.ModelStats{
		ConfirmedFrauds:     len(m.frauds),
		ConfirmedLegitimate: len(m.legitimate),
		FeedbackCount:       m.feedbackCount,
		Accuracy:            "Collecting data...",
		FalsePositives:      m.falsePositives,
		FalseNegatives:      m.falseNegatives,
		Decisions:           m.decisions,
	}
	if m.total > 0 {
		raw := float64(m.correct) / float64(m.total)
		stats.AccuracyRaw = &raw
		stats.Accuracy = fmt.Sprintf("%.1f%%", raw*100)
	}
	return stats
}

// Cases returns copies of the confirmed fraud and legitimate lists.
func (m *Memory) Cases() (frauds, legitimate []domain.ConfirmedCase) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	frauds = append([]domain.ConfirmedCase(nil), m.frauds...)
	legitimate = append([]domain.ConfirmedCase(nil), m.legitimate...)
	return frauds, legitimate
}

// Restore replays persisted cases, oldest first, into an empty memory.
// The decision tally is not persisted and starts from zero.
func (m *Memory) Restore(ctx context.Context, limit int) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	cases, err := m.store.ListConfirmedCases(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("restore feedback: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cases {
		if c == nil {
			continue
		}
		m.apply(*c)
	}
	return len(cases), nil
}
