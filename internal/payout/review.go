package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opensource-finance/payguard/internal/domain"
)

// Reviewer actions.
const (
	ActionApprove = "APPROVE"
	ActionBlock   = "BLOCK"

	bulkNotes = "Bulk action"
)

// DecisionResult is the outcome of a reviewer decision.
type DecisionResult struct {
	Payout       *domain.Payout       `json:"payout"`
	ModelUpdated bool                 `json:"model_updated"`
	ModelStats   domain.ModelStats    `json:"model_stats"`
	Learned      *domain.FraudPattern `json:"learned_pattern,omitempty"`
}

// BulkItem is the per-payout outcome of a bulk action.
type BulkItem struct {
	ID     string              `json:"id"`
	Status domain.PayoutStatus `json:"status,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// BulkResult summarizes a bulk action.
type BulkResult struct {
	Processed  int               `json:"processed"`
	Results    []BulkItem        `json:"results"`
	ModelStats domain.ModelStats `json:"model_stats"`
}

func parseAction(action string) (domain.HumanDecision, domain.PayoutStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case ActionApprove:
		return domain.HumanApprove, domain.PayoutApproved, nil
	case ActionBlock:
		return domain.HumanBlock, domain.PayoutBlocked, nil
	default:
		return "", "", ErrInvalidDecision
	}
}

// Decide applies a reviewer verdict to a payout and feeds it back into the
// feedback memory. A payout can be reviewed once.
func (s *Service) Decide(ctx context.Context, payoutID, action, notes string) (*DecisionResult, error) {
	human, status, err := parseAction(action)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, "payout:"+payoutID)
	if err != nil {
		return nil, fmt.Errorf("lock payout %s: %w", payoutID, err)
	}
	defer unlock()

	p, err := s.load(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if p.ReviewedAt != nil {
		return nil, fmt.Errorf("%w: %s was %s", ErrAlreadyReviewed, p.ID, p.Status)
	}

	reviewed := s.now().UTC()
	p.Status = status
	p.AdminDecision = string(human)
	p.AdminNotes = notes
	p.ReviewedAt = &reviewed

	c := domain.ConfirmedCase{
		TraderID:    p.TraderID,
		PayoutID:    p.ID,
		Profile:     &p.Profile,
		Decision:    human,
		ConfirmedAt: reviewed,
	}
	if a := p.Assessment; a != nil {
		c.RiskScore = a.Score
		c.Flags = append([]string(nil), a.Flags...)
		c.Vector = a.Vector.Clone()
	}
	if human == domain.HumanBlock {
		c.FraudType = domain.FraudAdminConfirmed
	}
	if _, err := s.memory.AddFeedback(ctx, c); err != nil {
		return nil, fmt.Errorf("record feedback: %w", err)
	}

	result := &DecisionResult{Payout: p, ModelUpdated: true}
	if s.opts.LearnOnConfirm && human == domain.HumanBlock && len(c.Vector) == domain.Dimensions {
		learned, err := s.learn(ctx, c.Vector, c.FraudType)
		if err != nil {
			slog.Warn("failed to learn pattern", "payout_id", p.ID, "error", err)
		} else {
			result.Learned = &learned
		}
	}

	s.save(ctx, p)
	s.publish(ctx, domain.TopicPayoutReviewed, p.TraderID, p)

	if s.metrics != nil {
		outcome := "agree"
		if p.Assessment != nil && (p.Assessment.Score > 0.5) != (human == domain.HumanBlock) {
			outcome = "disagree"
		}
		s.metrics.PayoutsReviewed.WithLabelValues(string(human), outcome).Inc()
	}

	result.ModelStats = s.ModelStats()
	slog.Info("payout reviewed",
		"payout_id", p.ID,
		"trader_id", p.TraderID,
		"decision", human,
		"accuracy", result.ModelStats.Accuracy,
		"confirmed_frauds", result.ModelStats.ConfirmedFrauds,
		"confirmed_legitimate", result.ModelStats.ConfirmedLegitimate,
	)
	return result, nil
}

// BulkDecide applies one action to many payouts. Unknown or already
// reviewed payouts are reported per item and do not stop the batch.
func (s *Service) BulkDecide(ctx context.Context, ids []string, action, notes string) (*BulkResult, error) {
	if _, _, err := parseAction(action); err != nil {
		return nil, err
	}
	if notes == "" {
		notes = bulkNotes
	}

	res := &BulkResult{Results: make([]BulkItem, 0, len(ids))}
	for _, id := range ids {
		out, err := s.Decide(ctx, id, action, notes)
		if err != nil {
			if !errors.Is(err, ErrPayoutNotFound) && !errors.Is(err, ErrAlreadyReviewed) {
				slog.Error("bulk decision failed", "payout_id", id, "error", err)
			}
			res.Results = append(res.Results, BulkItem{ID: id, Error: err.Error()})
			continue
		}
		res.Processed++
		res.Results = append(res.Results, BulkItem{ID: id, Status: out.Payout.Status})
	}
	res.ModelStats = s.ModelStats()
	return res, nil
}

// LearnFromTrader appends a pattern built from a trader's current history.
func (s *Service) LearnFromTrader(ctx context.Context, traderID, fraudType string) (domain.FraudPattern, error) {
	if traderID == "" {
		return domain.FraudPattern{}, fmt.Errorf("%w: trader_id is required", ErrInvalidRequest)
	}
	history := s.store.ByTrader(traderID, 0)
	if len(history) == 0 {
		return domain.FraudPattern{}, fmt.Errorf("%w: no trades for %s", ErrInvalidRequest, traderID)
	}
	return s.learn(ctx, s.traderVector(history), fraudType)
}

func (s *Service) learn(ctx context.Context, vector domain.FeatureVector, fraudType string) (domain.FraudPattern, error) {
	p, err := s.library.Learn(vector, fraudType)
	if err != nil {
		return domain.FraudPattern{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := s.repo.SavePattern(ctx, &p); err != nil {
		slog.Error("failed to save learned pattern", "pattern_id", p.ID, "error", err)
	}
	slog.Info("pattern learned", "pattern_id", p.ID, "category", p.Category)
	return p, nil
}
