package scoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/payguard/internal/domain"
)

// Per-trade increments.
const (
	tradeWeightFraudFlag = 0.5
	tradeWeightRing      = 0.35
	tradeWeightFraudType = 0.3
	tradeWeightCountry   = 0.15
	tradeWeightVelocity  = 0.25

	tradeDecisionMonitor = "MONITOR"
)

// VelocityRecorder counts a trader's trades in the trailing window.
type VelocityRecorder interface {
	Record(ctx context.Context, traderID string) (int64, error)
}

// TradeAssessor attaches a TradeRisk to each ingested trade.
type TradeAssessor struct {
	countries map[string]struct{}
	velocity  VelocityRecorder
	now       func() time.Time
}

// NewTradeAssessor creates an assessor. velocity may be nil.
func NewTradeAssessor(suspiciousCountries []string, velocity VelocityRecorder) *TradeAssessor {
	countries := make(map[string]struct{}, len(suspiciousCountries))
	for _, c := range suspiciousCountries {
		countries[c] = struct{}{}
	}
	return &TradeAssessor{
		countries: countries,
		velocity:  velocity,
		now:       time.Now,
	}
}

// Assess scores a single trade. The velocity counter is advanced as a side
// effect, so call it exactly once per ingested trade.
func (a *TradeAssessor) Assess(ctx context.Context, t *domain.TradeEvent) domain.TradeRisk {
	var score float64
	reasons := make([]string, 0)

	if t.IsFraud {
		score += tradeWeightFraudFlag
		reasons = append(reasons, "FRAUD_FLAG")
	}
	if t.RingIDValue() != "" {
		score += tradeWeightRing
		reasons = append(reasons, "RING_CONNECTION")
	}
	if ft := t.FraudTypeValue(); ft != "" {
		score += tradeWeightFraudType
		reasons = append(reasons, "TYPE:"+ft)
	}
	if _, ok := a.countries[t.Country]; ok {
		score += tradeWeightCountry
		reasons = append(reasons, "SUSPICIOUS_COUNTRY")
	}
	if a.velocity != nil {
		count, err := a.velocity.Record(ctx, t.TraderID)
		if err != nil {
			slog.Warn("velocity lookup failed", "trader_id", t.TraderID, "error", err)
		} else if count > velocityLimit {
			score += tradeWeightVelocity
			reasons = append(reasons, "VELOCITY_BURST")
		}
	}

	score = clip(score)
	level := domain.RiskLevelLow
	switch {
	case score > 0.7:
		level = domain.RiskLevelHigh
	case score > 0.3:
		level = domain.RiskLevelMedium
	}

	return domain.TradeRisk{
		Score:      score,
		RiskLevel:  level,
		Reasons:    reasons,
		Decision:   tradeDecisionMonitor,
		AssessedAt: a.now(),
	}
}
