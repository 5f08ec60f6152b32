// Package scoring implements the additive payout risk scorer and the
// lightweight per-trade assessment applied at ingestion.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/payguard/internal/domain"
	"github.com/opensource-finance/payguard/internal/features"
	"github.com/opensource-finance/payguard/internal/feedback"
	"github.com/opensource-finance/payguard/internal/patterns"
	"github.com/opensource-finance/payguard/internal/rules"
)

// Score increments. Each condition adds independently.
const (
	weightFraudRatio       = 0.35
	weightNoTrade          = 0.6
	weightVelocity         = 0.25
	weightDevices          = 0.2
	weightCountries        = 0.25
	weightNewDevice        = 0.2
	weightVPN              = 0.15
	weightWashTrading      = 0.5
	weightPumpAndDump      = 0.45
	weightAccountTakeover  = 0.6
	weightRing             = 0.4
	weightMoneyLaundering  = 0.55
	weightEmbeddingMatch   = 0.4
	weightAnomaly          = 0.35
	weightConfirmedSimilar = 0.3
)

// Signal thresholds.
const (
	fraudRatioLimit        = 0.3
	noTradeMaxTrades       = 2
	noTradeRatioLimit      = 0.1
	velocityLimit          = 20
	deviceLimit            = 3
	countryLimit           = 2
	confirmedSimilarity    = 0.7
	defaultFraudWindow     = 20
	topEmbeddingMatches    = 3
	noTradeConfidence      = 0.9
	velocityWindow         = time.Hour
	newCustomerSignalLabel = "Insufficient behavioral history for high-confidence decision"
)

// Signal and pattern names.
const (
	SignalNewCustomer      = "NEW_CUSTOMER"
	SignalHighFraudRatio   = "HIGH_FRAUD_RATIO"
	SignalHighVelocity     = "HIGH_VELOCITY"
	SignalDeviceAnomaly    = "DEVICE_ANOMALY"
	SignalGeoImpossibility = "GEO_IMPOSSIBILITY"
	SignalNewDevice        = "NEW_DEVICE"
	SignalVPN              = "VPN_DETECTED"
	PatternNoTradeFraud    = "NO_TRADE_FRAUD"
	PatternRingConnection  = "RING_CONNECTION"
	PatternUnknownAnomaly  = "UNKNOWN_ANOMALY"
	PatternCustomRule      = "CUSTOM_RULE"
)

// RuleEvaluator runs operator-supplied rules. *rules.Engine satisfies it.
type RuleEvaluator interface {
	EvaluateAll(ctx context.Context, input *rules.EvaluateInput) ([]domain.RuleResult, error)
}

// PayoutInput is everything the scorer reads for one request. Trades must be
// a snapshot the caller will not mutate during scoring.
type PayoutInput struct {
	TraderID string
	Amount   float64
	Trades   []*domain.TradeEvent
	Profile  domain.UserProfile
}

// Scorer produces RiskAssessments. Apart from the decision tally it never
// mutates shared state, and it never fails.
type Scorer struct {
	cfg         domain.ScoringConfig
	library     *patterns.Library
	memory      *feedback.Memory
	rules       RuleEvaluator
	fraudWindow int
	now         func() time.Time
}

// NewScorer creates a scorer. ruleEval may be nil.
func NewScorer(cfg domain.ScoringConfig, library *patterns.Library, memory *feedback.Memory, ruleEval RuleEvaluator, fraudWindow int) *Scorer {
	if fraudWindow <= 0 {
		fraudWindow = defaultFraudWindow
	}
	if library == nil {
		library = patterns.NewLibrary()
	}
	if memory == nil {
		memory = feedback.NewMemory(nil)
	}
	return &Scorer{
		cfg:         cfg,
		library:     library,
		memory:      memory,
		rules:       ruleEval,
		fraudWindow: fraudWindow,
		now:         time.Now,
	}
}

// Config returns the thresholds in use.
func (s *Scorer) Config() domain.ScoringConfig {
	return s.cfg
}

// ModelStats returns feedback bookkeeping plus the learned pattern count.
func (s *Scorer) ModelStats() domain.ModelStats {
	stats := s.memory.Stats()
	stats.LearnedPatterns = s.library.LearnedCount()
	return stats
}

// assessment accumulates score, flags and signals.
type assessment struct {
	score   float64
	flags   []string
	signals domain.Signals
}

func (a *assessment) add(weight float64, flag string) {
	a.score += weight
	if flag != "" {
		a.flags = append(a.flags, flag)
	}
}

// AssessPayout scores a payout request.
func (s *Scorer) AssessPayout(ctx context.Context, in PayoutInput) *domain.RiskAssessment {
	now := s.now()
	sum := features.Summarize(in.Trades)
	vector := features.FromSummary(sum, in.Profile)

	a := &assessment{
		flags:   make([]string, 0),
		signals: domain.NewSignals(),
	}

	// New customers cannot be auto-approved on a low score alone.
	isNewCustomer := sum.Count < s.cfg.MinTradesForConfidence
	if isNewCustomer {
		a.add(s.cfg.NewCustomerPenalty, fmt.Sprintf("New customer with only %d trades", sum.Count))
		a.signals.Behavioral = append(a.signals.Behavioral, domain.Signal{
			Signal:  SignalNewCustomer,
			Value:   float64(sum.Count),
			Risk:    domain.RiskLevelMedium,
			Message: newCustomerSignalLabel,
		})
	}

	fraudRatio := float64(sum.Suspicious) / float64(max(sum.Count, 1))
	if fraudRatio > fraudRatioLimit {
		a.add(weightFraudRatio, fmt.Sprintf("High suspicious trade ratio: %d%%", int(math.Round(fraudRatio*100))))
		a.signals.Behavioral = append(a.signals.Behavioral, domain.Signal{
			Signal: SignalHighFraudRatio,
			Value:  fraudRatio,
			Risk:   domain.RiskLevelHigh,
		})
	}

	s.noTradeFraud(a, sum, in.Profile)
	s.velocity(a, in.Trades, now)
	s.technical(a, sum, in.Profile)
	s.historyFlags(a, in.Trades)

	matches := s.library.FindMatches(vector, s.cfg.EmbeddingMatchThreshold)
	if len(matches) > 0 {
		top := matches[0]
		a.add(top.Similarity*weightEmbeddingMatch,
			fmt.Sprintf("Pattern match: %s (%d%%)", top.PatternName, int(math.Round(top.Similarity*100))))
		a.signals.Pattern = append(a.signals.Pattern, domain.Signal{
			Pattern:    top.Category,
			Similarity: top.Similarity,
			Severity:   top.Severity,
			AutoAction: top.AutoAction,
		})
	}

	var anomaly domain.AnomalyResult
	if s.cfg.AnomalyDetectionEnabled {
		anomaly = s.library.DetectAnomaly(vector, patterns.NormalBaseline)
		if anomaly.IsAnomaly {
			a.add(anomaly.AnomalyScore*weightAnomaly, "Unknown fraud pattern detected (anomaly)")
			a.signals.Pattern = append(a.signals.Pattern, domain.Signal{
				Pattern:      PatternUnknownAnomaly,
				AnomalyScore: anomaly.AnomalyScore,
				Severity:     domain.SeverityHigh,
				Message:      anomaly.Message,
			})
		}
	}

	for _, confirmed := range s.memory.RecentFraudVectors(s.fraudWindow) {
		if patterns.Cosine(vector, confirmed) > confirmedSimilarity {
			a.add(weightConfirmedSimilar, "Similar to confirmed fraud case")
			break
		}
	}

	ruleResults := s.customRules(ctx, a, in, sum, vector)

	a.score = clip(a.score)

	decision, confidence, action := s.decide(a, isNewCustomer)
	s.memory.RecordDecision(decision)

	if len(matches) > topEmbeddingMatches {
		matches = matches[:topEmbeddingMatches]
	}

	return &domain.RiskAssessment{
		TraderID:         in.TraderID,
		Score:            a.score,
		Decision:         decision,
		Confidence:       confidence,
		AutoAction:       action,
		Flags:            a.flags,
		Signals:          a.signals,
		IsNewCustomer:    isNewCustomer,
		EmbeddingMatches: matches,
		Anomaly:          anomaly,
		GraphComparison:  s.library.TopComparisons(vector),
		RuleResults:      ruleResults,
		Vector:           vector,
		TotalTrades:      sum.Count,
		SuspiciousTrades: sum.Suspicious,
		UniqueDevices:    sum.UniqueDevices,
		UniqueIPs:        sum.UniqueIPs,
		UniqueCountries:  sum.UniqueCountries,
		TotalVolume:      sum.TotalValue,
		ModelStats:       s.ModelStats(),
		AssessedAt:       now,
	}
}

// noTradeFraud catches deposit-then-withdraw with almost no trading.
func (s *Scorer) noTradeFraud(a *assessment, sum features.Summary, profile domain.UserProfile) {
	deposit := profile.DepositAmount
	if deposit <= 0 {
		deposit = s.cfg.DefaultDepositAmount
	}
	if deposit <= 0 {
		return
	}
	tradingRatio := sum.TotalValue / (deposit * 2)
	if sum.Count > noTradeMaxTrades || tradingRatio >= noTradeRatioLimit {
		return
	}

	a.add(weightNoTrade, "NO-TRADE FRAUD: Minimal trading activity after deposit")
	a.signals.Pattern = append(a.signals.Pattern, domain.Signal{
		Pattern:    PatternNoTradeFraud,
		Confidence: noTradeConfidence,
		Severity:   domain.SeverityCritical,
		AutoAction: domain.ActionBlockAndNotify,
	})
}

// velocity counts trades in the trailing hour.
func (s *Scorer) velocity(a *assessment, trades []*domain.TradeEvent, now time.Time) {
	recent := 0
	for _, t := range trades {
		if t != nil && now.Sub(t.Timestamp) < velocityWindow {
			recent++
		}
	}
	if recent <= velocityLimit {
		return
	}
	a.add(weightVelocity, fmt.Sprintf("Velocity abuse: %d trades in last hour", recent))
	a.signals.Velocity = append(a.signals.Velocity, domain.Signal{
		Signal:        SignalHighVelocity,
		TradesPerHour: recent,
		Risk:          domain.RiskLevelHigh,
	})
}

func (s *Scorer) technical(a *assessment, sum features.Summary, profile domain.UserProfile) {
	if sum.UniqueDevices > deviceLimit {
		a.add(weightDevices, fmt.Sprintf("Device fingerprint anomaly: %d devices", sum.UniqueDevices))
		a.signals.Technical = append(a.signals.Technical, domain.Signal{
			Signal: SignalDeviceAnomaly,
			Value:  float64(sum.UniqueDevices),
			Risk:   domain.RiskLevelMedium,
		})
	}
	if sum.UniqueCountries > countryLimit {
		a.add(weightCountries, fmt.Sprintf("Geographic impossibility: %d countries", sum.UniqueCountries))
		a.signals.Technical = append(a.signals.Technical, domain.Signal{
			Signal: SignalGeoImpossibility,
			Value:  float64(sum.UniqueCountries),
			Risk:   domain.RiskLevelHigh,
		})
	}
	if profile.IsNewDevice {
		a.add(weightNewDevice, "Payout from new device")
		a.signals.Technical = append(a.signals.Technical, domain.Signal{
			Signal: SignalNewDevice,
			Risk:   domain.RiskLevelMedium,
		})
	}
	if profile.VPNDetected {
		a.add(weightVPN, "VPN detected")
		a.signals.Technical = append(a.signals.Technical, domain.Signal{
			Signal: SignalVPN,
			Risk:   domain.RiskLevelMedium,
		})
	}
}

// historyFlags fires once per fraud label present anywhere in the history.
func (s *Scorer) historyFlags(a *assessment, trades []*domain.TradeEvent) {
	var wash, pump, ato, ring, laundering bool
	for _, t := range trades {
		if t == nil {
			continue
		}
		switch t.FraudTypeValue() {
		case domain.FraudWashTrading:
			wash = true
		case domain.FraudPumpAndDump:
			pump = true
		case domain.FraudAccountTakeover:
			ato = true
		case domain.FraudMoneyLaundering:
			laundering = true
		}
		if t.RingIDValue() != "" {
			ring = true
		}
	}

	hit := func(ok bool, weight float64, flag, pattern string, sev domain.Severity) {
		if !ok {
			return
		}
		a.add(weight, flag)
		a.signals.Pattern = append(a.signals.Pattern, domain.Signal{Pattern: pattern, Severity: sev})
	}
	hit(wash, weightWashTrading, "Wash trading pattern detected", domain.FraudWashTrading, domain.SeverityCritical)
	hit(pump, weightPumpAndDump, "Pump and dump indicators", domain.FraudPumpAndDump, domain.SeverityHigh)
	hit(ato, weightAccountTakeover, "Account takeover signals", domain.FraudAccountTakeover, domain.SeverityCritical)
	hit(ring, weightRing, "Connected to fraud ring", PatternRingConnection, domain.SeverityHigh)
	hit(laundering, weightMoneyLaundering, "Money laundering pattern", domain.FraudMoneyLaundering, domain.SeverityCritical)
}

// customRules applies operator CEL rules. With none loaded it is a no-op.
func (s *Scorer) customRules(ctx context.Context, a *assessment, in PayoutInput, sum features.Summary, vector domain.FeatureVector) []domain.RuleResult {
	if s.rules == nil {
		return nil
	}

	results, err := s.rules.EvaluateAll(ctx, &rules.EvaluateInput{
		TraderID:         in.TraderID,
		Amount:           in.Amount,
		TradeCount:       sum.Count,
		SuspiciousTrades: sum.Suspicious,
		UniqueDevices:    sum.UniqueDevices,
		UniqueIPs:        sum.UniqueIPs,
		UniqueCountries:  sum.UniqueCountries,
		TotalVolume:      sum.TotalValue,
		Profile:          in.Profile,
		Features:         vector.Map(),
		VelocityWindow:   velocityWindow,
	})
	if err != nil {
		slog.Warn("custom rule evaluation failed", "trader_id", in.TraderID, "error", err)
		return nil
	}

	for _, r := range results {
		switch r.SubRuleRef {
		case domain.RuleOutcomeFail:
			a.add(r.Weight, fmt.Sprintf("Custom rule %s: %s", r.RuleID, r.Reason))
			a.signals.Pattern = append(a.signals.Pattern, domain.Signal{
				Pattern:  PatternCustomRule,
				Value:    r.Score,
				Severity: domain.SeverityHigh,
				Message:  r.RuleID,
			})
		case domain.RuleOutcomeReview:
			a.flags = append(a.flags, fmt.Sprintf("Custom rule %s: %s", r.RuleID, r.Reason))
		case domain.RuleOutcomeError:
			slog.Warn("custom rule errored", "rule_id", r.RuleID, "reason", r.Reason)
		}
	}
	return results
}

func clip(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
