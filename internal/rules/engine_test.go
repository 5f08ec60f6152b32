package rules

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/payguard/internal/domain"
)

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(nil, 5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "large-payout",
		Name:       "Large Payout",
		Expression: "amount > 100.0",
		Bands:      []domain.RuleBand{},
		Weight:     0.2,
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	tests := []struct {
		name       string
		expression string
	}{
		{"syntax error", "this is not valid CEL !!!"},
		{"unknown variable", "debtor_id == creditor_id"},
		{"string result", "country"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.LoadRule(&domain.RuleConfig{ID: "bad", Expression: tt.expression, Enabled: true})
			if err == nil {
				t.Errorf("expected error for %q", tt.expression)
			}
		})
	}

	if engine.RulesCount() != 0 {
		t.Errorf("invalid rules must not be loaded, got %d", engine.RulesCount())
	}
}

func TestValidateRuleDoesNotLoad(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	if err := engine.ValidateRule(&domain.RuleConfig{ID: "ok", Expression: "vpn_detected"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := engine.ValidateRule(nil); err == nil {
		t.Error("expected error for nil rule")
	}
	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestEvaluateAmountBands(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	zero := 0.0
	one := 1.0

	rule := &domain.RuleConfig{
		ID:         "amount-check",
		Name:       "Amount Check",
		Expression: "amount > 1000.0 ? 1.0 : 0.0",
		Bands: []domain.RuleBand{
			{LowerLimit: &zero, UpperLimit: &one, SubRuleRef: domain.RuleOutcomePass, Reason: "Low amount"},
			{LowerLimit: &one, UpperLimit: nil, SubRuleRef: domain.RuleOutcomeFail, Reason: "High amount"},
		},
		Weight:  0.3,
		Enabled: true,
	}

	engine.LoadRule(rule)

	ctx := context.Background()

	input := &EvaluateInput{TraderID: "TRD-1", Amount: 500.0}

	results, err := engine.EvaluateAll(ctx, input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].SubRuleRef != domain.RuleOutcomePass {
		t.Errorf("expected PASS, got %s", results[0].SubRuleRef)
	}

	input.Amount = 5000.0
	results, _ = engine.EvaluateAll(ctx, input)

	if results[0].Score != 1.0 {
		t.Errorf("expected score 1.0 for high amount, got %.2f", results[0].Score)
	}
	if results[0].SubRuleRef != domain.RuleOutcomeFail {
		t.Errorf("expected FAIL, got %s", results[0].SubRuleRef)
	}
}

func TestEvaluateProfileAndFeatures(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "unverified-vpn",
		Expression: "vpn_detected && !kyc_verified",
		Enabled:    true,
	})
	engine.LoadRule(&domain.RuleConfig{
		ID:         "fast-seller",
		Expression: `features["sell_pressure"] > 0.8 && trade_count < 3`,
		Enabled:    true,
	})

	ctx := context.Background()
	input := &EvaluateInput{
		TraderID:   "TRD-1",
		TradeCount: 2,
		Profile:    domain.UserProfile{VPNDetected: true, KYCVerified: false},
		Features:   map[string]float64{"sell_pressure": 0.9},
	}

	results, err := engine.EvaluateAll(ctx, input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	// ordered by rule id
	if results[0].RuleID != "fast-seller" || results[1].RuleID != "unverified-vpn" {
		t.Fatalf("unexpected order: %s, %s", results[0].RuleID, results[1].RuleID)
	}
	for _, r := range results {
		if r.Score != 1.0 {
			t.Errorf("rule %s: expected score 1.0, got %.2f", r.RuleID, r.Score)
		}
	}

	input.Profile.KYCVerified = true
	input.Features = nil
	results, _ = engine.EvaluateAll(ctx, input)
	if results[1].Score != 0.0 {
		t.Errorf("expected verified trader to pass, got %.2f", results[1].Score)
	}
	if results[0].SubRuleRef != domain.RuleOutcomeError {
		t.Errorf("expected missing feature key to error, got %s", results[0].SubRuleRef)
	}
}

func TestVelocityRule(t *testing.T) {
	var gotWindow time.Duration
	velocityGetter := func(ctx context.Context, traderID string, window time.Duration) (int64, error) {
		gotWindow = window
		return 15, nil
	}

	engine, _ := NewEngine(velocityGetter, 5)
	defer engine.Close()

	zero := 0.0
	half := 0.5
	one := 1.0

	rule := &domain.RuleConfig{
		ID:          "velocity-check-001",
		Name:        "Trade Velocity Check",
		Description: "Flags traders with unusually high trade frequency before a payout",
		Version:     "1.0.0",
		Expression:  "velocity_count > 10 ? 1.0 : (velocity_count > 5 ? 0.5 : 0.0)",
		Bands: []domain.RuleBand{
			{LowerLimit: &zero, UpperLimit: &half, SubRuleRef: domain.RuleOutcomePass, Reason: "Normal velocity"},
			{LowerLimit: &half, UpperLimit: &one, SubRuleRef: domain.RuleOutcomeReview, Reason: "Elevated velocity"},
			{LowerLimit: &one, UpperLimit: nil, SubRuleRef: domain.RuleOutcomeFail, Reason: "High velocity"},
		},
		Weight:  0.25,
		Enabled: true,
	}
	engine.LoadRule(rule)

	ctx := context.Background()
	input := &EvaluateInput{
		TraderID:       "TRD-1",
		VelocityWindow: time.Hour,
	}

	results, _ := engine.EvaluateAll(ctx, input)

	if gotWindow != time.Hour {
		t.Errorf("expected 1h window, got %v", gotWindow)
	}
	if results[0].SubRuleRef != domain.RuleOutcomeFail {
		t.Errorf("expected FAIL for high velocity, got %s", results[0].SubRuleRef)
	}
	if results[0].Reason != "High velocity" {
		t.Errorf("unexpected reason %q", results[0].Reason)
	}
}

func TestParallelExecution(t *testing.T) {
	engine, _ := NewEngine(nil, 3)
	defer engine.Close()

	for i := 0; i < 10; i++ {
		rule := &domain.RuleConfig{
			ID:         fmt.Sprintf("rule-%d", i),
			Name:       fmt.Sprintf("Rule %d", i),
			Expression: "amount > 0.0",
			Weight:     0.1,
			Enabled:    true,
		}
		engine.LoadRule(rule)
	}

	if engine.RulesCount() != 10 {
		t.Fatalf("expected 10 rules, got %d", engine.RulesCount())
	}

	results, err := engine.EvaluateAll(context.Background(), &EvaluateInput{Amount: 100.0})
	if err != nil {
		t.Fatalf("parallel evaluation failed: %v", err)
	}

	if len(results) != 10 {
		t.Errorf("expected 10 results, got %d", len(results))
	}

	for i, r := range results {
		if r.Score != 1.0 {
			t.Errorf("rule %d: expected score 1.0, got %.2f", i, r.Score)
		}
	}
}

func TestVelocityFetchedOnce(t *testing.T) {
	var calls int32
	velocityGetter := func(ctx context.Context, traderID string, window time.Duration) (int64, error) {
		atomic.AddInt32(&calls, 1)
		return 5, nil
	}

	engine, _ := NewEngine(velocityGetter, 2)
	defer engine.Close()

	for i := 0; i < 10; i++ {
		engine.LoadRule(&domain.RuleConfig{
			ID:         fmt.Sprintf("rule-%d", i),
			Expression: "velocity_count > 10 ? 1.0 : 0.0",
			Enabled:    true,
		})
	}

	engine.EvaluateAll(context.Background(), &EvaluateInput{TraderID: "TRD-1", VelocityWindow: time.Hour})

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected velocity to be fetched once, got %d", got)
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "old", Expression: "amount > 0.0", Enabled: true})

	err := engine.ReloadRules([]*domain.RuleConfig{
		{ID: "new-1", Expression: "is_new_device", Enabled: true},
		{ID: "new-2", Expression: "unique_countries > 2", Enabled: true},
		{ID: "disabled", Expression: "amount > 0.0", Enabled: false},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if engine.RulesCount() != 2 {
		t.Errorf("expected 2 rules after reload, got %d", engine.RulesCount())
	}

	// A bad rule leaves the previous set in place
	err = engine.ReloadRules([]*domain.RuleConfig{{ID: "bad", Expression: "???", Enabled: true}})
	if err == nil {
		t.Fatal("expected reload error")
	}
	if engine.RulesCount() != 2 {
		t.Errorf("expected previous rules to survive, got %d", engine.RulesCount())
	}
}

func TestRuleResultMetadata(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "meta-test",
		Expression: "amount > 0.0",
		Weight:     0.75,
		Enabled:    true,
	}
	engine.LoadRule(rule)

	results, _ := engine.EvaluateAll(context.Background(), &EvaluateInput{TraderID: "TRD-123", Amount: 100.0})

	if results[0].RuleID != "meta-test" {
		t.Errorf("expected RuleID 'meta-test', got '%s'", results[0].RuleID)
	}
	if results[0].TraderID != "TRD-123" {
		t.Errorf("expected TraderID 'TRD-123', got '%s'", results[0].TraderID)
	}
	if results[0].Weight != 0.75 {
		t.Errorf("expected Weight 0.75, got %.2f", results[0].Weight)
	}
	if results[0].ProcessMs < 0 {
		t.Error("ProcessMs should be non-negative")
	}
}

func TestMatchBand(t *testing.T) {
	zero, half, one := 0.0, 0.5, 1.0
	bands := []domain.RuleBand{
		{LowerLimit: &zero, UpperLimit: &half, SubRuleRef: domain.RuleOutcomePass, Reason: "low"},
		{LowerLimit: &half, UpperLimit: &one, SubRuleRef: domain.RuleOutcomeReview, Reason: "mid"},
		{LowerLimit: &one, SubRuleRef: domain.RuleOutcomeFail, Reason: "high"},
	}

	tests := []struct {
		score float64
		want  string
	}{
		{0.0, domain.RuleOutcomePass},
		{0.49, domain.RuleOutcomePass},
		{0.5, domain.RuleOutcomeReview},
		{1.0, domain.RuleOutcomeFail},
		{7.0, domain.RuleOutcomeFail},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2f", tt.score), func(t *testing.T) {
			got, _ := matchBand(tt.score, bands)
			if got != tt.want {
				t.Errorf("matchBand(%.2f) = %s, want %s", tt.score, got, tt.want)
			}
		})
	}

	if got, _ := matchBand(0.3, nil); got != domain.RuleOutcomePass {
		t.Errorf("expected pass with no bands, got %s", got)
	}
}
