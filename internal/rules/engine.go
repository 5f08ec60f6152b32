// Package rules provides the CEL-Go based engine for operator-defined
// payout rules.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/payguard/internal/domain"
)

// Engine is the CEL-based rule evaluation engine.
type Engine struct {
	mu             sync.RWMutex
	env            *cel.Env
	compiledRules  map[string]*CompiledRule
	velocityGetter VelocityGetter
	maxWorkers     int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// VelocityGetter returns how many trades a trader made within window.
type VelocityGetter func(ctx context.Context, traderID string, window time.Duration) (int64, error)

// NewEngine creates a new rule evaluation engine.
func NewEngine(velocityGetter VelocityGetter, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Variables visible to payout rule expressions
	env, err := cel.NewEnv(
		cel.Variable("trader_id", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("trade_count", cel.IntType),
		cel.Variable("suspicious_trades", cel.IntType),
		cel.Variable("unique_devices", cel.IntType),
		cel.Variable("unique_ips", cel.IntType),
		cel.Variable("unique_countries", cel.IntType),
		cel.Variable("total_volume", cel.DoubleType),
		cel.Variable("deposit_amount", cel.DoubleType),
		cel.Variable("account_age_days", cel.IntType),
		cel.Variable("is_new_device", cel.BoolType),
		cel.Variable("vpn_detected", cel.BoolType),
		cel.Variable("kyc_verified", cel.BoolType),
		cel.Variable("country", cel.StringType),
		cel.Variable("velocity_count", cel.IntType),
		cel.Variable("features", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:            env,
		compiledRules:  make(map[string]*CompiledRule),
		velocityGetter: velocityGetter,
		maxWorkers:     maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateInput holds the payout facts a rule can read.
type EvaluateInput struct {
	TraderID         string
	Amount           float64
	TradeCount       int
	SuspiciousTrades int
	UniqueDevices    int
	UniqueIPs        int
	UniqueCountries  int
	TotalVolume      float64
	Profile          domain.UserProfile
	Features         map[string]float64
	VelocityWindow   time.Duration
	AdditionalData   map[string]any
}

// EvaluateAll evaluates all loaded rules in parallel. Results are ordered by rule ID.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) ([]domain.RuleResult, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	// Get velocity count if getter is available
	var velocityCount int64
	if e.velocityGetter != nil && input.VelocityWindow > 0 {
		count, err := e.velocityGetter(ctx, input.TraderID, input.VelocityWindow)
		if err == nil {
			velocityCount = count
		}
	}

	featureMap := input.Features
	if featureMap == nil {
		featureMap = map[string]float64{}
	}

	// Prepare CEL activation variables
	activation := map[string]any{
		"trader_id":         input.TraderID,
		"amount":            input.Amount,
		"trade_count":       int64(input.TradeCount),
		"suspicious_trades": int64(input.SuspiciousTrades),
		"unique_devices":    int64(input.UniqueDevices),
		"unique_ips":        int64(input.UniqueIPs),
		"unique_countries":  int64(input.UniqueCountries),
		"total_volume":      input.TotalVolume,
		"deposit_amount":    input.Profile.DepositAmount,
		"account_age_days":  int64(input.Profile.AccountAgeDays),
		"is_new_device":     input.Profile.IsNewDevice,
		"vpn_detected":      input.Profile.VPNDetected,
		"kyc_verified":      input.Profile.KYCVerified,
		"country":           input.Profile.Country,
		"velocity_count":    velocityCount,
		"features":          featureMap,
	}

	// Merge additional data
	for k, v := range input.AdditionalData {
		activation[k] = v
	}

	// Parallel evaluation using worker pool pattern
	results := make([]domain.RuleResult, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateRule(r, activation, input)
		}(i, rule)
	}

	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].RuleID < results[j].RuleID })
	return results, nil
}

// evaluateRule evaluates a single rule and returns the result.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any, input *EvaluateInput) domain.RuleResult {
	start := time.Now()

	result := domain.RuleResult{
		RuleID:   rule.Config.ID,
		TraderID: input.TraderID,
		Weight:   rule.Config.Weight,
	}

	// Evaluate CEL expression
	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.SubRuleRef = domain.RuleOutcomeError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	// Convert result to score
	score := toScore(out)
	result.Score = score

	// Determine outcome based on bands
	result.SubRuleRef, result.Reason = matchBand(score, rule.Config.Bands)
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand returns the first band containing score. Scores no band
// covers pass.
func matchBand(score float64, bands []domain.RuleBand) (string, string) {
	for _, band := range bands {
		if band.Contains(score) {
			return band.SubRuleRef, band.Reason
		}
	}
	return domain.RuleOutcomePass, "no matching band"
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the repository.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	// Load new rules
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
