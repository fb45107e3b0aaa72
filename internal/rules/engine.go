// Package rules provides the CEL-Go based custom boost rule engine.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates operator-defined CEL rules over a feature vector.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new rule evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Raw feature variables plus the normalized vector as a map.
	env, err := cel.NewEnv(
		cel.Variable("features", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("merchant_risk", cel.DoubleType),
		cel.Variable("device_age_hours", cel.DoubleType),
		cel.Variable("recent_count", cel.IntType),
		cel.Variable("avg_amount", cel.DoubleType),
		cel.Variable("amount_velocity", cel.DoubleType),
		cel.Variable("history_count", cel.IntType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("pattern_risk", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: rule config is required", domain.ErrInvalidInput)
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

// Activation builds the CEL variables for a vector.
func Activation(vec *domain.FeatureVector) map[string]any {
	normalized := make(map[string]float64, len(domain.FeatureNames))
	for i, v := range vec.Values() {
		normalized[domain.FeatureNames[i]] = v
	}

	raw := vec.Raw
	return map[string]any{
		"features":         normalized,
		"amount":           raw.Amount,
		"merchant_risk":    raw.MerchantRisk,
		"device_age_hours": raw.DeviceAgeHours,
		"recent_count":     raw.RecentCount,
		"avg_amount":       raw.AvgAmount,
		"amount_velocity":  raw.AmountVelocity,
		"history_count":    int64(raw.HistoryCount),
		"hour":             int64(raw.Hour),
		"weekday":          int64(raw.Weekday),
		"pattern_risk":     vec.PatternRisk,
	}
}

// EvaluateAll evaluates every loaded rule in parallel and returns the
// triggered ones ordered by rule ID. Rules that fail to evaluate are
// logged and skipped.
func (e *Engine) EvaluateAll(ctx context.Context, vec *domain.FeatureVector) []domain.RuleHit {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 || vec == nil {
		return nil
	}

	activation := Activation(vec)

	results := make([]*domain.RuleHit, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateRule(ctx, r, activation, vec.Raw.TransactionID)
		}(i, rule)
	}

	wg.Wait()

	var hits []domain.RuleHit
	for _, hit := range results {
		if hit != nil {
			hits = append(hits, *hit)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].RuleID < hits[j].RuleID })
	return hits
}

// evaluateRule returns a hit when the rule triggers, else nil.
func (e *Engine) evaluateRule(ctx context.Context, rule *CompiledRule, activation map[string]any, txID string) *domain.RuleHit {
	start := time.Now()

	out, _, err := rule.Program.ContextEval(ctx, activation)
	if err != nil {
		slog.Warn("rule evaluation failed",
			"rule_id", rule.Config.ID,
			"transaction_id", txID,
			"error", err,
		)
		return nil
	}

	if toScore(out) < 1 {
		return nil
	}

	return &domain.RuleHit{
		RuleID:     rule.Config.ID,
		Reason:     rule.Config.Reason,
		Multiplier: rule.Config.Multiplier,
		ProcessMs:  time.Since(start).Milliseconds(),
	}
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

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

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
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
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
	if cfg.ID == "" || cfg.Expression == "" {
		return nil, fmt.Errorf("%w: rule id and expression are required", domain.ErrInvalidInput)
	}
	if cfg.Multiplier < 1 {
		return nil, fmt.Errorf("%w: rule %s: multiplier must be >= 1", domain.ErrInvalidInput, cfg.ID)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile rule %s: %v", domain.ErrInvalidInput, cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("%w: rule %s: expression must return bool, int, or double, got %s", domain.ErrInvalidInput, cfg.ID, outputType)
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
