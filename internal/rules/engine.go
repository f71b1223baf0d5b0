package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates the full rule set against one assessment context.
// Built-in rules are a fixed closed set; custom CEL rules can be loaded
// and hot-reloaded at runtime.
type Engine struct {
	mu      sync.RWMutex
	builtin []Rule
	custom  map[string]*CompiledCustomRule

	env        *cel.Env
	history    domain.History
	maxWorkers int
}

// CompiledCustomRule holds a pre-compiled CEL program for a custom rule.
type CompiledCustomRule struct {
	Config  *domain.CustomRuleConfig
	Program cel.Program
}

// NewEngine creates a rule engine over the given history source.
func NewEngine(history domain.History, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("merchant_category", cel.StringType),
		cel.Variable("is_international", cel.BoolType),
		cel.Variable("country", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("total_transactions", cel.IntType),
		cel.Variable("average_amount", cel.DoubleType),
		cel.Variable("overall_risk", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		builtin:    BuiltinRules(),
		custom:     make(map[string]*CompiledCustomRule),
		env:        env,
		history:    history,
		maxWorkers: maxWorkers,
	}, nil
}

// EvaluateAll runs every rule against the context and collects all
// resulting violations. Rules run concurrently and do not block each
// other; collection does not depend on completion order, and the result
// is returned sorted by rule ID so identical contexts always produce an
// identical violation list.
func (e *Engine) EvaluateAll(ctx context.Context, tx *domain.Transaction, profile *domain.UserRiskProfile, freq domain.MerchantFrequency) ([]domain.FraudViolation, error) {
	rc := &Context{
		Tx:                tx,
		Profile:           profile,
		MerchantFrequency: freq,
		History:           e.history,
	}

	e.mu.RLock()
	rules := make([]Rule, 0, len(e.builtin)+len(e.custom))
	rules = append(rules, e.builtin...)
	for _, cr := range e.custom {
		rules = append(rules, cr.asRule())
	}
	e.mu.RUnlock()

	results := make([]*domain.FraudViolation, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r Rule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			v, err := r.Evaluate(ctx, rc)
			if err != nil {
				// A failed historical query is an abstention, not a
				// failed assessment.
				slog.Warn("rule evaluation degraded",
					"rule_id", r.ID,
					"tx_id", tx.ID,
					"error", err,
				)
				return
			}
			results[idx] = v
		}(i, rule)
	}

	wg.Wait()

	violations := make([]domain.FraudViolation, 0, len(results))
	for _, v := range results {
		if v != nil {
			violations = append(violations, *v)
		}
	}
	sort.Slice(violations, func(i, j int) bool {
		return violations[i].RuleID < violations[j].RuleID
	})

	return violations, nil
}

// RulesCount returns the number of loaded rules (built-in plus custom).
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.builtin) + len(e.custom)
}

// ListRules returns descriptions of all loaded rules.
func (e *Engine) ListRules() []domain.RuleInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	infos := make([]domain.RuleInfo, 0, len(e.builtin)+len(e.custom))
	for _, r := range e.builtin {
		infos = append(infos, domain.RuleInfo{
			ID:          r.ID,
			Description: r.Description,
			Builtin:     true,
		})
	}
	for _, cr := range e.custom {
		infos = append(infos, domain.RuleInfo{
			ID:          cr.Config.ID,
			Description: cr.Config.Description,
			RiskScore:   cr.Config.RiskScore,
			Expression:  cr.Config.Expression,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom = make(map[string]*CompiledCustomRule)
	return nil
}

// firing reports whether a CEL evaluation result counts as a firing.
func firing(val interface{}) bool {
	b, ok := val.(types.Bool)
	return ok && bool(b)
}
