package rules

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/geo"
)

// ValidateCustomRule compiles a custom rule without loading it.
func (e *Engine) ValidateCustomRule(cfg *domain.CustomRuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	_, err := e.compileCustomRule(cfg)
	return err
}

// LoadCustomRule compiles and loads a custom rule into the engine.
func (e *Engine) LoadCustomRule(cfg *domain.CustomRuleConfig) error {
	compiled, err := e.compileCustomRule(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom[cfg.ID] = compiled

	return nil
}

// ReloadCustomRules clears all custom rules and loads new ones.
// This enables hot-reloading of rules from the database. Built-in rules
// are unaffected.
func (e *Engine) ReloadCustomRules(configs []*domain.CustomRuleConfig) error {
	newRules := make(map[string]*CompiledCustomRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileCustomRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom = newRules

	return nil
}

func (e *Engine) compileCustomRule(cfg *domain.CustomRuleConfig) (*CompiledCustomRule, error) {
	if cfg.RiskScore < 0 || cfg.RiskScore > 1 {
		return nil, fmt.Errorf("rule %s: risk score must be in [0,1], got %v", cfg.ID, cfg.RiskScore)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledCustomRule{
		Config:  cfg,
		Program: program,
	}, nil
}

// asRule adapts a compiled custom rule to the built-in rule contract.
func (cr *CompiledCustomRule) asRule() Rule {
	return Rule{
		ID:          cr.Config.ID,
		Description: cr.Config.Description,
		Evaluate: func(_ context.Context, rc *Context) (*domain.FraudViolation, error) {
			out, _, err := cr.Program.Eval(activation(rc))
			if err != nil {
				return nil, fmt.Errorf("custom rule %s: %w", cr.Config.ID, err)
			}
			if !firing(out) {
				return nil, nil
			}
			desc := cr.Config.Description
			if desc == "" {
				desc = cr.Config.Name
			}
			return violation(cr.Config.ID, desc, cr.Config.RiskScore), nil
		},
	}
}

// activation maps the assessment context to CEL variables.
func activation(rc *Context) map[string]any {
	country := ""
	if rc.Tx.Location != nil {
		country = rc.Tx.Location.Country
	}

	return map[string]any{
		"amount":             rc.Tx.Amount.InexactFloat64(),
		"currency":           rc.Tx.Currency,
		"merchant_category":  rc.Tx.MerchantCategory,
		"is_international":   rc.Tx.IsInternational,
		"country":            country,
		"hour":               int64(geo.HourOfDay(rc.Tx.CreatedAt, nil)),
		"total_transactions": int64(rc.Profile.TotalTransactions),
		"average_amount":     rc.Profile.AverageTransactionAmount.InexactFloat64(),
		"overall_risk":       rc.Profile.OverallRiskScore,
	}
}
