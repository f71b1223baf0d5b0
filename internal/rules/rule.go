// Package rules provides the fraud rule evaluation engine: a closed set
// of built-in rules plus operator-defined CEL expression rules.
package rules

import (
	"context"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Context is the immutable snapshot a rule evaluates against. Every rule
// in one evaluation round sees the same context. Historical aggregates
// that are not part of the snapshot are fetched through History as
// awaited read-only queries.
type Context struct {
	Tx                *domain.Transaction
	Profile           *domain.UserRiskProfile
	MerchantFrequency domain.MerchantFrequency
	History           domain.History
}

// Rule is one fraud detection rule. Evaluate returns a violation when the
// rule fires and nil when it abstains. Rules perform no mutation; missing
// or insufficient data is an abstention, never an error. An error return
// signals a failed historical query, which the engine logs and treats as
// an abstention.
type Rule struct {
	ID          string
	Description string
	Evaluate    func(ctx context.Context, rc *Context) (*domain.FraudViolation, error)
}

// violation builds an immutable violation for a rule firing.
func violation(ruleID, description string, riskScore float64) *domain.FraudViolation {
	return &domain.FraudViolation{
		RuleID:      ruleID,
		Description: description,
		RiskScore:   riskScore,
		Timestamp:   time.Now().UTC(),
	}
}
