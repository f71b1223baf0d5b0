package domain

// CustomRuleConfig defines an operator-supplied supplemental rule. The
// built-in rule set is fixed and compiled in; custom rules are CEL
// expressions loaded from the database and hot-reloaded at runtime.
// An expression that evaluates to true produces a violation carrying the
// configured risk score.
type CustomRuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over the assessment context; must return bool.
	Expression string `json:"expression"`

	// RiskScore assigned to the violation when the expression fires.
	RiskScore float64 `json:"riskScore"`

	Enabled bool `json:"enabled"`
}

// RuleInfo describes a rule (built-in or custom) for listing endpoints.
type RuleInfo struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	RiskScore   float64 `json:"riskScore,omitempty"`
	Builtin     bool    `json:"builtin"`
	Expression  string  `json:"expression,omitempty"`
}
