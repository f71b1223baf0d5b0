package domain

import (
	"time"
)

// FraudViolation is the output of a single rule indicating suspicion.
// Violations are immutable; several may coexist for one transaction.
type FraudViolation struct {
	RuleID      string    `json:"ruleId"`
	Description string    `json:"description"`
	RiskScore   float64   `json:"riskScore"` // in [0,1]
	Timestamp   time.Time `json:"timestamp"`
}

// Stable rule identifiers for the built-in rule set.
const (
	RuleHighAmount           = "HIGH_AMOUNT"
	RuleHighRiskMerchant     = "HIGH_RISK_MERCHANT_CATEGORY"
	RuleInternationalNewUser = "INTERNATIONAL_LOW_HISTORY"
	RuleOddHour              = "ODD_HOUR_ACTIVITY"
	RuleNewUserOnboarding    = "NEW_USER_ONBOARDING"
	RuleUnusualDeviation     = "UNUSUAL_DEVIATION"
	RuleUnusedCategory       = "UNUSED_MERCHANT_CATEGORY"
	RuleVelocity5Min         = "VELOCITY_5MIN"
	RuleVelocity15Min        = "VELOCITY_15MIN"
	RuleVelocity1Hour        = "VELOCITY_1HOUR"
	RuleAmountSpike          = "AMOUNT_SPIKE"
	RuleGeographicAnomaly    = "GEOGRAPHIC_ANOMALY"
	RuleImpossibleTravel     = "IMPOSSIBLE_TRAVEL"
)

// RiskAction is the discrete decision derived from the final probability.
type RiskAction string

const (
	ActionApprove RiskAction = "APPROVE"
	ActionMonitor RiskAction = "MONITOR"
	ActionReview  RiskAction = "REVIEW"
	ActionBlock   RiskAction = "BLOCK"
)

// Fixed policy thresholds mapping ensemble probability to an action.
const (
	BlockThreshold   = 0.8
	ReviewThreshold  = 0.6
	MonitorThreshold = 0.3
)

// ActionForProbability maps a final probability to its action.
func ActionForProbability(p float64) RiskAction {
	switch {
	case p >= BlockThreshold:
		return ActionBlock
	case p >= ReviewThreshold:
		return ActionReview
	case p >= MonitorThreshold:
		return ActionMonitor
	default:
		return ActionApprove
	}
}
