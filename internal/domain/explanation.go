package domain

// FeatureImpact buckets a feature's influence on the final probability.
type FeatureImpact string

const (
	ImpactHighRisk     FeatureImpact = "HIGH_RISK"
	ImpactModerateRisk FeatureImpact = "MODERATE_RISK"
	ImpactLowRisk      FeatureImpact = "LOW_RISK"
	ImpactNeutral      FeatureImpact = "NEUTRAL"
)

// RuleSeverity buckets a violation's risk score for reporting.
type RuleSeverity string

const (
	SeverityCritical RuleSeverity = "CRITICAL"
	SeverityHigh     RuleSeverity = "HIGH"
	SeverityMedium   RuleSeverity = "MEDIUM"
	SeverityLow      RuleSeverity = "LOW"
)

// FeatureContribution is the SHAP-style attribution of one model feature.
type FeatureContribution struct {
	Feature      string        `json:"feature"`
	Value        float64       `json:"value"`
	Weight       float64       `json:"weight"`
	Contribution float64       `json:"contribution"`
	Impact       FeatureImpact `json:"impact"`
}

// RuleExplanation describes one triggered rule in reporting terms.
type RuleExplanation struct {
	RuleID      string       `json:"ruleId"`
	Description string       `json:"description"`
	RiskScore   float64      `json:"riskScore"`
	Severity    RuleSeverity `json:"severity"`
}

// FraudExplanation is the full, immutable explanation of one assessment.
type FraudExplanation struct {
	BaselineProbability  float64               `json:"baselineProbability"`
	FinalProbability     float64               `json:"finalProbability"`
	FeatureContributions []FeatureContribution `json:"featureContributions"`
	RuleExplanations     []RuleExplanation     `json:"ruleExplanations"`
	TopRiskFactors       []string              `json:"topRiskFactors"`
	DecisionReason       string                `json:"decisionReason"`
	Confidence           float64               `json:"confidence"` // in [0,1]
}
