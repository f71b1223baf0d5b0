// Package explain generates SHAP-style attributions, confidence and a
// human-readable decision reason for each fraud assessment.
package explain

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// baselineProbability is the assumed base fraud rate against which
// feature contributions are measured.
const baselineProbability = 0.05

const (
	neutralValue = 0.5

	topFactorCount   = 3
	ruleFactorCutoff = 0.5
)

// Generator produces explanations from the same inputs the ensemble
// scored. It holds no state.
type Generator struct {
	featureNames []string
	weights      []float64
}

// NewGenerator creates a generator for the given feature layout.
func NewGenerator(featureNames []string, weights []float64) *Generator {
	return &Generator{featureNames: featureNames, weights: weights}
}

// Generate builds the explanation for one assessment. It never fails:
// missing violations simply produce an empty rule section.
func (g *Generator) Generate(features []float64, pModel, pRule, final float64, action domain.RiskAction, violations []domain.FraudViolation) *domain.FraudExplanation {
	contributions := g.contributions(features, final)
	ruleExpls := ruleExplanations(violations)

	return &domain.FraudExplanation{
		BaselineProbability:  baselineProbability,
		FinalProbability:     final,
		FeatureContributions: contributions,
		RuleExplanations:     ruleExpls,
		TopRiskFactors:       topRiskFactors(contributions, ruleExpls),
		DecisionReason:       decisionReason(action, final, len(violations)),
		Confidence:           confidence(features, pModel, pRule),
	}
}

// contributions attributes the distance between the final probability
// and the baseline across features by weight and displacement from the
// neutral value.
func (g *Generator) contributions(features []float64, final float64) []domain.FeatureContribution {
	out := make([]domain.FeatureContribution, 0, len(features))
	for i, v := range features {
		name := fmt.Sprintf("feature_%d", i)
		if i < len(g.featureNames) {
			name = g.featureNames[i]
		}
		var w float64
		if i < len(g.weights) {
			w = g.weights[i]
		}

		c := (v - neutralValue) * w * (final - baselineProbability) * 2
		out = append(out, domain.FeatureContribution{
			Feature:      name,
			Value:        v,
			Weight:       w,
			Contribution: c,
			Impact:       impact(c, v),
		})
	}
	return out
}

func impact(contribution, raw float64) domain.FeatureImpact {
	switch {
	case contribution > 0.15 || raw > 0.8:
		return domain.ImpactHighRisk
	case contribution > 0.05 || raw > 0.6:
		return domain.ImpactModerateRisk
	case contribution > 0 || raw > 0.4:
		return domain.ImpactLowRisk
	default:
		return domain.ImpactNeutral
	}
}

func ruleExplanations(violations []domain.FraudViolation) []domain.RuleExplanation {
	out := make([]domain.RuleExplanation, 0, len(violations))
	for _, v := range violations {
		out = append(out, domain.RuleExplanation{
			RuleID:      v.RuleID,
			Description: v.Description,
			RiskScore:   v.RiskScore,
			Severity:    severity(v.RiskScore),
		})
	}
	return out
}

func severity(risk float64) domain.RuleSeverity {
	switch {
	case risk >= 0.9:
		return domain.SeverityCritical
	case risk >= 0.7:
		return domain.SeverityHigh
	case risk >= 0.5:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// topRiskFactors selects up to three factors, preferring high-risk rule
// descriptions over feature contributions.
func topRiskFactors(contributions []domain.FeatureContribution, rules []domain.RuleExplanation) []string {
	factors := make([]string, 0, topFactorCount)

	for _, r := range rules {
		if len(factors) == topFactorCount {
			return factors
		}
		if r.RiskScore >= ruleFactorCutoff {
			factors = append(factors, r.Description)
		}
	}

	sorted := make([]domain.FeatureContribution, len(contributions))
	copy(sorted, contributions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Contribution > sorted[j].Contribution
	})

	for _, c := range sorted {
		if len(factors) == topFactorCount {
			break
		}
		if c.Contribution <= 0 {
			break
		}
		factors = append(factors, fmt.Sprintf("elevated %s signal (%.2f)", c.Feature, c.Value))
	}

	return factors
}

// confidence rewards complete feature data and agreement between the
// model and rule scoring paths.
func confidence(features []float64, pModel, pRule float64) float64 {
	var informative int
	for _, v := range features {
		if v != neutralValue {
			informative++
		}
	}

	var completeness float64
	if len(features) > 0 {
		completeness = float64(informative) / float64(len(features))
	}

	agreement := 1 - math.Abs(pModel-pRule)
	return clamp01(0.5*completeness + 0.5*agreement)
}

func decisionReason(action domain.RiskAction, final float64, violationCount int) string {
	switch action {
	case domain.ActionBlock:
		return fmt.Sprintf("Transaction blocked: fraud probability %.0f%% with %d rule violation(s) indicates very high risk.", final*100, violationCount)
	case domain.ActionReview:
		return fmt.Sprintf("Transaction held for manual review: fraud probability %.0f%% with %d rule violation(s) exceeds the review threshold.", final*100, violationCount)
	case domain.ActionMonitor:
		return fmt.Sprintf("Transaction approved with monitoring: fraud probability %.0f%% shows moderate risk signals.", final*100)
	default:
		return fmt.Sprintf("Transaction approved: fraud probability %.0f%% is within normal limits.", final*100)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
