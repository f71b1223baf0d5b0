package scoring

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Ensemble weighting between the model and rule paths, applied only
// when at least one rule fired.
const (
	modelWeight = 0.4
	ruleWeight  = 0.6

	perViolationBoost = 0.1
	maxViolationBoost = 0.3
)

// RuleProbability derives a probability from the violation list: the
// mean violation risk plus a boost for the number of violations,
// clamped to 1. An empty list yields exactly 0.
func RuleProbability(violations []domain.FraudViolation) float64 {
	if len(violations) == 0 {
		return 0
	}

	var sum float64
	for _, v := range violations {
		sum += v.RiskScore
	}
	mean := sum / float64(len(violations))
	boost := math.Min(perViolationBoost*float64(len(violations)), maxViolationBoost)

	return math.Min(mean+boost, 1)
}

// Combine blends the model probability with the rule probability. When
// no rule fired the model stands alone.
func Combine(pModel, pRule float64) float64 {
	if pRule > 0 {
		return clamp01(modelWeight*pModel + ruleWeight*pRule)
	}
	return clamp01(pModel)
}
