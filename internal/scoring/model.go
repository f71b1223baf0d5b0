// Package scoring combines a fixed-weight linear model with rule
// violations into a single fraud probability and a discrete action.
package scoring

import (
	"fmt"
)

// FeatureNames lists the model features in weight order.
var FeatureNames = []string{"amount", "velocity", "geography", "time", "history"}

// defaultWeights are fixed policy constants, not learned parameters.
var defaultWeights = []float64{0.3, 0.2, 0.2, 0.15, 0.15}

// Model is a linear scorer over normalized features. Weights sum to 1,
// so the dot product of features in [0,1] stays in [0,1].
type Model struct {
	weights []float64
}

// NewModel returns the model with the standard five-feature weights.
func NewModel() *Model {
	return &Model{weights: defaultWeights}
}

// Weights returns the model's weight vector.
func (m *Model) Weights() []float64 {
	return m.weights
}

// Predict computes the model probability for a normalized feature
// vector. A length mismatch between features and weights is a
// programmer error and is reported immediately.
func (m *Model) Predict(features []float64) (float64, error) {
	if len(features) != len(m.weights) {
		return 0, fmt.Errorf("feature vector length %d does not match weight vector length %d",
			len(features), len(m.weights))
	}

	var p float64
	for i, f := range features {
		p += f * m.weights[i]
	}
	return clamp01(p), nil
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
