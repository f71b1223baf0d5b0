package domain

import (
	"time"
)

// PredictionRecord is one entry in the model performance ledger. It starts
// unlabeled and transitions to labeled exactly once when feedback arrives.
type PredictionRecord struct {
	TransactionID        string    `json:"transactionId"`
	PredictedProbability float64   `json:"predictedProbability"`
	TriggeredRules       []string  `json:"triggeredRules"`
	Timestamp            time.Time `json:"timestamp"`

	ActualFraud      bool `json:"actualFraud"`
	FeedbackReceived bool `json:"feedbackReceived"`
}

// ConfusionMatrix holds classification counts at a given threshold.
type ConfusionMatrix struct {
	TruePositives  int `json:"truePositives"`
	TrueNegatives  int `json:"trueNegatives"`
	FalsePositives int `json:"falsePositives"`
	FalseNegatives int `json:"falseNegatives"`
}

// Precision returns TP/(TP+FP), 0 when undefined.
func (c ConfusionMatrix) Precision() float64 {
	denom := c.TruePositives + c.FalsePositives
	if denom == 0 {
		return 0
	}
	return float64(c.TruePositives) / float64(denom)
}

// Recall returns TP/(TP+FN), 0 when undefined.
func (c ConfusionMatrix) Recall() float64 {
	denom := c.TruePositives + c.FalseNegatives
	if denom == 0 {
		return 0
	}
	return float64(c.TruePositives) / float64(denom)
}

// F1 returns the harmonic mean of precision and recall, 0 when undefined.
func (c ConfusionMatrix) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// ThresholdMetric holds the metrics observed at one probability cutoff.
type ThresholdMetric struct {
	Threshold float64         `json:"threshold"`
	Precision float64         `json:"precision"`
	Recall    float64         `json:"recall"`
	F1        float64         `json:"f1"`
	Matrix    ConfusionMatrix `json:"matrix"`
}

// CurvePoint is one point on an ROC or precision/recall curve.
type CurvePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RulePerformanceStats tracks feedback-confirmed outcomes per rule.
type RulePerformanceStats struct {
	RuleID         string  `json:"ruleId"`
	TruePositives  int64   `json:"truePositives"`
	FalsePositives int64   `json:"falsePositives"`
	Precision      float64 `json:"precision"`
}

// ModelMetrics is the snapshot returned by the performance tracker.
// Derived on demand from the current window of labeled predictions and
// never persisted independently.
type ModelMetrics struct {
	SampleCount  int  `json:"sampleCount"`
	LabeledCount int  `json:"labeledCount"`
	Baseline     bool `json:"baseline"` // true when too few labels for stable estimates

	AUCROC float64 `json:"aucRoc"`
	AUCPR  float64 `json:"aucPr"`

	ROCCurve []CurvePoint `json:"rocCurve,omitempty"`
	PRCurve  []CurvePoint `json:"prCurve,omitempty"`

	OptimalThreshold ThresholdMetric `json:"optimalThreshold"`
	DefaultThreshold ThresholdMetric `json:"defaultThreshold"`

	RuleStats []RulePerformanceStats `json:"ruleStats,omitempty"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// Sentinel metrics returned when fewer than MinLabeledSamples labeled
// predictions exist.
const (
	MinLabeledSamples = 10
	BaselineAUCROC    = 0.5
	BaselineAUCPR     = 0.05
)
