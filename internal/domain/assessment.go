package domain

import (
	"time"
)

// Assessment represents the complete fraud assessment of a transaction.
type Assessment struct {
	ID     string `json:"id"`
	TxID   string `json:"txId"`
	UserID string `json:"userId"`

	ModelProbability float64    `json:"modelProbability"`
	RuleProbability  float64    `json:"ruleProbability"`
	FinalProbability float64    `json:"finalProbability"`
	Action           RiskAction `json:"action"`

	Violations  []FraudViolation  `json:"violations"`
	Explanation *FraudExplanation `json:"explanation,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	Metadata AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID        string `json:"traceId"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	RulesMs        int64  `json:"rulesMs"`
	TotalMs        int64  `json:"totalMs"`
	EngineVersion  string `json:"engineVersion"`
}

// IsAlert reports whether the assessment warrants an alert event.
func (a *Assessment) IsAlert() bool {
	return a.Action == ActionBlock || a.Action == ActionReview
}

// AssessmentResponse is the API response for a transaction assessment.
type AssessmentResponse struct {
	AssessmentID string             `json:"assessmentId"`
	TxID         string             `json:"txId"`
	UserID       string             `json:"userId"`
	Probability  float64            `json:"probability"`
	Action       RiskAction         `json:"action"`
	Violations   []FraudViolation   `json:"violations,omitempty"`
	Explanation  *FraudExplanation  `json:"explanation,omitempty"`
	Metadata     AssessmentMetadata `json:"metadata"`
}

// ToResponse converts an Assessment to an API response.
func (a *Assessment) ToResponse() *AssessmentResponse {
	return &AssessmentResponse{
		AssessmentID: a.ID,
		TxID:         a.TxID,
		UserID:       a.UserID,
		Probability:  a.FinalProbability,
		Action:       a.Action,
		Violations:   a.Violations,
		Explanation:  a.Explanation,
		Metadata:     a.Metadata,
	}
}
