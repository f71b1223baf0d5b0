package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserRiskProfile is the derived behavioral and transactional risk view of
// a user. It is never patched in place: every update recomputes the whole
// profile from the user's full transaction history, so replaying the same
// history always yields the same profile.
type UserRiskProfile struct {
	UserID string `json:"userId"`

	AverageTransactionAmount decimal.Decimal `json:"averageTransactionAmount"`
	TotalTransactions        int             `json:"totalTransactions"`
	TotalTransactionValue    decimal.Decimal `json:"totalTransactionValue"`

	HighRiskTransactionCount      int `json:"highRiskTransactionCount"`
	InternationalTransactionCount int `json:"internationalTransactionCount"`

	// Component scores, each in [0,1]; overall is their mean.
	BehavioralRiskScore    float64 `json:"behavioralRiskScore"`
	TransactionRiskScore   float64 `json:"transactionRiskScore"`
	OverallRiskScore       float64 `json:"overallRiskScore"`

	FirstTransactionDate time.Time `json:"firstTransactionDate"`
	LastTransactionDate  time.Time `json:"lastTransactionDate"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// IsNewUser reports whether the profile has no transaction history yet.
func (p *UserRiskProfile) IsNewUser() bool {
	return p == nil || p.TotalTransactions == 0
}

// MerchantFrequency maps merchant category to the user's usage count.
// Recomputed alongside the profile.
type MerchantFrequency map[string]int

// CommonCategoryThreshold is the usage count above which a merchant
// category counts as "common" for the user.
const CommonCategoryThreshold = 3

// IsCommon reports whether the user has used the category more than the
// common-category threshold.
func (m MerchantFrequency) IsCommon(category string) bool {
	return m[category] > CommonCategoryThreshold
}
