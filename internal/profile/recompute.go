// Package profile recomputes user risk profiles from full transaction
// history. Profiles are derived values: every update replays the whole
// history through one pure pass, never patching the stored profile.
package profile

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	baseRisk = 0.5

	lowHistoryTxs      = 10
	heavyHistoryTxs    = 100
	intlShareTrigger   = 0.3
	fewCategories      = 3
	lowHistoryPenalty  = 0.2
	heavyHistoryCredit = 0.1
	intlSharePenalty   = 0.15
	fewCategoryPenalty = 0.1
)

var highAmountThreshold = decimal.NewFromInt(10000)

// Recompute builds the user's risk profile and merchant-category
// frequency from the complete transaction list in a single pass. An
// empty history yields the canonical zero profile for a new user.
// The computation is deterministic: the same history always produces an
// identical profile.
func Recompute(userID string, txs []*domain.Transaction) (*domain.UserRiskProfile, domain.MerchantFrequency) {
	freq := make(domain.MerchantFrequency, len(txs))

	if len(txs) == 0 {
		return &domain.UserRiskProfile{UserID: userID}, freq
	}

	var (
		total         = decimal.Zero
		maxAmount     = decimal.Zero
		highRisk      int
		international int
		first         = txs[0].CreatedAt
		last          = txs[0].CreatedAt
	)

	for _, tx := range txs {
		total = total.Add(tx.Amount)
		if tx.Amount.GreaterThan(maxAmount) {
			maxAmount = tx.Amount
		}
		if isHighRisk(tx) {
			highRisk++
		}
		if tx.IsInternational {
			international++
		}
		if tx.CreatedAt.Before(first) {
			first = tx.CreatedAt
		}
		if tx.CreatedAt.After(last) {
			last = tx.CreatedAt
		}
		freq[tx.MerchantCategory]++
	}

	count := len(txs)
	avg := total.Div(decimal.NewFromInt(int64(count)))

	behavioral := behavioralRisk(count, international, len(freq))
	transactional := transactionalRisk(avg, maxAmount)

	return &domain.UserRiskProfile{
		UserID:                        userID,
		AverageTransactionAmount:      avg,
		TotalTransactions:             count,
		TotalTransactionValue:         total,
		HighRiskTransactionCount:      highRisk,
		InternationalTransactionCount: international,
		BehavioralRiskScore:           behavioral,
		TransactionRiskScore:          transactional,
		OverallRiskScore:              (behavioral + transactional) / 2,
		FirstTransactionDate:          first,
		LastTransactionDate:           last,
	}, freq
}

// behavioralRisk starts at the 0.5 baseline and adjusts for history
// depth, international share and category diversity.
func behavioralRisk(count, international, categories int) float64 {
	risk := baseRisk
	if count < lowHistoryTxs {
		risk += lowHistoryPenalty
	}
	if count > heavyHistoryTxs {
		risk -= heavyHistoryCredit
	}
	if float64(international)/float64(count) > intlShareTrigger {
		risk += intlSharePenalty
	}
	if categories < fewCategories {
		risk += fewCategoryPenalty
	}
	return clamp01(risk)
}

// transactionalRisk starts at the 0.5 baseline and adds up to 0.5
// scaled by how far the largest transaction sits above the average.
func transactionalRisk(avg, max decimal.Decimal) float64 {
	risk := baseRisk
	if avg.IsPositive() {
		spread := max.Sub(avg).Div(avg).InexactFloat64()
		risk += 0.5 * spread
	}
	return clamp01(risk)
}

func isHighRisk(tx *domain.Transaction) bool {
	switch tx.MerchantCategory {
	case domain.CategoryGambling, domain.CategoryCrypto, domain.CategoryAdultEntertainment:
		return true
	}
	return tx.Amount.GreaterThanOrEqual(highAmountThreshold)
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
