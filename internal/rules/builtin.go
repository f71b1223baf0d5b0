package rules

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/geo"
)

// Fixed policy constants for the built-in rule set.
var (
	highAmountThreshold = decimal.NewFromInt(10000)
	newUserThreshold    = decimal.NewFromInt(500)
)

const (
	lowHistoryCount    = 5
	oddHourCutoff      = 5
	oddHourMaxHistory  = 20
	deviationTrigger   = 0.5
	minTravelKm        = 50.0
	maxPlausibleSpeed  = 1000.0 // km/h
	spikeWindow        = 30 * 24 * time.Hour
	zScoreTrigger      = 3.0
	maxKnownCountries  = 5
	establishedUserTxs = 5
)

// Velocity windows checked in priority order; only the tightest exceeded
// window fires.
var velocityWindows = []struct {
	ruleID string
	window time.Duration
	limit  int64
	risk   float64
}{
	{domain.RuleVelocity5Min, 5 * time.Minute, 3, 0.9},
	{domain.RuleVelocity15Min, 15 * time.Minute, 8, 0.75},
	{domain.RuleVelocity1Hour, time.Hour, 20, 0.6},
}

// BuiltinRules returns the closed built-in rule set. The set is fixed and
// finite; new detection logic is added here, not registered at runtime.
func BuiltinRules() []Rule {
	return []Rule{
		{
			ID:          domain.RuleHighAmount,
			Description: "Transaction amount at or above the high-amount threshold",
			Evaluate:    highAmount,
		},
		{
			ID:          domain.RuleHighRiskMerchant,
			Description: "Merchant category is classified as high risk",
			Evaluate:    highRiskMerchant,
		},
		{
			ID:          domain.RuleInternationalNewUser,
			Description: "International transaction by a user with little history",
			Evaluate:    internationalLowHistory,
		},
		{
			ID:          domain.RuleOddHour,
			Description: "Early-hours activity by a low-history user",
			Evaluate:    oddHourActivity,
		},
		{
			ID:          domain.RuleNewUserOnboarding,
			Description: "Large first transaction by a brand-new user",
			Evaluate:    newUserOnboarding,
		},
		{
			ID:          domain.RuleUnusualDeviation,
			Description: "Amount deviates strongly from the user's average",
			Evaluate:    unusualDeviation,
		},
		{
			ID:          domain.RuleUnusedCategory,
			Description: "Merchant category the user has not commonly used",
			Evaluate:    unusedCategory,
		},
		{
			ID:          "VELOCITY",
			Description: "Transaction velocity exceeds a time-window limit",
			Evaluate:    velocity,
		},
		{
			ID:          domain.RuleAmountSpike,
			Description: "Amount spikes relative to the 30-day trailing average",
			Evaluate:    amountSpike,
		},
		{
			ID:          domain.RuleGeographicAnomaly,
			Description: "Transaction country is anomalous for the user",
			Evaluate:    geographicAnomaly,
		},
		{
			ID:          domain.RuleImpossibleTravel,
			Description: "Consecutive locations imply an implausible travel speed",
			Evaluate:    impossibleTravel,
		},
	}
}

func highAmount(_ context.Context, rc *Context) (*domain.FraudViolation, error) {
	if rc.Tx.Amount.GreaterThanOrEqual(highAmountThreshold) {
		return violation(domain.RuleHighAmount,
			fmt.Sprintf("amount %s exceeds high-amount threshold %s", rc.Tx.Amount, highAmountThreshold),
			0.8), nil
	}
	return nil, nil
}

func highRiskMerchant(_ context.Context, rc *Context) (*domain.FraudViolation, error) {
	switch rc.Tx.MerchantCategory {
	case domain.CategoryGambling, domain.CategoryCrypto, domain.CategoryAdultEntertainment:
		return violation(domain.RuleHighRiskMerchant,
			fmt.Sprintf("high-risk merchant category %s", rc.Tx.MerchantCategory),
			0.9), nil
	}
	return nil, nil
}

func internationalLowHistory(_ context.Context, rc *Context) (*domain.FraudViolation, error) {
	if rc.Tx.IsInternational && rc.Profile.TotalTransactions <= lowHistoryCount {
		return violation(domain.RuleInternationalNewUser,
			"international transaction by a user with low transaction history",
			0.7), nil
	}
	return nil, nil
}

func oddHourActivity(_ context.Context, rc *Context) (*domain.FraudViolation, error) {
	hour := geo.HourOfDay(rc.Tx.CreatedAt, nil)
	if hour < oddHourCutoff && rc.Profile.TotalTransactions < oddHourMaxHistory {
		return violation(domain.RuleOddHour,
			fmt.Sprintf("transaction at %02d:00 UTC by a low-history user", hour),
			0.6), nil
	}
	return nil, nil
}

func newUserOnboarding(_ context.Context, rc *Context) (*domain.FraudViolation, error) {
	if rc.Profile.TotalTransactions == 0 && rc.Tx.Amount.GreaterThan(newUserThreshold) {
		return violation(domain.RuleNewUserOnboarding,
			fmt.Sprintf("first transaction of %s exceeds onboarding threshold %s", rc.Tx.Amount, newUserThreshold),
			0.5), nil
	}
	return nil, nil
}

func unusualDeviation(_ context.Context, rc *Context) (*domain.FraudViolation, error) {
	avg := rc.Profile.AverageTransactionAmount.InexactFloat64()
	if avg <= 0 {
		return nil, nil
	}
	amount := rc.Tx.Amount.InexactFloat64()
	deviation := math.Abs(amount-avg) / avg
	if deviation <= deviationTrigger {
		return nil, nil
	}
	risk := math.Min(deviation*0.5, 0.7)
	return violation(domain.RuleUnusualDeviation,
		fmt.Sprintf("amount deviates %.0f%% from user average", deviation*100),
		risk), nil
}

func unusedCategory(_ context.Context, rc *Context) (*domain.FraudViolation, error) {
	if rc.Profile.TotalTransactions <= establishedUserTxs {
		return nil, nil
	}
	if rc.MerchantFrequency.IsCommon(rc.Tx.MerchantCategory) {
		return nil, nil
	}
	return violation(domain.RuleUnusedCategory,
		fmt.Sprintf("merchant category %s is not commonly used by this user", rc.Tx.MerchantCategory),
		0.3), nil
}

// velocity counts transactions in the trailing 5 minute, 15 minute and
// 1 hour windows and fires only the tightest exceeded window, checked in
// that priority order. The count includes the transaction under
// assessment.
func velocity(ctx context.Context, rc *Context) (*domain.FraudViolation, error) {
	now := rc.Tx.CreatedAt
	for _, w := range velocityWindows {
		count, err := rc.History.CountTransactionsSince(ctx, rc.Tx.UserID, now.Add(-w.window), now)
		if err != nil {
			return nil, err
		}
		if count > w.limit {
			return violation(w.ruleID,
				fmt.Sprintf("%d transactions within %s exceeds limit of %d", count, w.window, w.limit),
				w.risk), nil
		}
	}
	return nil, nil
}

func amountSpike(ctx context.Context, rc *Context) (*domain.FraudViolation, error) {
	if rc.Profile.IsNewUser() {
		return nil, nil
	}

	avg, stddev, count, err := rc.History.AmountStatsSince(ctx, rc.Tx.UserID, rc.Tx.CreatedAt.Add(-spikeWindow), rc.Tx.ID)
	if err != nil {
		return nil, err
	}
	if count == 0 || avg <= 0 {
		return nil, nil
	}

	amount := rc.Tx.Amount.InexactFloat64()
	switch {
	case amount > 5*avg:
		return violation(domain.RuleAmountSpike,
			"amount exceeds 5x the 30-day trailing average", 0.85), nil
	case amount > 3*avg:
		return violation(domain.RuleAmountSpike,
			"amount exceeds 3x the 30-day trailing average", 0.65), nil
	}

	if stddev > 0 {
		z := (amount - avg) / stddev
		if z > zScoreTrigger {
			return violation(domain.RuleAmountSpike,
				fmt.Sprintf("amount z-score %.1f against 30-day history", z), 0.55), nil
		}
	}

	return nil, nil
}

func geographicAnomaly(ctx context.Context, rc *Context) (*domain.FraudViolation, error) {
	if rc.Tx.Location == nil || rc.Tx.Location.Country == "" {
		return nil, nil
	}

	distinct, err := rc.History.CountDistinctCountries(ctx, rc.Tx.UserID, rc.Tx.ID)
	if err != nil {
		return nil, err
	}
	if distinct > maxKnownCountries {
		return violation(domain.RuleGeographicAnomaly,
			fmt.Sprintf("user has transacted in %d distinct countries", distinct),
			0.65), nil
	}

	used, err := rc.History.HasTransactedInCountry(ctx, rc.Tx.UserID, rc.Tx.Location.Country, rc.Tx.ID)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, nil
	}

	if rc.Profile.TotalTransactions < establishedUserTxs {
		return violation(domain.RuleGeographicAnomaly,
			fmt.Sprintf("new user transacting from unseen country %s", rc.Tx.Location.Country),
			0.75), nil
	}
	return violation(domain.RuleGeographicAnomaly,
		fmt.Sprintf("first transaction from country %s", rc.Tx.Location.Country),
		0.5), nil
}

func impossibleTravel(ctx context.Context, rc *Context) (*domain.FraudViolation, error) {
	if !rc.Tx.Location.HasCoordinates() {
		return nil, nil
	}

	prev, err := rc.History.LastTransactionWithLocation(ctx, rc.Tx.UserID, rc.Tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, nil
	}

	distance := geo.DistanceKm(rc.Tx.Location, prev.Location)
	if distance < minTravelKm {
		return nil, nil
	}

	elapsed := rc.Tx.CreatedAt.Sub(prev.CreatedAt).Hours()
	if elapsed <= 0 {
		return nil, nil
	}

	speed := distance / elapsed
	if speed <= maxPlausibleSpeed {
		return nil, nil
	}

	risk := math.Min(0.5+(speed/maxPlausibleSpeed)*0.3, 0.95)
	return violation(domain.RuleImpossibleTravel,
		fmt.Sprintf("travel of %.0f km in %.1f h requires %.0f km/h", distance, elapsed, speed),
		risk), nil
}
