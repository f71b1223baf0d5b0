package repository

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:               "tx-001",
			UserID:           "user-1",
			Amount:           decimal.RequireFromString("1234.56"),
			Currency:         "USD",
			MerchantCategory: "GROCERY",
			IsInternational:  true,
			Location: &domain.Geolocation{
				Latitude:  51.5074,
				Longitude: -0.1278,
				Country:   "GB",
				City:      "London",
			},
			CreatedAt: base,
		}

		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if retrieved.ID != tx.ID {
			t.Errorf("expected ID %s, got %s", tx.ID, retrieved.ID)
		}
		// The decimal must survive the round trip exactly.
		if !retrieved.Amount.Equal(tx.Amount) {
			t.Errorf("expected amount %s, got %s", tx.Amount, retrieved.Amount)
		}
		if !retrieved.IsInternational {
			t.Error("lost international flag")
		}
		if retrieved.Location == nil || retrieved.Location.Country != "GB" || retrieved.Location.City != "London" {
			t.Errorf("lost location: %+v", retrieved.Location)
		}
		if retrieved.Location.Latitude != tx.Location.Latitude {
			t.Errorf("lost latitude: %v", retrieved.Location.Latitude)
		}
	})

	t.Run("TransactionWithoutLocation", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:               "tx-002",
			UserID:           "user-1",
			Amount:           decimal.NewFromInt(50),
			Currency:         "USD",
			MerchantCategory: "DINING",
			CreatedAt:        base.Add(10 * time.Minute),
		}
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if retrieved.Location != nil {
			t.Errorf("expected nil location, got %+v", retrieved.Location)
		}
	})

	t.Run("GetTransactionsByUserOrdered", func(t *testing.T) {
		txs, err := repo.GetTransactionsByUser(ctx, "user-1")
		if err != nil {
			t.Fatalf("GetTransactionsByUser failed: %v", err)
		}
		if len(txs) != 2 {
			t.Fatalf("expected 2 transactions, got %d", len(txs))
		}
		if !txs[0].CreatedAt.Before(txs[1].CreatedAt) {
			t.Error("history not in chronological order")
		}
	})

	t.Run("CountTransactionsSince", func(t *testing.T) {
		// Window (base-1m, base+10m] holds both transactions; the
		// upper bound is inclusive.
		count, err := repo.CountTransactionsSince(ctx, "user-1", base.Add(-time.Minute), base.Add(10*time.Minute))
		if err != nil {
			t.Fatalf("CountTransactionsSince failed: %v", err)
		}
		if count != 2 {
			t.Errorf("expected 2, got %d", count)
		}

		// Lower bound is exclusive.
		count, err = repo.CountTransactionsSince(ctx, "user-1", base, base.Add(10*time.Minute))
		if err != nil {
			t.Fatalf("CountTransactionsSince failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 with exclusive lower bound, got %d", count)
		}
	})

	t.Run("AmountStats", func(t *testing.T) {
		avg, stddev, count, err := repo.AmountStatsSince(ctx, "user-1", base.Add(-time.Hour), "")
		if err != nil {
			t.Fatalf("AmountStatsSince failed: %v", err)
		}
		if count != 2 {
			t.Fatalf("expected 2 samples, got %d", count)
		}
		wantAvg := (1234.56 + 50) / 2
		if math.Abs(avg-wantAvg) > 0.01 {
			t.Errorf("avg: got %v, want %v", avg, wantAvg)
		}
		if stddev <= 0 {
			t.Errorf("expected positive stddev, got %v", stddev)
		}

		// The excluded transaction must not contribute to its own
		// baseline.
		avg, _, count, err = repo.AmountStatsSince(ctx, "user-1", base.Add(-time.Hour), "tx-002")
		if err != nil {
			t.Fatalf("AmountStatsSince failed: %v", err)
		}
		if count != 1 || math.Abs(avg-1234.56) > 0.01 {
			t.Errorf("exclusion ignored: avg %v count %d", avg, count)
		}

		// No data yields zeros, not an error.
		avg, stddev, count, err = repo.AmountStatsSince(ctx, "user-none", base, "")
		if err != nil {
			t.Fatalf("AmountStatsSince failed: %v", err)
		}
		if avg != 0 || stddev != 0 || count != 0 {
			t.Errorf("expected zeros for missing user, got %v %v %d", avg, stddev, count)
		}
	})

	t.Run("CountryQueries", func(t *testing.T) {
		used, err := repo.HasTransactedInCountry(ctx, "user-1", "GB", "")
		if err != nil || !used {
			t.Errorf("expected GB usage, got %v err %v", used, err)
		}
		used, err = repo.HasTransactedInCountry(ctx, "user-1", "FR", "")
		if err != nil || used {
			t.Errorf("expected no FR usage, got %v err %v", used, err)
		}

		// With the only GB transaction excluded, the country reads as
		// never used: the transaction under assessment is not its own
		// precedent.
		used, err = repo.HasTransactedInCountry(ctx, "user-1", "GB", "tx-001")
		if err != nil || used {
			t.Errorf("excluded transaction still counted as precedent: %v err %v", used, err)
		}

		count, err := repo.CountDistinctCountries(ctx, "user-1", "")
		if err != nil {
			t.Fatalf("CountDistinctCountries failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 distinct country, got %d", count)
		}

		count, err = repo.CountDistinctCountries(ctx, "user-1", "tx-001")
		if err != nil {
			t.Fatalf("CountDistinctCountries failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected 0 distinct countries with the sole located transaction excluded, got %d", count)
		}
	})

	t.Run("LastTransactionWithLocation", func(t *testing.T) {
		last, err := repo.LastTransactionWithLocation(ctx, "user-1", base.Add(time.Hour))
		if err != nil {
			t.Fatalf("LastTransactionWithLocation failed: %v", err)
		}
		if last == nil || last.ID != "tx-001" {
			t.Errorf("expected tx-001, got %+v", last)
		}

		// Strictly before: the located transaction itself is excluded.
		last, err = repo.LastTransactionWithLocation(ctx, "user-1", base)
		if err != nil {
			t.Fatalf("LastTransactionWithLocation failed: %v", err)
		}
		if last != nil {
			t.Errorf("expected nil before any located transaction, got %+v", last)
		}
	})

	t.Run("SaveAndGetAssessment", func(t *testing.T) {
		a := &domain.Assessment{
			ID:               "asm-001",
			TxID:             "tx-001",
			UserID:           "user-1",
			ModelProbability: 0.42,
			RuleProbability:  0.9,
			FinalProbability: 0.708,
			Action:           domain.ActionReview,
			Violations: []domain.FraudViolation{
				{RuleID: "HIGH_AMOUNT", Description: "big", RiskScore: 0.8, Timestamp: base},
			},
			Explanation: &domain.FraudExplanation{
				BaselineProbability: 0.05,
				FinalProbability:    0.708,
				DecisionReason:      "review",
				Confidence:          0.8,
			},
			Timestamp: base,
			Metadata:  domain.AssessmentMetadata{EngineVersion: "kestrel/1.0", RulesEvaluated: 11},
		}

		if err := repo.SaveAssessment(ctx, a); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}

		retrieved, err := repo.GetAssessment(ctx, a.ID)
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}
		if retrieved.Action != domain.ActionReview {
			t.Errorf("expected REVIEW, got %s", retrieved.Action)
		}
		if len(retrieved.Violations) != 1 || retrieved.Violations[0].RuleID != "HIGH_AMOUNT" {
			t.Errorf("lost violations: %+v", retrieved.Violations)
		}
		if retrieved.Explanation == nil || retrieved.Explanation.DecisionReason != "review" {
			t.Errorf("lost explanation: %+v", retrieved.Explanation)
		}
		if retrieved.Metadata.RulesEvaluated != 11 {
			t.Errorf("lost metadata: %+v", retrieved.Metadata)
		}
	})

	t.Run("ProfileReplacedWholesale", func(t *testing.T) {
		p1 := &domain.UserRiskProfile{
			UserID:                   "user-1",
			AverageTransactionAmount: decimal.RequireFromString("642.28"),
			TotalTransactions:        2,
			TotalTransactionValue:    decimal.RequireFromString("1284.56"),
			BehavioralRiskScore:      0.8,
			TransactionRiskScore:     0.9,
			OverallRiskScore:         0.85,
			FirstTransactionDate:     base,
			LastTransactionDate:      base.Add(10 * time.Minute),
			UpdatedAt:                base,
		}
		if err := repo.SaveProfile(ctx, p1); err != nil {
			t.Fatalf("SaveProfile failed: %v", err)
		}

		p2 := *p1
		p2.TotalTransactions = 3
		p2.OverallRiskScore = 0.5
		p2.UpdatedAt = base.Add(time.Hour)
		if err := repo.SaveProfile(ctx, &p2); err != nil {
			t.Fatalf("SaveProfile (replace) failed: %v", err)
		}

		got, err := repo.GetProfile(ctx, "user-1")
		if err != nil {
			t.Fatalf("GetProfile failed: %v", err)
		}
		if got.TotalTransactions != 3 || got.OverallRiskScore != 0.5 {
			t.Errorf("profile not replaced: %+v", got)
		}
		if !got.AverageTransactionAmount.Equal(p1.AverageTransactionAmount) {
			t.Errorf("lost decimal average: %s", got.AverageTransactionAmount)
		}

		missing, err := repo.GetProfile(ctx, "user-none")
		if err != nil {
			t.Fatalf("GetProfile failed: %v", err)
		}
		if missing != nil {
			t.Errorf("expected nil for unknown user, got %+v", missing)
		}
	})

	t.Run("CustomRules", func(t *testing.T) {
		rule := &domain.CustomRuleConfig{
			ID:         "LARGE_ROUND",
			Version:    "1",
			Name:       "Large round amount",
			Expression: "amount >= 5000.0",
			RiskScore:  0.4,
			Enabled:    true,
		}
		if err := repo.SaveCustomRule(ctx, rule); err != nil {
			t.Fatalf("SaveCustomRule failed: %v", err)
		}

		// A later version supersedes the first.
		rule2 := *rule
		rule2.Version = "2"
		rule2.RiskScore = 0.5
		if err := repo.SaveCustomRule(ctx, &rule2); err != nil {
			t.Fatalf("SaveCustomRule v2 failed: %v", err)
		}

		rules, err := repo.ListCustomRules(ctx)
		if err != nil {
			t.Fatalf("ListCustomRules failed: %v", err)
		}
		if len(rules) != 1 {
			t.Fatalf("expected latest version only, got %d rules", len(rules))
		}
		if rules[0].Version != "2" || rules[0].RiskScore != 0.5 {
			t.Errorf("expected version 2, got %+v", rules[0])
		}

		// Disabled rules are excluded.
		rule3 := rule2
		rule3.Version = "3"
		rule3.Enabled = false
		if err := repo.SaveCustomRule(ctx, &rule3); err != nil {
			t.Fatalf("SaveCustomRule v3 failed: %v", err)
		}
		rules, err = repo.ListCustomRules(ctx)
		if err != nil {
			t.Fatalf("ListCustomRules failed: %v", err)
		}
		if len(rules) != 0 {
			t.Errorf("disabled latest version should hide the rule, got %+v", rules)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetTransaction(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetAssessment(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
