package scoring

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/geo"
)

const (
	// neutral is the placeholder feature value when the underlying
	// data is unavailable.
	neutral = 0.5

	amountCeiling   = 10000.0
	velocityCeiling = 20.0
	oddHourCutoff   = 5
)

// Extractor normalizes a transaction and profile into the model's
// feature vector. Every feature lands in [0,1]; missing data maps to
// the neutral 0.5 placeholder rather than failing the assessment.
type Extractor struct {
	history domain.History
}

// NewExtractor creates a feature extractor over the given history
// source. A nil history leaves the velocity feature at its neutral
// placeholder.
func NewExtractor(history domain.History) *Extractor {
	return &Extractor{history: history}
}

// Extract builds the feature vector in FeatureNames order.
func (e *Extractor) Extract(ctx context.Context, tx *domain.Transaction, profile *domain.UserRiskProfile) []float64 {
	return []float64{
		e.amountFeature(tx),
		e.velocityFeature(ctx, tx),
		e.geographyFeature(tx),
		e.timeFeature(tx),
		e.historyFeature(profile),
	}
}

func (e *Extractor) amountFeature(tx *domain.Transaction) float64 {
	return math.Min(tx.Amount.InexactFloat64()/amountCeiling, 1)
}

func (e *Extractor) velocityFeature(ctx context.Context, tx *domain.Transaction) float64 {
	if e.history == nil {
		return neutral
	}
	count, err := e.history.CountTransactionsSince(ctx, tx.UserID, tx.CreatedAt.Add(-time.Hour), tx.CreatedAt)
	if err != nil {
		slog.Warn("velocity feature degraded to neutral", "tx_id", tx.ID, "error", err)
		return neutral
	}
	return math.Min(float64(count)/velocityCeiling, 1)
}

func (e *Extractor) geographyFeature(tx *domain.Transaction) float64 {
	if tx.Location == nil {
		return neutral
	}
	if tx.IsInternational {
		return 0.8
	}
	return 0.2
}

func (e *Extractor) timeFeature(tx *domain.Transaction) float64 {
	if geo.HourOfDay(tx.CreatedAt, nil) < oddHourCutoff {
		return 0.8
	}
	return 0.2
}

func (e *Extractor) historyFeature(profile *domain.UserRiskProfile) float64 {
	if profile.IsNewUser() {
		return neutral
	}
	return clamp01(profile.OverallRiskScore)
}
