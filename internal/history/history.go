// Package history exposes the read-only historical aggregate queries
// the scoring core consumes, wrapping the repository with tracing.
package history

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service answers historical aggregate questions for rules and feature
// extraction. All queries are read-only and may report "no data"; the
// callers treat failures as abstentions.
type Service struct {
	repo   domain.Repository
	tracer trace.Tracer
}

// NewService creates a history service over the repository.
func NewService(repo domain.Repository) *Service {
	return &Service{
		repo:   repo,
		tracer: otel.Tracer("kestrel/history"),
	}
}

// CountTransactionsSince counts the user's transactions in (since, before].
func (s *Service) CountTransactionsSince(ctx context.Context, userID string, since, before time.Time) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "history.CountTransactionsSince",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	count, err := s.repo.CountTransactionsSince(ctx, userID, since, before)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return count, nil
}

// AmountStatsSince returns the average, standard deviation and count of
// the user's transaction amounts since the given time, excluding the
// transaction under assessment.
func (s *Service) AmountStatsSince(ctx context.Context, userID string, since time.Time, excludeTxID string) (float64, float64, int64, error) {
	ctx, span := s.tracer.Start(ctx, "history.AmountStatsSince",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	avg, stddev, count, err := s.repo.AmountStatsSince(ctx, userID, since, excludeTxID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("amount stats: %w", err)
	}
	return avg, stddev, count, nil
}

// HasTransactedInCountry reports whether the user has any prior
// transaction in the country, not counting the one under assessment.
func (s *Service) HasTransactedInCountry(ctx context.Context, userID, country, excludeTxID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "history.HasTransactedInCountry",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("country", country),
		))
	defer span.End()

	used, err := s.repo.HasTransactedInCountry(ctx, userID, country, excludeTxID)
	if err != nil {
		return false, fmt.Errorf("country lookup: %w", err)
	}
	return used, nil
}

// CountDistinctCountries counts the countries the user has transacted
// in, excluding the transaction under assessment.
func (s *Service) CountDistinctCountries(ctx context.Context, userID, excludeTxID string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "history.CountDistinctCountries",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	count, err := s.repo.CountDistinctCountries(ctx, userID, excludeTxID)
	if err != nil {
		return 0, fmt.Errorf("distinct countries: %w", err)
	}
	return count, nil
}

// LastTransactionWithLocation returns the user's most recent prior
// transaction carrying coordinates, or nil when none exists.
func (s *Service) LastTransactionWithLocation(ctx context.Context, userID string, before time.Time) (*domain.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "history.LastTransactionWithLocation",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	tx, err := s.repo.LastTransactionWithLocation(ctx, userID, before)
	if err != nil {
		return nil, fmt.Errorf("last located transaction: %w", err)
	}
	return tx, nil
}
