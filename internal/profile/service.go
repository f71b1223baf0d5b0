package profile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const profileCacheTTL = 5 * time.Minute

// Service coordinates profile recomputation, persistence and caching.
// Different users' recomputations are independent and may run
// concurrently; each recomputation reads one consistent snapshot of the
// user's history.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a profile service. The cache is optional.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Get returns the user's current profile, creating the canonical zero
// profile lazily on first lookup. The cache is consulted first; a cache
// failure falls through to the repository.
func (s *Service) Get(ctx context.Context, userID string) (*domain.UserRiskProfile, error) {
	if s.cache != nil {
		if p, err := s.cache.GetProfile(ctx, userID); err != nil {
			slog.Warn("profile cache read failed", "user_id", userID, "error", err)
		} else if p != nil {
			return p, nil
		}
	}

	p, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if p == nil {
		p = &domain.UserRiskProfile{UserID: userID}
	}

	if s.cache != nil {
		if err := s.cache.SetProfile(ctx, p, profileCacheTTL); err != nil {
			slog.Warn("profile cache write failed", "user_id", userID, "error", err)
		}
	}
	return p, nil
}

// Recompute replays the user's full transaction history into a fresh
// profile, stores it and refreshes the cache. The previous stored
// profile is replaced wholesale.
func (s *Service) Recompute(ctx context.Context, userID string) (*domain.UserRiskProfile, domain.MerchantFrequency, error) {
	txs, err := s.repo.GetTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load transaction history: %w", err)
	}

	p, freq := Recompute(userID, txs)
	p.UpdatedAt = time.Now().UTC()

	if err := s.repo.SaveProfile(ctx, p); err != nil {
		return nil, nil, fmt.Errorf("failed to save profile: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetProfile(ctx, p, profileCacheTTL); err != nil {
			slog.Warn("profile cache write failed", "user_id", userID, "error", err)
		}
	}

	return p, freq, nil
}

// Frequency recomputes only the merchant-category frequency map for the
// user without touching the stored profile.
func (s *Service) Frequency(ctx context.Context, userID string) (domain.MerchantFrequency, error) {
	txs, err := s.repo.GetTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction history: %w", err)
	}
	freq := make(domain.MerchantFrequency, len(txs))
	for _, tx := range txs {
		freq[tx.MerchantCategory]++
	}
	return freq, nil
}
