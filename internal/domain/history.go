package domain

import (
	"context"
	"time"
)

// History exposes read-only aggregate queries over a user's transaction
// history. Rules issue these as awaited external calls; every query may
// report "no data" (zero counts, nil transaction) and that is never an
// error for the caller. Implementations must not mutate anything.
// The transaction under assessment is already persisted when rules run,
// so queries that must see only prior history take its ID and exclude
// it. Velocity counting deliberately includes it and does not.
type History interface {
	// CountTransactionsSince returns the number of transactions by the
	// user with CreatedAt in (since, before]. The inclusive upper bound
	// covers the transaction under assessment, which velocity counting
	// requires.
	CountTransactionsSince(ctx context.Context, userID string, since, before time.Time) (int64, error)

	// AmountStatsSince returns the mean and standard deviation of the
	// user's transaction amounts since the given time, excluding the
	// transaction with excludeTxID. count is the number of samples; zero
	// count means no data.
	AmountStatsSince(ctx context.Context, userID string, since time.Time, excludeTxID string) (avg, stddev float64, count int64, err error)

	// HasTransactedInCountry reports whether the user has any
	// transaction other than excludeTxID located in the given country.
	HasTransactedInCountry(ctx context.Context, userID, country, excludeTxID string) (bool, error)

	// CountDistinctCountries returns how many distinct countries the
	// user has transacted in, not counting the transaction with
	// excludeTxID.
	CountDistinctCountries(ctx context.Context, userID, excludeTxID string) (int64, error)

	// LastTransactionWithLocation returns the most recent transaction by
	// the user that carries coordinates and happened before the given
	// time, or nil if there is none.
	LastTransactionWithLocation(ctx context.Context, userID string, before time.Time) (*Transaction, error)
}
