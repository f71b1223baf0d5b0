// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores an immutable transaction fact.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" || tx.UserID == "" {
		return fmt.Errorf("%w: transaction id and user id are required", ErrInvalidInput)
	}

	var lat, lon sql.NullFloat64
	var country, city sql.NullString
	if tx.Location != nil {
		if tx.Location.HasCoordinates() {
			lat = sql.NullFloat64{Float64: tx.Location.Latitude, Valid: true}
			lon = sql.NullFloat64{Float64: tx.Location.Longitude, Valid: true}
		}
		if tx.Location.Country != "" {
			country = sql.NullString{String: tx.Location.Country, Valid: true}
		}
		if tx.Location.City != "" {
			city = sql.NullString{String: tx.Location.City, Valid: true}
		}
	}

	query := `
		INSERT INTO transactions (
			id, user_id, amount, amount_value, currency,
			merchant_category, is_international,
			latitude, longitude, country, city, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.UserID,
		tx.Amount.String(), tx.Amount.InexactFloat64(), tx.Currency,
		tx.MerchantCategory, boolToInt(tx.IsInternational),
		lat, lon, country, city, tx.CreatedAt.UTC(),
	)
	return err
}

const transactionColumns = `id, user_id, amount, currency, merchant_category,
	   is_international, latitude, longitude, country, city, created_at`

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// GetTransactionsByUser returns the user's complete transaction history
// in chronological order, the snapshot profile recomputation replays.
func (r *SQLRepository) GetTransactionsByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = ? ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// CountTransactionsSince counts the user's transactions in (since, before].
func (r *SQLRepository) CountTransactionsSince(ctx context.Context, userID string, since, before time.Time) (int64, error) {
	query := `
		SELECT COUNT(*) FROM transactions
		WHERE user_id = ? AND created_at > ? AND created_at <= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID, since.UTC(), before.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// AmountStatsSince returns average, population standard deviation and
// count of the user's amounts since the given time, excluding the
// transaction under assessment so it cannot dilute its own baseline.
// No data yields zeros, not an error.
func (r *SQLRepository) AmountStatsSince(ctx context.Context, userID string, since time.Time, excludeTxID string) (float64, float64, int64, error) {
	query := `
		SELECT COUNT(*), COALESCE(AVG(amount_value), 0), COALESCE(AVG(amount_value * amount_value), 0)
		FROM transactions
		WHERE user_id = ? AND created_at >= ? AND id != ?
	`

	var count int64
	var avg, avgSquares float64
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID, since.UTC(), excludeTxID).Scan(&count, &avg, &avgSquares)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to compute amount stats: %w", err)
	}
	if count == 0 {
		return 0, 0, 0, nil
	}

	variance := avgSquares - avg*avg
	if variance < 0 {
		variance = 0
	}
	return avg, math.Sqrt(variance), count, nil
}

// HasTransactedInCountry reports whether the user has a transaction in
// the country other than the one under assessment, which is already
// persisted and must not count as its own precedent.
func (r *SQLRepository) HasTransactedInCountry(ctx context.Context, userID, country, excludeTxID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM transactions WHERE user_id = ? AND country = ? AND id != ?)`

	var exists bool
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID, country, excludeTxID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check country usage: %w", err)
	}
	return exists, nil
}

// CountDistinctCountries counts the countries the user has transacted
// in, excluding the transaction under assessment.
func (r *SQLRepository) CountDistinctCountries(ctx context.Context, userID, excludeTxID string) (int64, error) {
	query := `SELECT COUNT(DISTINCT country) FROM transactions WHERE user_id = ? AND country IS NOT NULL AND id != ?`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID, excludeTxID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count countries: %w", err)
	}
	return count, nil
}

// LastTransactionWithLocation returns the user's most recent transaction
// carrying coordinates strictly before the given time, or nil.
func (r *SQLRepository) LastTransactionWithLocation(ctx context.Context, userID string, before time.Time) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = ? AND created_at < ? AND latitude IS NOT NULL AND longitude IS NOT NULL
		ORDER BY created_at DESC
		LIMIT 1`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), userID, before.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tx, err
}

// SaveAssessment stores a completed assessment.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.Assessment) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	violations, _ := json.Marshal(a.Violations)
	metadata, _ := json.Marshal(a.Metadata)

	var explanation sql.NullString
	if a.Explanation != nil {
		raw, err := json.Marshal(a.Explanation)
		if err != nil {
			return fmt.Errorf("failed to marshal explanation: %w", err)
		}
		explanation = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO assessments (
			id, tx_id, user_id, model_probability, rule_probability,
			final_probability, action, violations, explanation, metadata, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.TxID, a.UserID,
		a.ModelProbability, a.RuleProbability, a.FinalProbability,
		string(a.Action), string(violations), explanation, string(metadata),
		a.Timestamp.UTC(),
	)
	return err
}

// GetAssessment retrieves an assessment by ID.
func (r *SQLRepository) GetAssessment(ctx context.Context, id string) (*domain.Assessment, error) {
	query := `
		SELECT id, tx_id, user_id, model_probability, rule_probability,
			   final_probability, action, violations, explanation, metadata, timestamp
		FROM assessments
		WHERE id = ?
	`

	var a domain.Assessment
	var action, violations, metadata string
	var explanation sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&a.ID, &a.TxID, &a.UserID,
		&a.ModelProbability, &a.RuleProbability, &a.FinalProbability,
		&action, &violations, &explanation, &metadata, &a.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Action = domain.RiskAction(action)
	if err := json.Unmarshal([]byte(violations), &a.Violations); err != nil {
		return nil, fmt.Errorf("failed to parse violations: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if explanation.Valid {
		a.Explanation = &domain.FraudExplanation{}
		if err := json.Unmarshal([]byte(explanation.String), a.Explanation); err != nil {
			return nil, fmt.Errorf("failed to parse explanation: %w", err)
		}
	}

	return &a, nil
}

// SaveProfile replaces the user's stored profile wholesale.
func (r *SQLRepository) SaveProfile(ctx context.Context, p *domain.UserRiskProfile) error {
	if p == nil || p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO profiles (
			user_id, average_amount, total_transactions, total_value,
			high_risk_count, international_count,
			behavioral_risk, transaction_risk, overall_risk,
			first_transaction, last_transaction, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			average_amount = excluded.average_amount,
			total_transactions = excluded.total_transactions,
			total_value = excluded.total_value,
			high_risk_count = excluded.high_risk_count,
			international_count = excluded.international_count,
			behavioral_risk = excluded.behavioral_risk,
			transaction_risk = excluded.transaction_risk,
			overall_risk = excluded.overall_risk,
			first_transaction = excluded.first_transaction,
			last_transaction = excluded.last_transaction,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.UserID, p.AverageTransactionAmount.String(), p.TotalTransactions,
		p.TotalTransactionValue.String(), p.HighRiskTransactionCount,
		p.InternationalTransactionCount,
		p.BehavioralRiskScore, p.TransactionRiskScore, p.OverallRiskScore,
		nullTime(p.FirstTransactionDate), nullTime(p.LastTransactionDate),
		p.UpdatedAt.UTC(),
	)
	return err
}

// GetProfile retrieves the user's stored profile; nil when none exists.
func (r *SQLRepository) GetProfile(ctx context.Context, userID string) (*domain.UserRiskProfile, error) {
	query := `
		SELECT user_id, average_amount, total_transactions, total_value,
			   high_risk_count, international_count,
			   behavioral_risk, transaction_risk, overall_risk,
			   first_transaction, last_transaction, updated_at
		FROM profiles
		WHERE user_id = ?
	`

	var p domain.UserRiskProfile
	var avg, total string
	var first, last sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(
		&p.UserID, &avg, &p.TotalTransactions, &total,
		&p.HighRiskTransactionCount, &p.InternationalTransactionCount,
		&p.BehavioralRiskScore, &p.TransactionRiskScore, &p.OverallRiskScore,
		&first, &last, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if p.AverageTransactionAmount, err = decimal.NewFromString(avg); err != nil {
		return nil, fmt.Errorf("failed to parse average amount: %w", err)
	}
	if p.TotalTransactionValue, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("failed to parse total value: %w", err)
	}
	if first.Valid {
		p.FirstTransactionDate = first.Time
	}
	if last.Valid {
		p.LastTransactionDate = last.Time
	}

	return &p, nil
}

// SaveCustomRule stores a custom rule configuration version.
func (r *SQLRepository) SaveCustomRule(ctx context.Context, rule *domain.CustomRuleConfig) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	version := rule.Version
	if version == "" {
		version = "1"
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO custom_rules (
			id, version, name, description, expression, risk_score, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			risk_score = excluded.risk_score,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, version, rule.Name, rule.Description,
		rule.Expression, rule.RiskScore, boolToInt(rule.Enabled),
		now, now,
	)
	return err
}

// ListCustomRules returns the latest version of every enabled custom
// rule.
func (r *SQLRepository) ListCustomRules(ctx context.Context) ([]*domain.CustomRuleConfig, error) {
	query := `
		SELECT c.id, c.version, c.name, c.description, c.expression, c.risk_score, c.enabled
		FROM custom_rules c
		JOIN (
			SELECT id, MAX(version) AS version FROM custom_rules GROUP BY id
		) latest ON c.id = latest.id AND c.version = latest.version
		WHERE c.enabled = 1
		ORDER BY c.id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.CustomRuleConfig
	for rows.Next() {
		var cfg domain.CustomRuleConfig
		var enabled int
		if err := rows.Scan(&cfg.ID, &cfg.Version, &cfg.Name, &cfg.Description, &cfg.Expression, &cfg.RiskScore, &enabled); err != nil {
			return nil, err
		}
		cfg.Enabled = enabled == 1
		rules = append(rules, &cfg)
	}
	return rules, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var amount string
	var intl int
	var lat, lon sql.NullFloat64
	var country, city sql.NullString

	err := s.Scan(
		&tx.ID, &tx.UserID, &amount, &tx.Currency, &tx.MerchantCategory,
		&intl, &lat, &lon, &country, &city, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	tx.IsInternational = intl == 1

	if lat.Valid || lon.Valid || country.Valid || city.Valid {
		tx.Location = &domain.Geolocation{
			Latitude:  lat.Float64,
			Longitude: lon.Float64,
			Country:   country.String,
			City:      city.String,
		}
	}

	return &tx, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
