package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.
//
// Amounts are stored twice: the exact decimal string for round-tripping
// and a float column for SQL aggregates (averages, spike statistics).

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    amount_value REAL NOT NULL,
    currency TEXT NOT NULL,
    merchant_category TEXT NOT NULL,
    is_international INTEGER NOT NULL DEFAULT 0,
    latitude REAL,
    longitude REAL,
    country TEXT,
    city TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_user_time ON transactions(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_user_country ON transactions(user_id, country);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    model_probability REAL NOT NULL,
    rule_probability REAL NOT NULL,
    final_probability REAL NOT NULL,
    action TEXT NOT NULL,
    violations TEXT NOT NULL,
    explanation TEXT,
    metadata TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tx ON assessments(tx_id);
CREATE INDEX IF NOT EXISTS idx_assessments_user ON assessments(user_id);
CREATE INDEX IF NOT EXISTS idx_assessments_action ON assessments(action);
CREATE INDEX IF NOT EXISTS idx_assessments_timestamp ON assessments(timestamp);
`

const schemaProfiles = `
CREATE TABLE IF NOT EXISTS profiles (
    user_id TEXT PRIMARY KEY,
    average_amount TEXT NOT NULL,
    total_transactions INTEGER NOT NULL,
    total_value TEXT NOT NULL,
    high_risk_count INTEGER NOT NULL,
    international_count INTEGER NOT NULL,
    behavioral_risk REAL NOT NULL,
    transaction_risk REAL NOT NULL,
    overall_risk REAL NOT NULL,
    first_transaction TIMESTAMP,
    last_transaction TIMESTAMP,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaCustomRules = `
CREATE TABLE IF NOT EXISTS custom_rules (
    id TEXT NOT NULL,
    version TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    risk_score REAL NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_custom_rules_enabled ON custom_rules(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaAssessments,
		schemaProfiles,
		schemaCustomRules,
	}
}
