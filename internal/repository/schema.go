package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaEntities = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS devices (
    id TEXT PRIMARY KEY,
    user_id TEXT,
    fingerprint TEXT NOT NULL,
    last_seen TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_devices_user ON devices(user_id);

CREATE TABLE IF NOT EXISTS merchants (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    category TEXT NOT NULL,
    risk_level DOUBLE PRECISION NOT NULL DEFAULT 50
);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    device_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    amount NUMERIC(18,2) NOT NULL,
    status TEXT NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_device ON transactions(device_id, timestamp);
`

const schemaRiskSignals = `
CREATE TABLE IF NOT EXISTS risk_signals (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    signal_type TEXT NOT NULL,
    risk_score INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_signals_tx ON risk_signals(transaction_id);
CREATE INDEX IF NOT EXISTS idx_risk_signals_score ON risk_signals(risk_score);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    risk_score INTEGER NOT NULL,
    severity TEXT NOT NULL,
    reason TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'open',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status, created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_tx ON alerts(transaction_id);
`

// schemaTraining holds the append-only training examples and model history.
const schemaTraining = `
CREATE TABLE IF NOT EXISTS training_examples (
    id TEXT PRIMARY KEY,
    transaction_id TEXT,
    features TEXT NOT NULL,
    label INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_training_examples_created ON training_examples(created_at);

CREATE TABLE IF NOT EXISTS models (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    parameters TEXT NOT NULL,
    version TEXT NOT NULL,
    revision INTEGER NOT NULL,
    accuracy DOUBLE PRECISION,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_models_kind ON models(kind, revision);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    reason TEXT NOT NULL,
    multiplier DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaEntities,
		schemaTransactions,
		schemaRiskSignals,
		schemaAlerts,
		schemaTraining,
		schemaRuleConfigs,
	}
}
