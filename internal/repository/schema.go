package repository

// Schema definitions for the Payguard database.
// Compatible with both SQLite and PostgreSQL.

const schemaTrades = `
CREATE TABLE IF NOT EXISTS trades (
    trade_id TEXT PRIMARY KEY,
    trader_id TEXT NOT NULL,
    trader_name TEXT,
    symbol TEXT,
    type TEXT NOT NULL,
    quantity REAL NOT NULL,
    price REAL NOT NULL,
    total_value REAL NOT NULL,
    device_id TEXT,
    ip TEXT,
    country TEXT,
    timestamp TIMESTAMP NOT NULL,
    is_fraud INTEGER NOT NULL DEFAULT 0,
    fraud_type TEXT,
    ring_id TEXT,
    risk TEXT
);

CREATE INDEX IF NOT EXISTS idx_trades_trader ON trades(trader_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);
`

const schemaPayouts = `
CREATE TABLE IF NOT EXISTS payouts (
    id TEXT PRIMARY KEY,
    trader_id TEXT NOT NULL,
    amount REAL NOT NULL,
    status TEXT NOT NULL,
    score REAL NOT NULL,
    decision TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    reviewed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_payouts_status ON payouts(status, created_at);
CREATE INDEX IF NOT EXISTS idx_payouts_trader ON payouts(trader_id);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    payout_id TEXT NOT NULL,
    trader_id TEXT NOT NULL,
    severity TEXT NOT NULL,
    message TEXT NOT NULL,
    flags TEXT NOT NULL,
    auto_action TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
`

// schemaConfirmedCases is the append-only reviewer feedback log.
const schemaConfirmedCases = `
CREATE TABLE IF NOT EXISTS confirmed_cases (
    id TEXT PRIMARY KEY,
    trader_id TEXT NOT NULL,
    payout_id TEXT,
    decision TEXT NOT NULL,
    risk_score REAL NOT NULL,
    fraud_type TEXT,
    payload TEXT NOT NULL,
    confirmed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_confirmed_cases_at ON confirmed_cases(confirmed_at);
`

const schemaPatterns = `
CREATE TABLE IF NOT EXISTS patterns (
    id TEXT PRIMARY KEY,
    category TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    vector TEXT NOT NULL,
    severity TEXT NOT NULL,
    auto_action TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 0,
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
		schemaTrades,
		schemaPayouts,
		schemaAlerts,
		schemaConfirmedCases,
		schemaPatterns,
		schemaRuleConfigs,
	}
}
