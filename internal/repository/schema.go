package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaFraudRules = `
CREATE TABLE IF NOT EXISTS fraud_rules (
    id TEXT PRIMARY KEY,
    rule_code TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL,
    rule_type TEXT NOT NULL,
    impact_level TEXT NOT NULL,
    status TEXT NOT NULL,
    actions TEXT NOT NULL,
    action_duration BIGINT NOT NULL DEFAULT 0,
    priority INTEGER NOT NULL DEFAULT 0,
    rule_condition TEXT NOT NULL DEFAULT '',
    parameters TEXT NOT NULL DEFAULT '',
    valid_from TIMESTAMP,
    valid_to TIMESTAMP,
    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    created_by TEXT NOT NULL DEFAULT '',
    modified_by TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_fraud_rules_status ON fraud_rules(status, category);
`

const schemaBlacklist = `
CREATE TABLE IF NOT EXISTS blacklist_items (
    id TEXT PRIMARY KEY,
    list_type TEXT NOT NULL,
    value TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    expiry_date TIMESTAMP,
    added_by TEXT NOT NULL DEFAULT '',
    invalidated_by TEXT NOT NULL DEFAULT '',
    invalidated_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blacklist_lookup ON blacklist_items(list_type, value, status);
CREATE INDEX IF NOT EXISTS idx_blacklist_status ON blacklist_items(status);
`

// schemaAnalysis defines analysis results and the risk factors they own.
const schemaAnalysis = `
CREATE TABLE IF NOT EXISTS analysis_results (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL DEFAULT '',
    account_id TEXT NOT NULL DEFAULT '',
    fraud_probability REAL NOT NULL,
    anomaly_score REAL NOT NULL,
    risk_score REAL NOT NULL,
    risk_level TEXT NOT NULL,
    decision TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    total_rule_count INTEGER NOT NULL,
    triggered_rule_count INTEGER NOT NULL,
    triggered_rules TEXT NOT NULL,
    applied_actions TEXT NOT NULL,
    blacklist TEXT NOT NULL,
    hard_stop BOOLEAN NOT NULL,
    ml_analysis TEXT NOT NULL,
    analyzed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analysis_tx ON analysis_results(transaction_id);
CREATE INDEX IF NOT EXISTS idx_analysis_decision ON analysis_results(decision);
CREATE INDEX IF NOT EXISTS idx_analysis_account ON analysis_results(account_id, analyzed_at);

CREATE TABLE IF NOT EXISTS risk_factors (
    id TEXT PRIMARY KEY,
    analysis_id TEXT NOT NULL,
    code TEXT NOT NULL,
    factor_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    confidence REAL NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',
    rule_id TEXT NOT NULL DEFAULT '',
    detected_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_factors_analysis ON risk_factors(analysis_id);
`

const schemaFraudRuleEvents = `
CREATE TABLE IF NOT EXISTS fraud_rule_events (
    id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL,
    rule_code TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    transaction_id TEXT NOT NULL DEFAULT '',
    account_id TEXT NOT NULL DEFAULT '',
    ip_address TEXT NOT NULL DEFAULT '',
    device_info TEXT NOT NULL DEFAULT '',
    actions TEXT NOT NULL,
    action_duration BIGINT NOT NULL DEFAULT 0,
    action_end_date TIMESTAMP,
    status TEXT NOT NULL,
    details TEXT NOT NULL DEFAULT '',
    investigated_by TEXT NOT NULL DEFAULT '',
    investigated_at TIMESTAMP,
    resolution_notes TEXT NOT NULL DEFAULT '',
    resolved_by TEXT NOT NULL DEFAULT '',
    resolved_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_rule_events_status ON fraud_rule_events(status, created_at);
CREATE INDEX IF NOT EXISTS idx_fraud_rule_events_rule ON fraud_rule_events(rule_id);
CREATE INDEX IF NOT EXISTS idx_fraud_rule_events_account ON fraud_rule_events(account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_fraud_rule_events_ip ON fraud_rule_events(ip_address, created_at);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    id TEXT PRIMARY KEY,
    analysis_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL DEFAULT '',
    account_id TEXT NOT NULL DEFAULT '',
    level TEXT NOT NULL,
    status TEXT NOT NULL,
    risk_score REAL NOT NULL,
    decision TEXT NOT NULL,
    factors TEXT NOT NULL,
    assigned_to TEXT NOT NULL DEFAULT '',
    assigned_at TIMESTAMP,
    resolution TEXT NOT NULL DEFAULT '',
    resolved_by TEXT NOT NULL DEFAULT '',
    resolved_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_alerts_status ON fraud_alerts(status, created_at);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_account ON fraud_alerts(account_id, created_at);
`

// schemaActivity defines the activity log counted by windowed threshold
// rules. occurred_at holds Unix nanoseconds so window bounds compare
// numerically on both drivers.
const schemaActivity = `
CREATE TABLE IF NOT EXISTS activity_events (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    account_id TEXT NOT NULL DEFAULT '',
    ip_address TEXT NOT NULL DEFAULT '',
    device_id TEXT NOT NULL DEFAULT '',
    amount TEXT NOT NULL DEFAULT '0',
    occurred_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_account ON activity_events(kind, account_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_activity_ip ON activity_events(kind, ip_address, occurred_at);
CREATE INDEX IF NOT EXISTS idx_activity_device ON activity_events(kind, device_id, occurred_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaFraudRules,
		schemaBlacklist,
		schemaAnalysis,
		schemaFraudRuleEvents,
		schemaAlerts,
		schemaActivity,
	}
}
