package repository

// Schema definitions for the rule evaluation store. Compatible with both
// SQLite and PostgreSQL (placeholders are rebound per-driver by rebind()).

const schemaRulesets = `
CREATE TABLE IF NOT EXISTS rulesets (
    id TEXT PRIMARY KEY,
    namespace TEXT,
    name TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    is_default INTEGER NOT NULL DEFAULT 0,
    actions TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rulesets_namespace ON rulesets(namespace);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    namespace TEXT,
    ruleset_id TEXT NOT NULL,
    name TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    rule_point REAL NOT NULL DEFAULT 0,
    weight REAL NOT NULL DEFAULT 1.0,
    action_tag TEXT NOT NULL,
    status TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    attribute TEXT,
    operator TEXT,
    constant TEXT,
    condition_ids TEXT,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_ruleset ON rules(ruleset_id);
CREATE INDEX IF NOT EXISTS idx_rules_status ON rules(status);
`

const schemaConditions = `
CREATE TABLE IF NOT EXISTS conditions (
    id TEXT PRIMARY KEY,
    namespace TEXT,
    attribute TEXT NOT NULL,
    operator TEXT NOT NULL,
    constant TEXT
);
`

const schemaPatterns = `
CREATE TABLE IF NOT EXISTS patterns (
    ruleset_id TEXT NOT NULL,
    pattern TEXT NOT NULL,
    recommendation TEXT NOT NULL,
    PRIMARY KEY (ruleset_id, pattern)
);
`

const schemaExecutionLogs = `
CREATE TABLE IF NOT EXISTS execution_logs (
    execution_id TEXT PRIMARY KEY,
    timestamp TIMESTAMP NOT NULL,
    correlation_id TEXT,
    input_snapshot TEXT NOT NULL,
    total_points REAL NOT NULL,
    pattern_result TEXT,
    action_recommendation TEXT,
    duration_ms INTEGER NOT NULL,
    success INTEGER NOT NULL,
    error_message TEXT,
    ruleset_id TEXT,
    ab_test_id TEXT,
    ab_variant TEXT
);

CREATE INDEX IF NOT EXISTS idx_execution_logs_timestamp ON execution_logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_execution_logs_correlation ON execution_logs(correlation_id);
`

const schemaRuleVersions = `
CREATE TABLE IF NOT EXISTS rule_versions (
    rule_id TEXT NOT NULL,
    version_number INTEGER NOT NULL,
    snapshot TEXT NOT NULL,
    is_current INTEGER NOT NULL DEFAULT 0,
    change_reason TEXT,
    author TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (rule_id, version_number)
);

CREATE INDEX IF NOT EXISTS idx_rule_versions_current ON rule_versions(rule_id, is_current);
`

const schemaABTests = `
CREATE TABLE IF NOT EXISTS rule_ab_tests (
    test_id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL,
    variant_a_version TEXT NOT NULL,
    variant_b_version TEXT NOT NULL,
    split_a REAL NOT NULL,
    split_b REAL NOT NULL,
    status TEXT NOT NULL,
    start_time TIMESTAMP,
    end_time TIMESTAMP,
    min_sample_size INTEGER NOT NULL DEFAULT 0,
    confidence_level REAL NOT NULL DEFAULT 0.95,
    winning_variant TEXT
);
`

const schemaTestAssignments = `
CREATE TABLE IF NOT EXISTS test_assignments (
    test_id TEXT NOT NULL,
    assignment_key TEXT NOT NULL,
    variant TEXT NOT NULL,
    assigned_at TIMESTAMP NOT NULL,
    successes INTEGER NOT NULL DEFAULT 0,
    failures INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (test_id, assignment_key)
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRulesets,
		schemaRules,
		schemaConditions,
		schemaPatterns,
		schemaExecutionLogs,
		schemaRuleVersions,
		schemaABTests,
		schemaTestAssignments,
	}
}
