// Package repository implements domain.Repository against pluggable
// backing stores: a SQL database (SQLite or PostgreSQL) and a flat JSON
// rule-set file (spec.md §6).
package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/rulecore/internal/coreerrors"
	"github.com/opensource-finance/rulecore/internal/domain"
)

// SQLRepository implements domain.Repository against SQLite or PostgreSQL.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens a repository connection for the configured backend and
// dialect, running schema migrations before returning.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	switch cfg.Backend {
	case domain.BackendFile:
		return NewFileRepository(cfg.FilePath)
	case domain.BackendDatabase:
		return newSQLRepository(cfg)
	case domain.BackendObjectStore:
		return nil, &coreerrors.StorageError{Op: "New", Message: "object-store backend is not yet implemented"}
	default:
		return nil, &coreerrors.StorageError{Op: "New", Message: fmt.Sprintf("unknown repository backend: %q", cfg.Backend)}
	}
}

func newSQLRepository(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite", "":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, &coreerrors.StorageError{Op: "New", Message: fmt.Sprintf("unsupported database driver: %q", cfg.Driver)}
	}
	if err != nil {
		return nil, &coreerrors.StorageError{Op: "New", Message: "failed to open database", Cause: err}
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}

	repo := &SQLRepository{db: db, driver: driver}
	for _, stmt := range AllSchemas() {
		if _, err := db.Exec(repo.rebind(stmt)); err != nil {
			db.Close()
			return nil, &coreerrors.StorageError{Op: "migrate", Message: "failed to apply schema", Cause: err}
		}
	}

	return repo, nil
}

// rebind converts the package's `?` placeholders into PostgreSQL's `$N`
// form when the driver requires it; SQLite accepts `?` directly.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// --- Bulk reads -------------------------------------------------------

func (r *SQLRepository) ReadRulesSet(ctx context.Context) ([]*domain.RuleConfig, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, namespace, ruleset_id, name, priority, rule_point, weight, action_tag,
		       status, version, attribute, operator, constant, condition_ids, updated_at
		FROM rules
		ORDER BY ruleset_id, priority`))
	if err != nil {
		return nil, &coreerrors.StorageError{Op: "ReadRulesSet", Cause: err}
	}
	defer rows.Close()

	var out []*domain.RuleConfig
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, &coreerrors.StorageError{Op: "ReadRulesSet", Cause: err}
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *SQLRepository) ReadConditionsSet(ctx context.Context) ([]*domain.ConditionConfig, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, namespace, attribute, operator, constant FROM conditions`))
	if err != nil {
		return nil, &coreerrors.StorageError{Op: "ReadConditionsSet", Cause: err}
	}
	defer rows.Close()

	var out []*domain.ConditionConfig
	for rows.Next() {
		var c domain.ConditionConfig
		var constantRaw string
		if err := rows.Scan(&c.ID, &c.Namespace, &c.Attribute, &c.Operator, &constantRaw); err != nil {
			return nil, &coreerrors.StorageError{Op: "ReadConditionsSet", Cause: err}
		}
		if constantRaw != "" {
			if err := json.Unmarshal([]byte(constantRaw), &c.Constant); err != nil {
				return nil, &coreerrors.StorageError{Op: "ReadConditionsSet", Message: "malformed constant", Cause: err}
			}
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *SQLRepository) ReadPatterns(ctx context.Context, rulesetID string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT pattern, recommendation FROM patterns WHERE ruleset_id = ?`), rulesetID)
	if err != nil {
		return nil, &coreerrors.StorageError{Op: "ReadPatterns", Cause: err}
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var pattern, recommendation string
		if err := rows.Scan(&pattern, &recommendation); err != nil {
			return nil, &coreerrors.StorageError{Op: "ReadPatterns", Cause: err}
		}
		out[pattern] = recommendation
	}
	return out, rows.Err()
}

func (r *SQLRepository) ReadRulesets(ctx context.Context) ([]*domain.RulesetConfig, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, namespace, name, version, is_default, actions FROM rulesets`))
	if err != nil {
		return nil, &coreerrors.StorageError{Op: "ReadRulesets", Cause: err}
	}
	defer rows.Close()

	var rulesets []*domain.RulesetConfig
	for rows.Next() {
		var rs domain.RulesetConfig
		var isDefault int
		var actionsRaw sql.NullString
		if err := rows.Scan(&rs.ID, &rs.Namespace, &rs.Name, &rs.Version, &isDefault, &actionsRaw); err != nil {
			return nil, &coreerrors.StorageError{Op: "ReadRulesets", Cause: err}
		}
		rs.IsDefault = isDefault != 0
		if actionsRaw.Valid && actionsRaw.String != "" {
			_ = json.Unmarshal([]byte(actionsRaw.String), &rs.Actions)
		}
		rulesets = append(rulesets, &rs)
	}
	if err := rows.Err(); err != nil {
		return nil, &coreerrors.StorageError{Op: "ReadRulesets", Cause: err}
	}

	allRules, err := r.ReadRulesSet(ctx)
	if err != nil {
		return nil, err
	}
	rulesByRuleset := map[string][]*domain.RuleConfig{}
	for _, rule := range allRules {
		rulesByRuleset[rule.RulesetID] = append(rulesByRuleset[rule.RulesetID], rule)
	}

	for _, rs := range rulesets {
		rs.Rules = rulesByRuleset[rs.ID]
		patterns, err := r.ReadPatterns(ctx, rs.ID)
		if err != nil {
			return nil, err
		}
		rs.Patterns = patterns
	}

	return rulesets, nil
}

func scanRule(rows *sql.Rows) (*domain.RuleConfig, error) {
	var rule domain.RuleConfig
	var constantRaw, conditionIDsRaw sql.NullString
	var updatedAt int64

	err := rows.Scan(&rule.ID, &rule.Namespace, &rule.RulesetID, &rule.Name, &rule.Priority,
		&rule.RulePoint, &rule.Weight, &rule.ActionTag, &rule.Status, &rule.Version,
		&rule.Attribute, &rule.Operator, &constantRaw, &conditionIDsRaw, &updatedAt)
	if err != nil {
		return nil, err
	}
	rule.UpdatedAt = updatedAt

	if constantRaw.Valid && constantRaw.String != "" {
		if err := json.Unmarshal([]byte(constantRaw.String), &rule.Constant); err != nil {
			return nil, err
		}
	}
	if conditionIDsRaw.Valid && conditionIDsRaw.String != "" {
		if err := json.Unmarshal([]byte(conditionIDsRaw.String), &rule.ConditionIDs); err != nil {
			return nil, err
		}
	}
	return &rule, nil
}

// --- CRUD ---------------------------------------------------------------

func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.RuleConfig) error {
	constantJSON, err := json.Marshal(rule.Constant)
	if err != nil {
		return &coreerrors.StorageError{Op: "SaveRule", Message: "failed to marshal constant", Cause: err}
	}
	conditionIDsJSON, err := json.Marshal(rule.ConditionIDs)
	if err != nil {
		return &coreerrors.StorageError{Op: "SaveRule", Message: "failed to marshal condition ids", Cause: err}
	}
	if rule.UpdatedAt == 0 {
		rule.UpdatedAt = time.Now().UnixNano()
	}

	_, err = r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO rules (id, namespace, ruleset_id, name, priority, rule_point, weight, action_tag,
		                    status, version, attribute, operator, constant, condition_ids, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		    namespace = excluded.namespace, ruleset_id = excluded.ruleset_id, name = excluded.name,
		    priority = excluded.priority, rule_point = excluded.rule_point, weight = excluded.weight,
		    action_tag = excluded.action_tag, status = excluded.status, version = excluded.version,
		    attribute = excluded.attribute, operator = excluded.operator, constant = excluded.constant,
		    condition_ids = excluded.condition_ids, updated_at = excluded.updated_at`),
		rule.ID, rule.Namespace, rule.RulesetID, rule.Name, rule.Priority, rule.RulePoint, rule.Weight,
		rule.ActionTag, rule.Status, rule.Version, rule.Attribute, rule.Operator,
		string(constantJSON), string(conditionIDsJSON), rule.UpdatedAt)
	if err != nil {
		return &coreerrors.StorageError{Op: "SaveRule", Cause: err}
	}
	return nil
}

func (r *SQLRepository) DeleteRule(ctx context.Context, ruleID string) error {
	if _, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM rules WHERE id = ?`), ruleID); err != nil {
		return &coreerrors.StorageError{Op: "DeleteRule", Cause: err}
	}
	return nil
}

func (r *SQLRepository) SaveRuleset(ctx context.Context, rs *domain.RulesetConfig) error {
	actionsJSON, err := json.Marshal(rs.Actions)
	if err != nil {
		return &coreerrors.StorageError{Op: "SaveRuleset", Message: "failed to marshal actions", Cause: err}
	}

	isDefault := 0
	if rs.IsDefault {
		isDefault = 1
	}
	now := time.Now()

	_, err = r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO rulesets (id, namespace, name, version, is_default, actions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		    namespace = excluded.namespace, name = excluded.name, version = excluded.version,
		    is_default = excluded.is_default, actions = excluded.actions, updated_at = excluded.updated_at`),
		rs.ID, rs.Namespace, rs.Name, rs.Version, isDefault, string(actionsJSON), now, now)
	if err != nil {
		return &coreerrors.StorageError{Op: "SaveRuleset", Cause: err}
	}

	for _, rule := range rs.Rules {
		rule.RulesetID = rs.ID
		if err := r.SaveRule(ctx, rule); err != nil {
			return err
		}
	}
	for pattern, recommendation := range rs.Patterns {
		if err := r.SavePattern(ctx, rs.ID, pattern, recommendation); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLRepository) SaveCondition(ctx context.Context, cond *domain.ConditionConfig) error {
	constantJSON, err := json.Marshal(cond.Constant)
	if err != nil {
		return &coreerrors.StorageError{Op: "SaveCondition", Message: "failed to marshal constant", Cause: err}
	}

	_, err = r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO conditions (id, namespace, attribute, operator, constant)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		    namespace = excluded.namespace, attribute = excluded.attribute,
		    operator = excluded.operator, constant = excluded.constant`),
		cond.ID, cond.Namespace, cond.Attribute, cond.Operator, string(constantJSON))
	if err != nil {
		return &coreerrors.StorageError{Op: "SaveCondition", Cause: err}
	}
	return nil
}

func (r *SQLRepository) DeleteCondition(ctx context.Context, conditionID string) error {
	if _, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM conditions WHERE id = ?`), conditionID); err != nil {
		return &coreerrors.StorageError{Op: "DeleteCondition", Cause: err}
	}
	return nil
}

func (r *SQLRepository) SavePattern(ctx context.Context, rulesetID, pattern, recommendation string) error {
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO patterns (ruleset_id, pattern, recommendation)
		VALUES (?, ?, ?)
		ON CONFLICT (ruleset_id, pattern) DO UPDATE SET recommendation = excluded.recommendation`),
		rulesetID, pattern, recommendation)
	if err != nil {
		return &coreerrors.StorageError{Op: "SavePattern", Cause: err}
	}
	return nil
}

// --- Append-only logs and history ---------------------------------------

func (r *SQLRepository) InsertExecutionLog(ctx context.Context, log *domain.ExecutionLog) error {
	inputJSON, err := json.Marshal(log.InputSnapshot)
	if err != nil {
		return &coreerrors.StorageError{Op: "InsertExecutionLog", Message: "failed to marshal input snapshot", Cause: err}
	}

	_, err = r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO execution_logs (execution_id, timestamp, correlation_id, input_snapshot, total_points,
		                             pattern_result, action_recommendation, duration_ms, success,
		                             error_message, ruleset_id, ab_test_id, ab_variant)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		log.ExecutionID, log.Timestamp, log.CorrelationID, string(inputJSON), log.TotalPoints,
		log.PatternResult, log.ActionRecommendation, log.DurationMs, log.Success,
		log.ErrorMessage, log.RulesetID, log.ABTestID, log.ABVariant)
	if err != nil {
		return &coreerrors.StorageError{Op: "InsertExecutionLog", Cause: err}
	}
	return nil
}

func (r *SQLRepository) InsertRuleVersion(ctx context.Context, v *domain.RuleVersion) error {
	snapshotJSON, err := json.Marshal(v.Snapshot)
	if err != nil {
		return &coreerrors.StorageError{Op: "InsertRuleVersion", Message: "failed to marshal snapshot", Cause: err}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &coreerrors.StorageError{Op: "InsertRuleVersion", Cause: err}
	}
	defer tx.Rollback()

	if v.IsCurrent {
		if _, err := tx.ExecContext(ctx, r.rebind(`UPDATE rule_versions SET is_current = 0 WHERE rule_id = ?`), v.RuleID); err != nil {
			return &coreerrors.StorageError{Op: "InsertRuleVersion", Cause: err}
		}
	}

	isCurrent := 0
	if v.IsCurrent {
		isCurrent = 1
	}
	_, err = tx.ExecContext(ctx, r.rebind(`
		INSERT INTO rule_versions (rule_id, version_number, snapshot, is_current, change_reason, author, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		v.RuleID, v.VersionNum, string(snapshotJSON), isCurrent, v.ChangeReason, v.Author, v.CreatedAt)
	if err != nil {
		return &coreerrors.StorageError{Op: "InsertRuleVersion", Cause: err}
	}

	if err := tx.Commit(); err != nil {
		return &coreerrors.StorageError{Op: "InsertRuleVersion", Cause: err}
	}
	return nil
}

func (r *SQLRepository) ListRuleVersions(ctx context.Context, ruleID string) ([]*domain.RuleVersion, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT rule_id, version_number, snapshot, is_current, change_reason, author, created_at
		FROM rule_versions WHERE rule_id = ? ORDER BY version_number`), ruleID)
	if err != nil {
		return nil, &coreerrors.StorageError{Op: "ListRuleVersions", Cause: err}
	}
	defer rows.Close()

	var out []*domain.RuleVersion
	for rows.Next() {
		v, err := scanRuleVersion(rows)
		if err != nil {
			return nil, &coreerrors.StorageError{Op: "ListRuleVersions", Cause: err}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *SQLRepository) GetRuleVersion(ctx context.Context, ruleID string, versionNum int) (*domain.RuleVersion, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT rule_id, version_number, snapshot, is_current, change_reason, author, created_at
		FROM rule_versions WHERE rule_id = ? AND version_number = ?`), ruleID, versionNum)
	v, err := scanRuleVersionRow(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &coreerrors.StorageError{Op: "GetRuleVersion", Cause: err}
	}
	return v, nil
}

func (r *SQLRepository) GetCurrentRuleVersion(ctx context.Context, ruleID string) (*domain.RuleVersion, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT rule_id, version_number, snapshot, is_current, change_reason, author, created_at
		FROM rule_versions WHERE rule_id = ? AND is_current = 1`), ruleID)
	v, err := scanRuleVersionRow(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &coreerrors.StorageError{Op: "GetCurrentRuleVersion", Cause: err}
	}
	return v, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleVersion(rows *sql.Rows) (*domain.RuleVersion, error) { return scanRuleVersionRow(rows) }

func scanRuleVersionRow(row rowScanner) (*domain.RuleVersion, error) {
	var v domain.RuleVersion
	var snapshotRaw string
	var isCurrent int

	if err := row.Scan(&v.RuleID, &v.VersionNum, &snapshotRaw, &isCurrent, &v.ChangeReason, &v.Author, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.IsCurrent = isCurrent != 0
	if err := json.Unmarshal([]byte(snapshotRaw), &v.Snapshot); err != nil {
		return nil, err
	}
	return &v, nil
}

// --- A/B testing persistence ---------------------------------------------

func (r *SQLRepository) InsertABTest(ctx context.Context, t *domain.ABTest) error {
	winning := ""
	if t.WinningVariant != nil {
		winning = string(*t.WinningVariant)
	}
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO rule_ab_tests (test_id, rule_id, variant_a_version, variant_b_version, split_a, split_b,
		                            status, start_time, end_time, min_sample_size, confidence_level, winning_variant)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.TestID, t.RuleID, t.VariantAVersion, t.VariantBVersion, t.SplitA, t.SplitB,
		t.Status, t.StartTime, t.EndTime, t.MinSampleSize, t.ConfidenceLevel, winning)
	if err != nil {
		return &coreerrors.StorageError{Op: "InsertABTest", Cause: err}
	}
	return nil
}

func (r *SQLRepository) UpdateABTest(ctx context.Context, t *domain.ABTest) error {
	winning := ""
	if t.WinningVariant != nil {
		winning = string(*t.WinningVariant)
	}
	_, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE rule_ab_tests SET rule_id = ?, variant_a_version = ?, variant_b_version = ?, split_a = ?,
		    split_b = ?, status = ?, start_time = ?, end_time = ?, min_sample_size = ?,
		    confidence_level = ?, winning_variant = ? WHERE test_id = ?`),
		t.RuleID, t.VariantAVersion, t.VariantBVersion, t.SplitA, t.SplitB, t.Status,
		t.StartTime, t.EndTime, t.MinSampleSize, t.ConfidenceLevel, winning, t.TestID)
	if err != nil {
		return &coreerrors.StorageError{Op: "UpdateABTest", Cause: err}
	}
	return nil
}

func (r *SQLRepository) GetABTest(ctx context.Context, testID string) (*domain.ABTest, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT test_id, rule_id, variant_a_version, variant_b_version, split_a, split_b, status,
		       start_time, end_time, min_sample_size, confidence_level, winning_variant
		FROM rule_ab_tests WHERE test_id = ?`), testID)

	var t domain.ABTest
	var startTime, endTime sql.NullTime
	var winning sql.NullString

	err := row.Scan(&t.TestID, &t.RuleID, &t.VariantAVersion, &t.VariantBVersion, &t.SplitA, &t.SplitB,
		&t.Status, &startTime, &endTime, &t.MinSampleSize, &t.ConfidenceLevel, &winning)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &coreerrors.StorageError{Op: "GetABTest", Cause: err}
	}
	if startTime.Valid {
		t.StartTime = &startTime.Time
	}
	if endTime.Valid {
		t.EndTime = &endTime.Time
	}
	if winning.Valid && winning.String != "" {
		variant := domain.Variant(winning.String)
		t.WinningVariant = &variant
	}
	return &t, nil
}

func (r *SQLRepository) UpsertAssignment(ctx context.Context, a *domain.TestAssignment) (*domain.TestAssignment, error) {
	if existing, err := r.GetAssignment(ctx, a.TestID, a.AssignmentKey); err == nil {
		return existing, nil
	} else if err != domain.ErrNotFound {
		return nil, err
	}

	now := time.Now()
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO test_assignments (test_id, assignment_key, variant, assigned_at, successes, failures)
		VALUES (?, ?, ?, ?, 0, 0)
		ON CONFLICT (test_id, assignment_key) DO NOTHING`),
		a.TestID, a.AssignmentKey, a.Variant, now)
	if err != nil {
		return nil, &coreerrors.StorageError{Op: "UpsertAssignment", Cause: err}
	}

	return r.GetAssignment(ctx, a.TestID, a.AssignmentKey)
}

func (r *SQLRepository) GetAssignment(ctx context.Context, testID, assignmentKey string) (*domain.TestAssignment, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT test_id, assignment_key, variant, assigned_at, successes, failures
		FROM test_assignments WHERE test_id = ? AND assignment_key = ?`), testID, assignmentKey)

	var a domain.TestAssignment
	err := row.Scan(&a.TestID, &a.AssignmentKey, &a.Variant, &a.AssignedAt, &a.Successes, &a.Failures)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &coreerrors.StorageError{Op: "GetAssignment", Cause: err}
	}
	return &a, nil
}

func (r *SQLRepository) IncrementAssignmentCounter(ctx context.Context, testID, assignmentKey string, success bool) error {
	column := "failures"
	if success {
		column = "successes"
	}
	result, err := r.db.ExecContext(ctx,
		r.rebind(fmt.Sprintf(`UPDATE test_assignments SET %s = %s + 1 WHERE test_id = ? AND assignment_key = ?`, column, column)),
		testID, assignmentKey)
	if err != nil {
		return &coreerrors.StorageError{Op: "IncrementAssignmentCounter", Cause: err}
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SQLRepository) ListAssignments(ctx context.Context, testID string) ([]*domain.TestAssignment, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT test_id, assignment_key, variant, assigned_at, successes, failures
		FROM test_assignments WHERE test_id = ?`), testID)
	if err != nil {
		return nil, &coreerrors.StorageError{Op: "ListAssignments", Cause: err}
	}
	defer rows.Close()

	var out []*domain.TestAssignment
	for rows.Next() {
		var a domain.TestAssignment
		if err := rows.Scan(&a.TestID, &a.AssignmentKey, &a.Variant, &a.AssignedAt, &a.Successes, &a.Failures); err != nil {
			return nil, &coreerrors.StorageError{Op: "ListAssignments", Cause: err}
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// FreshnessToken hashes every rule's (id, updated_at) pair so the
// Registry's background monitor can detect out-of-band writes without
// pulling the whole rule set on every poll (spec.md §4.4).
func (r *SQLRepository) FreshnessToken(ctx context.Context) (string, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT id, updated_at FROM rules ORDER BY id`))
	if err != nil {
		return "", &coreerrors.StorageError{Op: "FreshnessToken", Cause: err}
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var id string
		var updatedAt int64
		if err := rows.Scan(&id, &updatedAt); err != nil {
			return "", &coreerrors.StorageError{Op: "FreshnessToken", Cause: err}
		}
		parts = append(parts, fmt.Sprintf("%s:%d", id, updatedAt))
	}
	if err := rows.Err(); err != nil {
		return "", &coreerrors.StorageError{Op: "FreshnessToken", Cause: err}
	}

	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:]), nil
}
