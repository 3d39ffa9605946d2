// Package domain defines the core interfaces and types for rulecore.
package domain

import (
	"context"

	"github.com/opensource-finance/rulecore/internal/coreerrors"
)

// Repository is the minimal contract the core consumes from its backing
// store (file, object store, or RDBMS). The concrete implementation is
// selected at startup via Config.Repository.Backend (spec.md §6).
type Repository interface {
	// Bulk reads used to build a Registry generation.
	ReadRulesSet(ctx context.Context) ([]*RuleConfig, error)
	ReadConditionsSet(ctx context.Context) ([]*ConditionConfig, error)
	ReadPatterns(ctx context.Context, rulesetID string) (map[string]string, error)
	ReadRulesets(ctx context.Context) ([]*RulesetConfig, error)

	// CRUD for management operations.
	SaveRule(ctx context.Context, rule *RuleConfig) error
	DeleteRule(ctx context.Context, ruleID string) error
	SaveRuleset(ctx context.Context, rs *RulesetConfig) error
	SaveCondition(ctx context.Context, cond *ConditionConfig) error
	DeleteCondition(ctx context.Context, conditionID string) error
	SavePattern(ctx context.Context, rulesetID, pattern, recommendation string) error

	// Append-only logs and history.
	InsertExecutionLog(ctx context.Context, log *ExecutionLog) error
	InsertRuleVersion(ctx context.Context, v *RuleVersion) error
	ListRuleVersions(ctx context.Context, ruleID string) ([]*RuleVersion, error)
	GetRuleVersion(ctx context.Context, ruleID string, versionNum int) (*RuleVersion, error)
	GetCurrentRuleVersion(ctx context.Context, ruleID string) (*RuleVersion, error)

	// A/B testing persistence.
	InsertABTest(ctx context.Context, t *ABTest) error
	UpdateABTest(ctx context.Context, t *ABTest) error
	GetABTest(ctx context.Context, testID string) (*ABTest, error)
	UpsertAssignment(ctx context.Context, a *TestAssignment) (*TestAssignment, error)
	GetAssignment(ctx context.Context, testID, assignmentKey string) (*TestAssignment, error)
	IncrementAssignmentCounter(ctx context.Context, testID, assignmentKey string, success bool) error
	ListAssignments(ctx context.Context, testID string) ([]*TestAssignment, error)

	// FreshnessToken is a hash of all rule IDs and their UpdatedAt
	// timestamps, used by the Registry's background monitor (spec.md §4.4).
	FreshnessToken(ctx context.Context) (string, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = &coreerrors.StorageError{Op: "lookup", Message: "record not found"}
