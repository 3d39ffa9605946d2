// Package versioning implements Rule version history: every write creates
// a new immutable RuleVersion snapshot, rollback clones an old snapshot
// forward as a new current version, and snapshots can be diffed field by
// field (spec.md §4.6).
package versioning

import (
	"context"
	"fmt"
	"reflect"

	"github.com/opensource-finance/rulecore/internal/coreerrors"
	"github.com/opensource-finance/rulecore/internal/domain"
)

// Manager persists RuleVersion rows through the Repository and applies the
// resulting snapshot to the Registry so reads see the new rule immediately.
type Manager struct {
	repo     domain.Repository
	registry registryWriter
}

// registryWriter is the subset of *registry.Registry versioning needs,
// narrowed to avoid an import cycle (registry does not depend on
// versioning) and to keep this package testable with a fake.
type registryWriter interface {
	AddRule(ctx context.Context, rule *domain.RuleConfig) error
	UpdateRule(ctx context.Context, rule *domain.RuleConfig) error
}

// New builds a Manager.
func New(repo domain.Repository, registry registryWriter) *Manager {
	return &Manager{repo: repo, registry: registry}
}

// Write persists rule as a new version: it loads the current version (if
// any) to compute the next version number, flips is_current on the prior
// row via InsertRuleVersion bookkeeping, and pushes the rule through the
// Registry's incremental compile path.
func (m *Manager) Write(ctx context.Context, rule *domain.RuleConfig, changeReason, author string) (*domain.RuleVersion, error) {
	nextNum := 1
	if current, err := m.repo.GetCurrentRuleVersion(ctx, rule.ID); err == nil && current != nil {
		nextNum = current.VersionNum + 1
	}

	rule.Version = nextNum

	version := &domain.RuleVersion{
		RuleID:       rule.ID,
		VersionNum:   nextNum,
		Snapshot:     *rule,
		IsCurrent:    true,
		ChangeReason: changeReason,
		Author:       author,
	}

	if err := m.repo.InsertRuleVersion(ctx, version); err != nil {
		return nil, &coreerrors.StorageError{Op: "InsertRuleVersion", Message: "failed to record rule version", Cause: err}
	}

	if nextNum == 1 {
		if err := m.registry.AddRule(ctx, rule); err != nil {
			return nil, err
		}
	} else {
		if err := m.registry.UpdateRule(ctx, rule); err != nil {
			return nil, err
		}
	}

	return version, nil
}

// Rollback clones the snapshot at versionNum into a brand-new current
// version (never mutates history in place), and pushes the restored rule
// through the Registry.
func (m *Manager) Rollback(ctx context.Context, ruleID string, versionNum int, author string) (*domain.RuleVersion, error) {
	target, err := m.repo.GetRuleVersion(ctx, ruleID, versionNum)
	if err != nil {
		return nil, &coreerrors.StorageError{Op: "GetRuleVersion", Message: fmt.Sprintf("version %d not found for rule %s", versionNum, ruleID), Cause: err}
	}

	restored := target.Snapshot
	reason := fmt.Sprintf("rollback to version %d", versionNum)
	return m.Write(ctx, &restored, reason, author)
}

// History returns all versions of a rule, oldest first as returned by the
// Repository.
func (m *Manager) History(ctx context.Context, ruleID string) ([]*domain.RuleVersion, error) {
	versions, err := m.repo.ListRuleVersions(ctx, ruleID)
	if err != nil {
		return nil, &coreerrors.StorageError{Op: "ListRuleVersions", Message: "failed to list versions", Cause: err}
	}
	return versions, nil
}

// Compare diffs two RuleVersion snapshots field by field, returning only
// the fields that differ (spec.md §4.6). Comparison is driven by the
// RuleConfig struct's JSON field names via reflection so that adding a
// field to the domain model extends comparison automatically.
func Compare(a, b *domain.RuleVersion) []domain.FieldDiff {
	var diffs []domain.FieldDiff

	av := reflect.ValueOf(a.Snapshot)
	bv := reflect.ValueOf(b.Snapshot)
	t := av.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := jsonFieldName(field)

		aVal := av.Field(i).Interface()
		bVal := bv.Field(i).Interface()

		if !reflect.DeepEqual(aVal, bVal) {
			diffs = append(diffs, domain.FieldDiff{
				Field:    name,
				OldValue: aVal,
				NewValue: bVal,
			})
		}
	}

	return diffs
}

func jsonFieldName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" || tag == "-" {
		return field.Name
	}
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			return tag[:i]
		}
	}
	return tag
}
