package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/rulecore/internal/coreerrors"
	"github.com/opensource-finance/rulecore/internal/domain"
)

// fileDocument is the on-disk rule-set JSON file format (spec.md §6): a
// flat bag of rulesets, their rules, and the reusable condition catalog.
type fileDocument struct {
	Rulesets   []*domain.RulesetConfig   `json:"rulesets"`
	Conditions []*domain.ConditionConfig `json:"conditions"`
}

// FileRepository implements domain.Repository against a single JSON file
// on disk. Versioning, A/B test, and execution-log state is kept in
// memory only — the file format (spec.md §6) describes rulesets and
// conditions, not an audit trail, so this backend is meant for local
// development and single-process deployments rather than durable history.
type FileRepository struct {
	mu   sync.RWMutex
	path string

	rulesets   map[string]*domain.RulesetConfig
	conditions map[string]*domain.ConditionConfig

	versions    map[string][]*domain.RuleVersion
	abTests     map[string]*domain.ABTest
	assignments map[string]*domain.TestAssignment
	logs        []*domain.ExecutionLog
}

// NewFileRepository loads (or creates) the rule-set file at path.
func NewFileRepository(path string) (*FileRepository, error) {
	if path == "" {
		return nil, &coreerrors.StorageError{Op: "NewFileRepository", Message: "file path is required"}
	}

	repo := &FileRepository{
		path:        path,
		rulesets:    map[string]*domain.RulesetConfig{},
		conditions:  map[string]*domain.ConditionConfig{},
		versions:    map[string][]*domain.RuleVersion{},
		abTests:     map[string]*domain.ABTest{},
		assignments: map[string]*domain.TestAssignment{},
	}

	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (f *FileRepository) load() error {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return f.persistLocked(fileDocument{})
	}
	if err != nil {
		return &coreerrors.StorageError{Op: "load", Cause: err}
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return &coreerrors.StorageError{Op: "load", Message: "malformed rule-set file", Cause: err}
	}

	for _, rs := range doc.Rulesets {
		f.rulesets[rs.ID] = rs
	}
	for _, c := range doc.Conditions {
		f.conditions[c.ID] = c
	}
	return nil
}

// persistLocked serializes the current rulesets/conditions back to disk.
// Callers must hold f.mu.
func (f *FileRepository) persistLocked(_ fileDocument) error {
	doc := fileDocument{}
	for _, rs := range f.rulesets {
		doc.Rulesets = append(doc.Rulesets, rs)
	}
	for _, c := range f.conditions {
		doc.Conditions = append(doc.Conditions, c)
	}
	sort.Slice(doc.Rulesets, func(i, j int) bool { return doc.Rulesets[i].ID < doc.Rulesets[j].ID })
	sort.Slice(doc.Conditions, func(i, j int) bool { return doc.Conditions[i].ID < doc.Conditions[j].ID })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &coreerrors.StorageError{Op: "persist", Cause: err}
	}

	dir := filepath.Dir(f.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &coreerrors.StorageError{Op: "persist", Cause: err}
		}
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return &coreerrors.StorageError{Op: "persist", Cause: err}
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return &coreerrors.StorageError{Op: "persist", Cause: err}
	}
	return nil
}

func (f *FileRepository) Ping(ctx context.Context) error {
	_, err := os.Stat(f.path)
	return err
}

func (f *FileRepository) Close() error { return nil }

func (f *FileRepository) ReadRulesSet(ctx context.Context) ([]*domain.RuleConfig, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []*domain.RuleConfig
	for _, rs := range f.rulesets {
		out = append(out, rs.Rules...)
	}
	return out, nil
}

func (f *FileRepository) ReadConditionsSet(ctx context.Context) ([]*domain.ConditionConfig, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []*domain.ConditionConfig
	for _, c := range f.conditions {
		out = append(out, c)
	}
	return out, nil
}

func (f *FileRepository) ReadPatterns(ctx context.Context, rulesetID string) (map[string]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	rs, ok := f.rulesets[rulesetID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make(map[string]string, len(rs.Patterns))
	for k, v := range rs.Patterns {
		out[k] = v
	}
	return out, nil
}

func (f *FileRepository) ReadRulesets(ctx context.Context) ([]*domain.RulesetConfig, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []*domain.RulesetConfig
	for _, rs := range f.rulesets {
		out = append(out, rs)
	}
	return out, nil
}

func (f *FileRepository) SaveRule(ctx context.Context, rule *domain.RuleConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rs, ok := f.rulesets[rule.RulesetID]
	if !ok {
		return &coreerrors.StorageError{Op: "SaveRule", Message: fmt.Sprintf("ruleset %s does not exist", rule.RulesetID)}
	}
	if rule.UpdatedAt == 0 {
		rule.UpdatedAt = time.Now().UnixNano()
	}

	found := false
	for i, existing := range rs.Rules {
		if existing.ID == rule.ID {
			rs.Rules[i] = rule
			found = true
			break
		}
	}
	if !found {
		rs.Rules = append(rs.Rules, rule)
	}

	return f.persistLocked(fileDocument{})
}

func (f *FileRepository) DeleteRule(ctx context.Context, ruleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, rs := range f.rulesets {
		for i, rule := range rs.Rules {
			if rule.ID == ruleID {
				rs.Rules = append(rs.Rules[:i], rs.Rules[i+1:]...)
				return f.persistLocked(fileDocument{})
			}
		}
	}
	return domain.ErrNotFound
}

func (f *FileRepository) SaveRuleset(ctx context.Context, rs *domain.RulesetConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rulesets[rs.ID] = rs
	return f.persistLocked(fileDocument{})
}

func (f *FileRepository) SaveCondition(ctx context.Context, cond *domain.ConditionConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.conditions[cond.ID] = cond
	return f.persistLocked(fileDocument{})
}

func (f *FileRepository) DeleteCondition(ctx context.Context, conditionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.conditions[conditionID]; !ok {
		return domain.ErrNotFound
	}
	delete(f.conditions, conditionID)
	return f.persistLocked(fileDocument{})
}

func (f *FileRepository) SavePattern(ctx context.Context, rulesetID, pattern, recommendation string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rs, ok := f.rulesets[rulesetID]
	if !ok {
		return domain.ErrNotFound
	}
	if rs.Patterns == nil {
		rs.Patterns = map[string]string{}
	}
	rs.Patterns[pattern] = recommendation
	return f.persistLocked(fileDocument{})
}

func (f *FileRepository) InsertExecutionLog(ctx context.Context, log *domain.ExecutionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
	return nil
}

func (f *FileRepository) InsertRuleVersion(ctx context.Context, v *domain.RuleVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if v.IsCurrent {
		for _, existing := range f.versions[v.RuleID] {
			existing.IsCurrent = false
		}
	}
	f.versions[v.RuleID] = append(f.versions[v.RuleID], v)
	return nil
}

func (f *FileRepository) ListRuleVersions(ctx context.Context, ruleID string) ([]*domain.RuleVersion, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	versions := f.versions[ruleID]
	out := make([]*domain.RuleVersion, len(versions))
	copy(out, versions)
	return out, nil
}

func (f *FileRepository) GetRuleVersion(ctx context.Context, ruleID string, versionNum int) (*domain.RuleVersion, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, v := range f.versions[ruleID] {
		if v.VersionNum == versionNum {
			return v, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *FileRepository) GetCurrentRuleVersion(ctx context.Context, ruleID string) (*domain.RuleVersion, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, v := range f.versions[ruleID] {
		if v.IsCurrent {
			return v, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *FileRepository) InsertABTest(ctx context.Context, t *domain.ABTest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abTests[t.TestID] = t
	return nil
}

func (f *FileRepository) UpdateABTest(ctx context.Context, t *domain.ABTest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.abTests[t.TestID]; !ok {
		return domain.ErrNotFound
	}
	f.abTests[t.TestID] = t
	return nil
}

func (f *FileRepository) GetABTest(ctx context.Context, testID string) (*domain.ABTest, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.abTests[testID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func assignmentKey(testID, assignmentKey string) string { return testID + "::" + assignmentKey }

func (f *FileRepository) UpsertAssignment(ctx context.Context, a *domain.TestAssignment) (*domain.TestAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := assignmentKey(a.TestID, a.AssignmentKey)
	if existing, ok := f.assignments[k]; ok {
		return existing, nil
	}

	cp := *a
	cp.AssignedAt = time.Now()
	f.assignments[k] = &cp
	return &cp, nil
}

func (f *FileRepository) GetAssignment(ctx context.Context, testID, assignmentKey_ string) (*domain.TestAssignment, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.assignments[assignmentKey(testID, assignmentKey_)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

func (f *FileRepository) IncrementAssignmentCounter(ctx context.Context, testID, assignmentKey_ string, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[assignmentKey(testID, assignmentKey_)]
	if !ok {
		return domain.ErrNotFound
	}
	if success {
		a.Successes++
	} else {
		a.Failures++
	}
	return nil
}

func (f *FileRepository) ListAssignments(ctx context.Context, testID string) ([]*domain.TestAssignment, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	prefix := testID + "::"
	out := make([]*domain.TestAssignment, 0)
	for k, a := range f.assignments {
		if strings.HasPrefix(k, prefix) {
			out = append(out, a)
		}
	}
	return out, nil
}

// FreshnessToken hashes every rule's (id, updated_at) pair, matching the
// SQL backend's definition exactly so the Registry's monitor behaves the
// same way regardless of the configured storage backend.
func (f *FileRepository) FreshnessToken(ctx context.Context) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var parts []string
	for _, rs := range f.rulesets {
		for _, rule := range rs.Rules {
			parts = append(parts, fmt.Sprintf("%s:%d", rule.ID, rule.UpdatedAt))
		}
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:]), nil
}
