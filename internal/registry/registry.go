// Package registry implements the hot-reload Rule Registry: an in-memory,
// versioned snapshot of rulesets/rules/conditions backed by a Repository,
// refreshed transactionally either on demand or by a background freshness
// monitor (spec.md §4.4).
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/rulecore/internal/coreerrors"
	"github.com/opensource-finance/rulecore/internal/domain"
	"github.com/opensource-finance/rulecore/internal/evaluator"
)

// snapshot is one immutable generation of compiled state. A Registry never
// mutates a snapshot in place; reload builds a new one and swaps it in.
type snapshot struct {
	generation    int64
	rulesets      map[string]*domain.RulesetConfig
	rules         map[string]*domain.RuleConfig
	conditions    map[string]*domain.ConditionConfig
	compiled      map[string]*evaluator.CompiledRule
	freshness     string
}

// Registry is the hot-reload cache the core consumes for every evaluation.
// Reads (Get*) take the read lock only long enough to copy the snapshot
// pointer; the snapshot itself is never written to after ReloadAll returns.
type Registry struct {
	mu   sync.RWMutex
	cur  *snapshot

	repo  domain.Repository
	eval  *evaluator.Evaluator
	bus   domain.EventBus
	cache domain.Cache
	cfg   domain.RegistryConfig

	monitorCtx    context.Context
	monitorCancel context.CancelFunc
	wg            sync.WaitGroup
	monitoring    atomic.Bool

	reloadMu      sync.RWMutex
	lastReload    time.Time
	lastReloadOK  bool
	lastReloadErr string
}

// New builds a Registry and performs an initial ReloadAll so the Registry
// never serves a zero-value snapshot.
func New(ctx context.Context, cfg domain.RegistryConfig, repo domain.Repository, eval *evaluator.Evaluator, bus domain.EventBus, cache domain.Cache) (*Registry, error) {
	r := &Registry{
		repo:  repo,
		eval:  eval,
		bus:   bus,
		cache: cache,
		cfg:   cfg,
		cur:   &snapshot{rulesets: map[string]*domain.RulesetConfig{}, rules: map[string]*domain.RuleConfig{}, conditions: map[string]*domain.ConditionConfig{}, compiled: map[string]*evaluator.CompiledRule{}},
	}

	if err := r.ReloadAll(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

// ReloadAll reads the full rule set from the Repository, compiles every
// rule, and swaps the snapshot in only if every rule compiles — a reload
// never leaves the Registry serving a half-built generation. A pattern-table
// key containing the no-match tag rejects the reload the same way. On failure the
// previous snapshot keeps serving and TopicReloadFailed is published.
func (r *Registry) ReloadAll(ctx context.Context) error {
	rulesets, err := r.repo.ReadRulesets(ctx)
	if err != nil {
		reloadErr := &coreerrors.StorageError{Op: "ReadRulesets", Message: "reload failed", Cause: err}
		r.recordReload(false, reloadErr.Error())
		r.publishReloadFailed(ctx, err)
		return reloadErr
	}

	conditions, err := r.repo.ReadConditionsSet(ctx)
	if err != nil {
		reloadErr := &coreerrors.StorageError{Op: "ReadConditionsSet", Message: "reload failed", Cause: err}
		r.recordReload(false, reloadErr.Error())
		r.publishReloadFailed(ctx, err)
		return reloadErr
	}

	condByID := make(map[string]*domain.ConditionConfig, len(conditions))
	for _, c := range conditions {
		condByID[c.ID] = c
	}

	rulesByID := make(map[string]*domain.RuleConfig)
	compiled := make(map[string]*evaluator.CompiledRule)
	rulesetByID := make(map[string]*domain.RulesetConfig, len(rulesets))

	for _, rs := range rulesets {
		for pattern := range rs.Patterns {
			if strings.Contains(pattern, domain.NoMatchTag) {
				err := &coreerrors.RuleCompileError{RuleID: rs.ID, Reason: fmt.Sprintf("pattern key %q contains the reserved no-match tag %q", pattern, domain.NoMatchTag)}
				r.recordReload(false, err.Error())
				r.publishReloadFailed(ctx, err)
				return err
			}
		}
		rulesetByID[rs.ID] = rs
		for _, rule := range rs.Rules {
			rulesByID[rule.ID] = rule
			cr, err := r.eval.Compile(rule, condByID)
			if err != nil {
				r.recordReload(false, err.Error())
				r.publishReloadFailed(ctx, err)
				return err
			}
			compiled[rule.ID] = cr
		}
	}

	token, err := r.freshnessToken(ctx)
	if err != nil {
		slog.Warn("registry: failed to read freshness token after reload", "error", err)
	}

	r.mu.Lock()
	nextGen := r.cur.generation + 1
	r.cur = &snapshot{
		generation: nextGen,
		rulesets:   rulesetByID,
		rules:      rulesByID,
		conditions: condByID,
		compiled:   compiled,
		freshness:  token,
	}
	r.mu.Unlock()

	r.recordReload(true, "")

	slog.Info("registry: reload complete",
		"generation", nextGen,
		"rulesets", len(rulesetByID),
		"rules", len(rulesByID),
	)

	if r.bus != nil {
		payload, _ := json.Marshal(map[string]any{"generation": nextGen})
		if err := r.bus.Publish(ctx, domain.TopicRulesReloaded, payload); err != nil {
			slog.Warn("registry: failed to publish reload event", "error", err)
		}
	}

	return nil
}

// recordReload stamps the wall-clock time and outcome of a reload attempt,
// whether it swapped in a new snapshot or rejected one. /registry/status
// reports this alongside IsStale's verdict (spec.md §6).
func (r *Registry) recordReload(ok bool, errMsg string) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()
	r.lastReload = time.Now()
	r.lastReloadOK = ok
	r.lastReloadErr = errMsg
}

// LastReloadTime returns the wall-clock time of the most recent reload
// attempt, successful or not. Zero if ReloadAll has never run.
func (r *Registry) LastReloadTime() time.Time {
	r.reloadMu.RLock()
	defer r.reloadMu.RUnlock()
	return r.lastReload
}

// LastReloadStatus reports "success", "failed", or "never" for the most
// recent reload attempt.
func (r *Registry) LastReloadStatus() string {
	r.reloadMu.RLock()
	defer r.reloadMu.RUnlock()
	if r.lastReload.IsZero() {
		return "never"
	}
	if r.lastReloadOK {
		return "success"
	}
	return "failed"
}

// RuleCount returns the number of rules in the current snapshot.
func (r *Registry) RuleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cur.rules)
}

// MonitoringActive reports whether the background freshness monitor is
// currently running.
func (r *Registry) MonitoringActive() bool {
	return r.monitoring.Load()
}

func (r *Registry) publishReloadFailed(ctx context.Context, cause error) {
	if r.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{"error": cause.Error()})
	if err := r.bus.Publish(ctx, domain.TopicReloadFailed, payload); err != nil {
		slog.Warn("registry: failed to publish reload_failed event", "error", err)
	}
}

// Generation returns the current snapshot's generation number.
func (r *Registry) Generation() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur.generation
}

// GetRuleset returns a ruleset by ID from the current snapshot.
func (r *Registry) GetRuleset(id string) (*domain.RulesetConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.cur.rulesets[id]
	return rs, ok
}

// DefaultRuleset returns the ruleset flagged IsDefault, if any.
func (r *Registry) DefaultRuleset() (*domain.RulesetConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rs := range r.cur.rulesets {
		if rs.IsDefault {
			return rs, true
		}
	}
	return nil, false
}

// AllRulesets returns every ruleset in the current snapshot.
func (r *Registry) AllRulesets() []*domain.RulesetConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.RulesetConfig, 0, len(r.cur.rulesets))
	for _, rs := range r.cur.rulesets {
		out = append(out, rs)
	}
	return out
}

// AllRules returns every rule in the current snapshot, regardless of the
// ruleset it belongs to.
func (r *Registry) AllRules() []*domain.RuleConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.RuleConfig, 0, len(r.cur.rules))
	for _, rule := range r.cur.rules {
		out = append(out, rule)
	}
	return out
}

// GetRule returns a rule by ID from the current snapshot.
func (r *Registry) GetRule(id string) (*domain.RuleConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.cur.rules[id]
	return rule, ok
}

// GetCompiledRule returns the compiled CEL program for a rule ID.
func (r *Registry) GetCompiledRule(id string) (*evaluator.CompiledRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cr, ok := r.cur.compiled[id]
	return cr, ok
}

// CompiledRulesFor returns the compiled rules for a ruleset's Rules slice,
// keyed by rule ID; a rule with no compiled program in the current
// snapshot is left out.
func (r *Registry) CompiledRulesFor(rs *domain.RulesetConfig) map[string]*evaluator.CompiledRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*evaluator.CompiledRule, len(rs.Rules))
	for _, rule := range rs.Rules {
		if cr, ok := r.cur.compiled[rule.ID]; ok {
			out[rule.ID] = cr
		}
	}
	return out
}

// AddRule persists a new rule and recompiles just that rule into the
// current snapshot without a full reload. Validation failure (unknown
// operator, missing condition reference) leaves the snapshot untouched.
func (r *Registry) AddRule(ctx context.Context, rule *domain.RuleConfig) error {
	return r.upsertRule(ctx, rule)
}

// UpdateRule replaces an existing rule's definition in place.
func (r *Registry) UpdateRule(ctx context.Context, rule *domain.RuleConfig) error {
	return r.upsertRule(ctx, rule)
}

func (r *Registry) upsertRule(ctx context.Context, rule *domain.RuleConfig) error {
	r.mu.RLock()
	condByID := r.cur.conditions
	r.mu.RUnlock()

	cr, err := r.eval.Compile(rule, condByID)
	if err != nil {
		return err
	}

	if err := r.repo.SaveRule(ctx, rule); err != nil {
		return &coreerrors.StorageError{Op: "SaveRule", Message: "failed to persist rule", Cause: err}
	}

	r.mu.Lock()
	next := r.cloneLocked()
	next.rules[rule.ID] = rule
	next.compiled[rule.ID] = cr
	if rs, ok := next.rulesets[rule.RulesetID]; ok {
		replaceRuleInRuleset(rs, rule)
	}
	next.generation++
	r.cur = next
	r.mu.Unlock()

	r.notifyRuleChanged(ctx, rule.ID)
	return nil
}

// RemoveRule drops a rule from the current snapshot and the Repository.
func (r *Registry) RemoveRule(ctx context.Context, ruleID string) error {
	if err := r.repo.DeleteRule(ctx, ruleID); err != nil {
		return &coreerrors.StorageError{Op: "DeleteRule", Message: "failed to delete rule", Cause: err}
	}

	r.mu.Lock()
	next := r.cloneLocked()
	rule, existed := next.rules[ruleID]
	delete(next.rules, ruleID)
	delete(next.compiled, ruleID)
	if existed {
		if rs, ok := next.rulesets[rule.RulesetID]; ok {
			removeRuleFromRuleset(rs, ruleID)
		}
	}
	next.generation++
	r.cur = next
	r.mu.Unlock()

	r.notifyRuleChanged(ctx, ruleID)
	return nil
}

func (r *Registry) notifyRuleChanged(ctx context.Context, ruleID string) {
	if r.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{"ruleId": ruleID})
	if err := r.bus.Publish(ctx, domain.TopicRuleChanged, payload); err != nil {
		slog.Warn("registry: failed to publish rule_changed event", "error", err, "rule_id", ruleID)
	}
}

// cloneLocked returns a shallow copy of the current snapshot's maps. Callers
// must hold r.mu for writing.
func (r *Registry) cloneLocked() *snapshot {
	next := &snapshot{
		generation: r.cur.generation,
		freshness:  r.cur.freshness,
		rulesets:   make(map[string]*domain.RulesetConfig, len(r.cur.rulesets)),
		rules:      make(map[string]*domain.RuleConfig, len(r.cur.rules)),
		conditions: r.cur.conditions,
		compiled:   make(map[string]*evaluator.CompiledRule, len(r.cur.compiled)),
	}
	for k, v := range r.cur.rulesets {
		next.rulesets[k] = v
	}
	for k, v := range r.cur.rules {
		next.rules[k] = v
	}
	for k, v := range r.cur.compiled {
		next.compiled[k] = v
	}
	return next
}

func replaceRuleInRuleset(rs *domain.RulesetConfig, rule *domain.RuleConfig) {
	for i, existing := range rs.Rules {
		if existing.ID == rule.ID {
			rs.Rules[i] = rule
			return
		}
	}
	rs.Rules = append(rs.Rules, rule)
}

func removeRuleFromRuleset(rs *domain.RulesetConfig, ruleID string) {
	out := rs.Rules[:0]
	for _, rule := range rs.Rules {
		if rule.ID != ruleID {
			out = append(out, rule)
		}
	}
	rs.Rules = out
}

// StartMonitor launches the background freshness-token watcher: every
// MonitorInterval seconds it compares the Repository's current token
// against the snapshot's and triggers a ReloadAll on mismatch. A zero or
// negative interval disables the monitor (spec.md §4.4).
func (r *Registry) StartMonitor(ctx context.Context) {
	if r.cfg.MonitorInterval <= 0 {
		return
	}

	r.monitorCtx, r.monitorCancel = context.WithCancel(ctx)
	r.monitoring.Store(true)
	r.wg.Add(1)
	go r.monitorLoop()
}

func (r *Registry) monitorLoop() {
	defer r.wg.Done()
	defer r.monitoring.Store(false)

	interval := time.Duration(r.cfg.MonitorInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.monitorCtx.Done():
			return
		case <-ticker.C:
			r.checkFreshness()
		}
	}
}

func (r *Registry) checkFreshness() {
	token, err := r.freshnessToken(r.monitorCtx)
	if err != nil {
		slog.Warn("registry: freshness check failed", "error", err)
		return
	}

	r.mu.RLock()
	stale := token != r.cur.freshness
	r.mu.RUnlock()

	if !stale {
		return
	}

	slog.Info("registry: staleness detected, reloading")
	if err := r.ReloadAll(r.monitorCtx); err != nil {
		slog.Error("registry: background reload failed", "error", err)
	}
}

// freshnessCacheKey is the two-phase cache entry holding the Repository's
// last-observed freshness token, read-through so a busy monitor loop doesn't
// hit the Repository on every tick.
const freshnessCacheKey = "registry:freshness_token"

// freshnessTokenCacheTTL bounds how long a cached token is trusted before
// the next check falls back to the Repository, in line with MonitorInterval.
const freshnessTokenCacheTTL = 5 * time.Second

// freshnessToken returns the Repository's current freshness token, consulting
// the cache first (per cache.TwoPhaseCache's read-through pattern) and
// populating it on a miss. A cache error never fails the caller; it just
// means the next call falls through to the Repository again.
func (r *Registry) freshnessToken(ctx context.Context) (string, error) {
	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, freshnessCacheKey); err == nil && cached != nil {
			return string(cached), nil
		}
	}

	token, err := r.repo.FreshnessToken(ctx)
	if err != nil {
		return "", err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, freshnessCacheKey, []byte(token), freshnessTokenCacheTTL); err != nil {
			slog.Warn("registry: failed to cache freshness token", "error", err)
		}
	}

	return token, nil
}

// IsStale reports whether the snapshot's age, measured against budget, is
// past the staleness budget configured for the Registry. Callers pass the
// wall-clock duration since the snapshot's generation last changed.
func (r *Registry) IsStale(since time.Duration) bool {
	if r.cfg.StalenessBudget <= 0 {
		return false
	}
	return since > time.Duration(r.cfg.StalenessBudget)*time.Second
}

// Stale reports whether the time elapsed since the last reload attempt
// exceeds the configured staleness budget. Unlike IsStale, which takes an
// already-measured duration, Stale measures it itself from LastReloadTime so
// callers (e.g. /registry/status) always compare against the real snapshot
// age rather than a caller-supplied placeholder.
func (r *Registry) Stale() bool {
	last := r.LastReloadTime()
	if last.IsZero() {
		return false
	}
	return r.IsStale(time.Since(last))
}

// Subscribe wires a handler to the Registry's change-event topics through
// the shared EventBus.
func (r *Registry) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if r.bus == nil {
		return nil, fmt.Errorf("registry: no event bus configured")
	}
	return r.bus.Subscribe(ctx, topic, handler)
}

// Stop halts the background monitor and waits for it to exit.
func (r *Registry) Stop() {
	if r.monitorCancel != nil {
		r.monitorCancel()
	}
	r.wg.Wait()
}
