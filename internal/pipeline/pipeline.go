// Package pipeline implements the Ruleset Pipeline (spec.md §4.2): given a
// ruleset and a data record, it orders rules deterministically, runs each
// through the Evaluator, aggregates points, and resolves the resulting
// pattern string against the ruleset's pattern table.
package pipeline

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/rulecore/internal/coreerrors"
	"github.com/opensource-finance/rulecore/internal/domain"
	"github.com/opensource-finance/rulecore/internal/evaluator"
)

// cancelled reports whether ctx has been cancelled. A nil ctx (no
// cancellation signal supplied by the caller) is never cancelled.
func cancelled(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Pipeline runs a ruleset's ordered rules against a data record.
type Pipeline struct {
	eval *evaluator.Evaluator
}

// New builds a Pipeline around a shared Evaluator.
func New(eval *evaluator.Evaluator) *Pipeline {
	return &Pipeline{eval: eval}
}

// OrderedRules returns a ruleset's rules in evaluation order: inactive,
// deprecated, and archived rules are excluded first; the remainder is
// sorted by priority ascending, then by rule ID for a stable tiebreak
// (spec.md §4.2).
func OrderedRules(ruleset *domain.RulesetConfig) []*domain.RuleConfig {
	active := make([]*domain.RuleConfig, 0, len(ruleset.Rules))
	for _, r := range ruleset.Rules {
		if r.Status.Excluded() {
			continue
		}
		active = append(active, r)
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority < active[j].Priority
		}
		return active[i].ID < active[j].ID
	})
	return active
}

// Execute runs every ordered, active rule in the ruleset against data and
// returns the aggregate execution result. compiled maps rule ID to its
// pre-compiled CompiledRule (built by the Registry at load time). If
// execCtx.Ctx is cancelled before the run starts or while rules are still
// being evaluated, Execute stops and returns a CancelledError rather than a
// partial result (spec.md §7).
func (p *Pipeline) Execute(ruleset *domain.RulesetConfig, compiled map[string]*evaluator.CompiledRule, execCtx domain.ExecutionContext, dryRun bool) (*domain.ExecutionResult, error) {
	if cancelled(execCtx.Ctx) {
		return nil, &coreerrors.CancelledError{Op: "Pipeline.Execute"}
	}

	start := time.Now()
	ordered := OrderedRules(ruleset)

	result := &domain.ExecutionResult{
		CorrelationID: execCtx.CorrelationID,
		RulesetID:     ruleset.ID,
		DryRun:        dryRun,
	}

	var tags strings.Builder
	tags.Grow(len(ordered))

	for _, rule := range ordered {
		if cancelled(execCtx.Ctx) {
			return nil, &coreerrors.CancelledError{Op: "Pipeline.Execute"}
		}

		cr, ok := compiled[rule.ID]
		if !ok {
			// Rule present in the ruleset but not (yet) compiled into this
			// generation: treat as no-match rather than failing the whole
			// pipeline run.
			tags.WriteString(domain.NoMatchTag)
			if dryRun {
				result.WouldNotMatch = append(result.WouldNotMatch, domain.DryRunRuleResult{
					RuleName:  rule.Name,
					Priority:  rule.Priority,
					Matched:   false,
					ActionResult: domain.NoMatchTag,
				})
			}
			continue
		}

		evalResult := p.eval.Evaluate(cr, execCtx.Data)
		tags.WriteString(evalResult.ActionTag)

		if evalResult.Matched {
			result.TotalPoints += evalResult.Contribution
		}

		if dryRun {
			dr := domain.DryRunRuleResult{
				RuleName:     rule.Name,
				Priority:     rule.Priority,
				Matched:      evalResult.Matched,
				ActionResult: evalResult.ActionTag,
				RulePoint:    evalResult.RulePoint,
				Weight:       evalResult.Weight,
				DurationMs:   evalResult.DurationMs,
			}
			if evalResult.Matched {
				result.WouldMatch = append(result.WouldMatch, dr)
			} else {
				result.WouldNotMatch = append(result.WouldNotMatch, dr)
			}
		} else {
			result.RuleResults = append(result.RuleResults, evalResult)
		}
	}

	result.PatternResult = tags.String()
	if rec, ok := ruleset.Patterns[result.PatternResult]; ok {
		result.ActionRecommendation = &rec
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// ValidateInput rejects a nil data record up front (spec.md §7,
// InputValidationError), matching the behavior expected of every public
// entry point into the pipeline.
func ValidateInput(data domain.DataRecord) error {
	if data == nil {
		return &coreerrors.InputValidationError{Message: "data record is required"}
	}
	return nil
}
