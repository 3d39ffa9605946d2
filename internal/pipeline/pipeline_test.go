package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/opensource-finance/rulecore/internal/coreerrors"
	"github.com/opensource-finance/rulecore/internal/domain"
	"github.com/opensource-finance/rulecore/internal/evaluator"
)

func buildRuleset() (*domain.RulesetConfig, map[string]*evaluator.CompiledRule, *evaluator.Evaluator) {
	ev, _ := evaluator.New()

	r1 := &domain.RuleConfig{ID: "r1", Name: "high amount", Priority: 1, ActionTag: "H", RulePoint: 50, Weight: 1, Status: domain.StatusActive, Attribute: "amount", Operator: domain.OpGreaterThan, Constant: 1000.0}
	r2 := &domain.RuleConfig{ID: "r2", Name: "foreign country", Priority: 2, ActionTag: "F", RulePoint: 20, Weight: 1, Status: domain.StatusActive, Attribute: "country", Operator: domain.OpNotEqual, Constant: "US"}
	r3 := &domain.RuleConfig{ID: "r3", Name: "deprecated rule", Priority: 0, ActionTag: "D", RulePoint: 999, Weight: 1, Status: domain.StatusDeprecated, Attribute: "amount", Operator: domain.OpGreaterThan, Constant: 0.0}

	ruleset := &domain.RulesetConfig{
		ID:    "rs1",
		Name:  "test ruleset",
		Rules: []*domain.RuleConfig{r2, r1, r3},
		Patterns: map[string]string{
			"HF": "block",
			"--": "allow",
		},
	}

	compiled := map[string]*evaluator.CompiledRule{}
	for _, r := range []*domain.RuleConfig{r1, r2, r3} {
		cr, err := ev.Compile(r, nil)
		if err != nil {
			panic(err)
		}
		compiled[r.ID] = cr
	}

	return ruleset, compiled, ev
}

func TestOrderedRulesExcludesDeprecatedAndSorts(t *testing.T) {
	ruleset, _, _ := buildRuleset()
	ordered := OrderedRules(ruleset)

	if len(ordered) != 2 {
		t.Fatalf("expected 2 active rules, got %d", len(ordered))
	}
	if ordered[0].ID != "r1" || ordered[1].ID != "r2" {
		t.Errorf("expected order [r1, r2], got [%s, %s]", ordered[0].ID, ordered[1].ID)
	}
}

func TestExecuteAggregatesPointsAndPattern(t *testing.T) {
	ruleset, compiled, ev := buildRuleset()
	p := New(ev)

	ctx := domain.ExecutionContext{
		Data:          domain.DataRecord{"amount": 5000.0, "country": "FR"},
		CorrelationID: "corr-1",
	}

	result, err := p.Execute(ruleset, compiled, ctx, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.PatternResult != "HF" {
		t.Errorf("expected pattern HF, got %q", result.PatternResult)
	}
	if result.TotalPoints != 70 {
		t.Errorf("expected total_points 70, got %v", result.TotalPoints)
	}
	if result.ActionRecommendation == nil || *result.ActionRecommendation != "block" {
		t.Errorf("expected action recommendation 'block', got %v", result.ActionRecommendation)
	}
}

func TestExecuteNoMatchPattern(t *testing.T) {
	ruleset, compiled, ev := buildRuleset()
	p := New(ev)

	ctx := domain.ExecutionContext{Data: domain.DataRecord{"amount": 1.0, "country": "US"}}
	result, err := p.Execute(ruleset, compiled, ctx, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.PatternResult != "--" {
		t.Errorf("expected pattern --, got %q", result.PatternResult)
	}
	if result.TotalPoints != 0 {
		t.Errorf("expected 0 points, got %v", result.TotalPoints)
	}
}

func TestExecuteDryRunSplitsResults(t *testing.T) {
	ruleset, compiled, ev := buildRuleset()
	p := New(ev)

	ctx := domain.ExecutionContext{Data: domain.DataRecord{"amount": 5000.0, "country": "US"}}
	result, err := p.Execute(ruleset, compiled, ctx, true)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(result.WouldMatch) != 1 || result.WouldMatch[0].RuleName != "high amount" {
		t.Errorf("expected 1 would_match entry for high amount, got %+v", result.WouldMatch)
	}
	if len(result.WouldNotMatch) != 1 || result.WouldNotMatch[0].RuleName != "foreign country" {
		t.Errorf("expected 1 would_not_match entry for foreign country, got %+v", result.WouldNotMatch)
	}
	if len(result.RuleResults) != 0 {
		t.Error("dry-run must not populate RuleResults")
	}
}

func TestExecuteReturnsCancelledErrorWhenContextAlreadyCancelled(t *testing.T) {
	ruleset, compiled, ev := buildRuleset()
	p := New(ev)

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()

	execCtx := domain.ExecutionContext{
		Data: domain.DataRecord{"amount": 5000.0, "country": "FR"},
		Ctx:  cancelCtx,
	}

	result, err := p.Execute(ruleset, compiled, execCtx, false)
	if result != nil {
		t.Errorf("expected nil result on cancellation, got %+v", result)
	}

	var cancelledErr *coreerrors.CancelledError
	if !errors.As(err, &cancelledErr) {
		t.Fatalf("expected a CancelledError, got %v", err)
	}
}

func TestExecuteIgnoresNilContext(t *testing.T) {
	ruleset, compiled, ev := buildRuleset()
	p := New(ev)

	execCtx := domain.ExecutionContext{Data: domain.DataRecord{"amount": 5000.0, "country": "FR"}}
	if _, err := p.Execute(ruleset, compiled, execCtx, false); err != nil {
		t.Fatalf("Execute with nil Ctx should not fail: %v", err)
	}
}

func TestValidateInputRejectsNil(t *testing.T) {
	if err := ValidateInput(nil); err == nil {
		t.Fatal("expected InputValidationError for nil data record")
	}
}
