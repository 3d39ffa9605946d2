package domain

import (
	"context"
	"time"
)

// Value is the tagged-union-valued content of a data record field: a
// scalar, a list, or a nested mapping. Missing keys resolve to Absent,
// which makes any comparison against them false (spec.md §9).
type Value = any

// Absent is the sentinel returned for a field that does not exist on a
// DataRecord. It never equals anything, including itself under equal/
// not_equal coercion rules, so a missing attribute always yields no-match.
var Absent = struct{ absent bool }{absent: true}

// DataRecord is a flat mapping from field name to scalar/list/nested value.
type DataRecord map[string]Value

// Get returns the field value, or Absent if the field is not present.
func (d DataRecord) Get(attribute string) Value {
	if d == nil {
		return Absent
	}
	v, ok := d[attribute]
	if !ok {
		return Absent
	}
	return v
}

// IsAbsent reports whether a value is the Absent sentinel.
func IsAbsent(v Value) bool {
	_, ok := v.(struct{ absent bool })
	return ok
}

// ExecutionContext carries a data record, a correlation ID for the request,
// an optional A/B variant assignment already resolved for this request, and
// the caller's cancellation signal. Ctx may be nil for call sites that have
// no cancellation to propagate (e.g. tests); Pipeline.Execute treats a nil
// Ctx as never cancelled.
type ExecutionContext struct {
	Data          DataRecord
	CorrelationID string
	ABTestID      string
	ABVariant     string
	Ctx           context.Context
}

// RuleEvalResult is the output of evaluating a single CompiledRule.
type RuleEvalResult struct {
	RuleID      string  `json:"ruleId"`
	Matched     bool    `json:"matched"`
	ActionTag   string  `json:"actionResult"`
	RulePoint   float64 `json:"rulePoint"`
	Weight      float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Duration    time.Duration `json:"-"`
	DurationMs  int64   `json:"durationMs"`
	Warning     string  `json:"warning,omitempty"`
}

// DryRunRuleResult is one row of a dry-run report (spec.md §4.2).
type DryRunRuleResult struct {
	RuleName        string  `json:"ruleName"`
	Priority        int     `json:"priority"`
	ConditionString string  `json:"conditionString"`
	Matched         bool    `json:"matched"`
	ActionResult    string  `json:"actionResult"`
	RulePoint       float64 `json:"rulePoint"`
	Weight          float64 `json:"weight"`
	DurationMs      int64   `json:"durationMs"`
}

// ExecutionResult is the response of a single (non-batch) evaluation.
type ExecutionResult struct {
	TotalPoints          float64            `json:"totalPoints"`
	PatternResult        string             `json:"patternResult"`
	ActionRecommendation *string            `json:"actionRecommendation"`
	RuleResults          []RuleEvalResult   `json:"ruleResults,omitempty"`
	WouldMatch           []DryRunRuleResult `json:"wouldMatch,omitempty"`
	WouldNotMatch        []DryRunRuleResult `json:"wouldNotMatch,omitempty"`
	CorrelationID        string             `json:"correlationId"`
	RulesetID            string             `json:"rulesetId,omitempty"`
	DurationMs           int64              `json:"durationMs"`
	DryRun               bool               `json:"dryRun"`
}

// ExecutionLog is an append-only record of one non-dry-run evaluation.
type ExecutionLog struct {
	ExecutionID          string     `json:"executionId"`
	Timestamp            time.Time  `json:"timestamp"`
	CorrelationID        string     `json:"correlationId"`
	InputSnapshot        DataRecord `json:"inputSnapshot"`
	TotalPoints          float64    `json:"totalPoints"`
	PatternResult        string     `json:"patternResult"`
	ActionRecommendation *string    `json:"actionRecommendation"`
	DurationMs           int64      `json:"durationMs"`
	Success              bool       `json:"success"`
	ErrorMessage         string     `json:"errorMessage,omitempty"`
	RulesetID            string     `json:"rulesetId,omitempty"`
	ABTestID             string     `json:"abTestId,omitempty"`
	ABVariant            string     `json:"abVariant,omitempty"`
}
