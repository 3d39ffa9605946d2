// Package domain defines the core interfaces and types for rulecore.
package domain

// Operator is the closed vocabulary of comparison operators a Condition
// may use. Values outside this set fail compilation.
type Operator string

const (
	OpEqual              Operator = "equal"
	OpNotEqual           Operator = "not_equal"
	OpGreaterThan        Operator = "greater_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThan           Operator = "less_than"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"
	OpRange              Operator = "range"
	OpContains           Operator = "contains"
	OpRegex              Operator = "regex"
)

// ConditionConfig is a reusable predicate: attribute/operator/constant.
// Immutable once committed to a Ruleset.
type ConditionConfig struct {
	ID        string   `json:"conditionId"`
	Namespace string   `json:"namespace,omitempty"` // defaults to "*"
	Attribute string   `json:"attribute"`
	Operator  Operator `json:"operator"`
	Constant  any      `json:"constant"`
}

// RuleStatus is the lifecycle state of a Rule.
type RuleStatus string

const (
	StatusDraft      RuleStatus = "draft"
	StatusActive     RuleStatus = "active"
	StatusInactive   RuleStatus = "inactive"
	StatusDeprecated RuleStatus = "deprecated"
	StatusArchived   RuleStatus = "archived"
)

// excludedStatuses never take part in Pipeline ordering (spec.md §4.2).
var excludedStatuses = map[RuleStatus]bool{
	StatusInactive:   true,
	StatusDeprecated: true,
	StatusArchived:   true,
}

// Excluded reports whether rules in this status are dropped before
// ordering in a Ruleset evaluation.
func (s RuleStatus) Excluded() bool {
	return excludedStatuses[s]
}

// NoMatchTag is the action-result tag assigned to rules that do not match,
// or that fail to evaluate. Reserved: pattern-table keys must not contain it.
const NoMatchTag = "-"

// RuleConfig is a single business rule: either a simple inline
// attribute/operator/constant triple, or a composite list of Condition
// references combined with an implicit AND.
type RuleConfig struct {
	ID          string     `json:"ruleId"`
	Namespace   string     `json:"namespace,omitempty"`
	RulesetID   string     `json:"rulesetId,omitempty"`
	Name        string     `json:"ruleName"`
	Priority    int        `json:"priority"`
	RulePoint   float64    `json:"rulePoint"`
	Weight      float64    `json:"weight"`
	ActionTag   string     `json:"actionResult"` // single character, e.g. "Y", "N"
	Status      RuleStatus `json:"status"`
	Version     int        `json:"version"`
	UpdatedAt   int64      `json:"updatedAt"` // unix nanos, used for the freshness token

	// Simple rule form.
	Attribute string   `json:"attribute,omitempty"`
	Operator  Operator `json:"operator,omitempty"`
	Constant  any      `json:"constant,omitempty"`

	// Composite rule form: AND of referenced conditions.
	ConditionIDs []string `json:"conditionIds,omitempty"`
}

// IsComposite reports whether the rule references conditions rather than
// carrying an inline triple.
func (r *RuleConfig) IsComposite() bool {
	return len(r.ConditionIDs) > 0
}

// RulesetConfig is a named collection of rules plus a pattern table and the
// set of action-result tags it recognizes.
type RulesetConfig struct {
	ID        string            `json:"rulesetId"`
	Namespace string            `json:"namespace,omitempty"`
	Name      string            `json:"name"`
	Version   int               `json:"version"`
	IsDefault bool              `json:"isDefault"`
	Rules     []*RuleConfig     `json:"rules"`
	Patterns  map[string]string `json:"patterns"` // pattern string -> recommendation
	Actions   []string          `json:"actions,omitempty"`
}
