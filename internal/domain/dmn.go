package domain

// HitPolicy is the DMN decision-table hit policy (spec.md §4.3).
type HitPolicy string

const (
	HitPolicyUnique   HitPolicy = "UNIQUE"
	HitPolicyFirst    HitPolicy = "FIRST"
	HitPolicyCollect  HitPolicy = "COLLECT"
	HitPolicyAny      HitPolicy = "ANY"
	HitPolicyPriority HitPolicy = "PRIORITY"
)

// DecisionInput/DecisionOutput are ordered, labeled columns of a DMN
// decision table. A label doubles as both the attribute name the column's
// rules are compiled against (for inputs) and the data-dictionary key used
// to enrich downstream decisions (for outputs).
type DecisionColumn struct {
	Label string `json:"label"`
}

// DecisionMetadata describes one DMN <decision> element after parsing.
type DecisionMetadata struct {
	ID           string           `json:"decisionId"`
	Name         string           `json:"decisionName"`
	Dependencies []string         `json:"dependencies"`
	Inputs       []DecisionColumn `json:"inputs"`
	Outputs      []DecisionColumn `json:"outputs"`
	HitPolicy    HitPolicy        `json:"hitPolicy"`
	Rules        []*RuleConfig    `json:"rules"`
}

// DMNDocument is a compiled, dependency-ordered DMN model ready to execute.
type DMNDocument struct {
	Decisions []*DecisionMetadata
	// Order is the execution order of Decisions[i].ID, computed by the
	// topological scheduler (or, on a cycle, the XML-declared order).
	Order []string
	// CycleWarning is set when the dependency graph contained a cycle and
	// the scheduler fell back to declared order (spec.md §4.3 step 4).
	CycleWarning string
}
