package dmn

import (
	"github.com/opensource-finance/rulecore/internal/domain"
	"github.com/opensource-finance/rulecore/internal/evaluator"
)

// DecisionResult is one decision's outcome within a multi-decision run.
type DecisionResult struct {
	DecisionID    string
	MatchedRows   []string // rule IDs of rows that matched, in row order
	ActionTags    string   // concatenated action_result tags, in row order (top-level pattern aggregation)
	TotalPoints   float64
}

// Execute runs every compiled decision in the given order against data,
// enriching data in place with each decision's outputs so that dependent
// decisions later in the order see them as inputs (spec.md §4.3).
func Execute(ev *evaluator.Evaluator, order []string, decisions []*CompiledDecision, data domain.DataRecord) ([]DecisionResult, error) {
	byID := make(map[string]*CompiledDecision, len(decisions))
	for _, cd := range decisions {
		byID[cd.Meta.ID] = cd
	}

	results := make([]DecisionResult, 0, len(order))
	for _, id := range order {
		cd, ok := byID[id]
		if !ok {
			continue
		}
		result, err := executeDecision(ev, cd, data)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func executeDecision(ev *evaluator.Evaluator, cd *CompiledDecision, data domain.DataRecord) (DecisionResult, error) {
	result := DecisionResult{DecisionID: cd.Meta.ID}
	matchedOutputs := map[string][]string{}

	stopOnFirst := cd.Meta.HitPolicy == domain.HitPolicyUnique || cd.Meta.HitPolicy == domain.HitPolicyFirst

	for _, row := range cd.Rows {
		matched := row.AlwaysMatch
		var contribution float64

		if !matched {
			compiled, err := ev.Compile(row.Rule, row.Conditions)
			if err != nil {
				return result, err
			}
			evalResult := ev.Evaluate(compiled, data)
			matched = evalResult.Matched
			contribution = evalResult.Contribution
		} else {
			contribution = row.Rule.RulePoint * row.Rule.Weight
		}

		if matched {
			result.MatchedRows = append(result.MatchedRows, row.Rule.ID)
			result.ActionTags += row.Rule.ActionTag
			result.TotalPoints += contribution

			for label, literal := range row.Outputs {
				matchedOutputs[label] = append(matchedOutputs[label], literal)
			}

			if stopOnFirst {
				break
			}
		}
	}

	for label, values := range matchedOutputs {
		switch cd.Meta.HitPolicy {
		case domain.HitPolicyCollect, domain.HitPolicyAny:
			if len(values) > 1 {
				list := make([]any, len(values))
				for i, v := range values {
					list[i] = v
				}
				data[label] = list
			} else {
				data[label] = values[0]
			}
		default:
			// UNIQUE/FIRST/PRIORITY: first (and, for UNIQUE/FIRST, only) match wins.
			data[label] = values[0]
		}
	}

	return result, nil
}
