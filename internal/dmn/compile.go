package dmn

import (
	"fmt"

	"github.com/opensource-finance/rulecore/internal/coreerrors"
	"github.com/opensource-finance/rulecore/internal/domain"
)

// CompiledRow is one decision-table row compiled into a (possibly
// composite) rule plus the outputs it assigns when matched. AlwaysMatch is
// set for a row whose every input column is the "-" wildcard (spec.md §8,
// invariant 13).
type CompiledRow struct {
	Rule        *domain.RuleConfig
	Conditions  map[string]*domain.ConditionConfig
	Outputs     map[string]string // output label -> literal
	AlwaysMatch bool
}

// CompiledDecision is one DMN decision ready to run: its metadata plus its
// compiled rows in document row order.
type CompiledDecision struct {
	Meta *domain.DecisionMetadata
	Rows []*CompiledRow
}

// CompileDocument parses and compiles a full DMN XML document: every
// decision's rows, in dependency-scheduled order.
func CompileDocument(raw []byte) (*domain.DMNDocument, []*CompiledDecision, error) {
	rawDecisions, err := ParseDocument(raw)
	if err != nil {
		return nil, nil, err
	}

	compiled := make([]*CompiledDecision, 0, len(rawDecisions))
	byID := make(map[string]*CompiledDecision, len(rawDecisions))
	for _, rd := range rawDecisions {
		cd, err := compileDecision(rd)
		if err != nil {
			return nil, nil, err
		}
		compiled = append(compiled, cd)
		byID[cd.Meta.ID] = cd
	}

	order, cycleWarning, warnings := Schedule(rawDecisions)

	doc := &domain.DMNDocument{
		Order:        order,
		CycleWarning: cycleWarning,
	}
	for _, id := range order {
		if cd, ok := byID[id]; ok {
			doc.Decisions = append(doc.Decisions, cd.Meta)
		}
	}
	for _, w := range warnings {
		if doc.CycleWarning == "" {
			doc.CycleWarning = w
		} else {
			doc.CycleWarning += "; " + w
		}
	}

	return doc, compiled, nil
}

func compileDecision(raw *RawDecision) (*CompiledDecision, error) {
	hitPolicy := domain.HitPolicy(raw.HitPolicy)
	switch hitPolicy {
	case domain.HitPolicyUnique, domain.HitPolicyFirst, domain.HitPolicyCollect, domain.HitPolicyAny, domain.HitPolicyPriority:
	default:
		return nil, &coreerrors.DMNParseError{DecisionID: raw.ID, Reason: fmt.Sprintf("unknown hit policy %q", raw.HitPolicy)}
	}

	meta := &domain.DecisionMetadata{
		ID:           raw.ID,
		Name:         raw.Name,
		Dependencies: raw.Dependencies,
		HitPolicy:    hitPolicy,
	}
	for _, l := range raw.InputLabels {
		meta.Inputs = append(meta.Inputs, domain.DecisionColumn{Label: l})
	}
	for _, l := range raw.OutputLabels {
		meta.Outputs = append(meta.Outputs, domain.DecisionColumn{Label: l})
	}

	rows := make([]*CompiledRow, 0, len(raw.Rows))
	for _, row := range raw.Rows {
		conditions := map[string]*domain.ConditionConfig{}
		var conditionIDs []string

		for colIdx, fragText := range row.InputFragments {
			if colIdx >= len(raw.InputLabels) {
				break
			}
			cell, err := compileFragment(fragText)
			if err != nil {
				return nil, &coreerrors.DMNParseError{DecisionID: raw.ID, Reason: fmt.Sprintf("row %d: %v", row.RowIndex, err)}
			}
			if cell.IsWildcard {
				continue
			}
			condID := fmt.Sprintf("%s#row%d#col%d", raw.ID, row.RowIndex, colIdx)
			conditions[condID] = &domain.ConditionConfig{
				ID:        condID,
				Attribute: raw.InputLabels[colIdx],
				Operator:  cell.Operator,
				Constant:  cell.Constant,
			}
			conditionIDs = append(conditionIDs, condID)
		}

		outputs := map[string]string{}
		for outIdx, lit := range row.OutputLiterals {
			if outIdx < len(raw.OutputLabels) {
				outputs[raw.OutputLabels[outIdx]] = lit
			}
		}

		actionTag := domain.NoMatchTag
		if len(row.OutputLiterals) > 0 {
			actionTag = row.OutputLiterals[0]
		}

		rule := &domain.RuleConfig{
			ID:           fmt.Sprintf("%s#row%d", raw.ID, row.RowIndex),
			Name:         fmt.Sprintf("%s row %d", raw.Name, row.RowIndex),
			Priority:     row.RowIndex,
			RulePoint:    10.0,
			Weight:       1.0,
			ActionTag:    actionTag,
			Status:       domain.StatusActive,
			ConditionIDs: conditionIDs,
		}

		meta.Rules = append(meta.Rules, rule)
		rows = append(rows, &CompiledRow{
			Rule:        rule,
			Conditions:  conditions,
			Outputs:     outputs,
			AlwaysMatch: len(conditionIDs) == 0,
		})
	}

	return &CompiledDecision{Meta: meta, Rows: rows}, nil
}
