// Package dmn parses DMN-shaped decision table XML, schedules decisions by
// their declared dependencies, and compiles each decision's rule rows into
// ordinary RuleConfigs the Evaluator already knows how to run (spec.md
// §4.3).
package dmn

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/opensource-finance/rulecore/internal/coreerrors"
)

// xmlDefinitions is the root <definitions> element of a DMN document.
type xmlDefinitions struct {
	XMLName   xml.Name      `xml:"definitions"`
	Decisions []xmlDecision `xml:"decision"`
}

type xmlDecision struct {
	ID                       string                      `xml:"id,attr"`
	Name                     string                      `xml:"name,attr"`
	InformationRequirement   []xmlInformationRequirement `xml:"informationRequirement"`
	DecisionTable            xmlDecisionTable            `xml:"decisionTable"`
}

type xmlInformationRequirement struct {
	RequiredDecision xmlHrefRef `xml:"requiredDecision"`
}

type xmlHrefRef struct {
	Href string `xml:"href,attr"`
}

type xmlDecisionTable struct {
	HitPolicy string      `xml:"hitPolicy,attr"`
	Inputs    []xmlColumn `xml:"input"`
	Outputs   []xmlColumn `xml:"output"`
	Rules     []xmlRule   `xml:"rule"`
}

type xmlColumn struct {
	Label string `xml:"label,attr"`
}

type xmlRule struct {
	InputEntries  []xmlEntry `xml:"inputEntry"`
	OutputEntries []xmlEntry `xml:"outputEntry"`
}

type xmlEntry struct {
	Text string `xml:"text"`
}

// ParseDocument parses a raw DMN XML document into a list of decisions, in
// document order, each carrying its raw dependency references and table
// rows. It does not compile or schedule anything — see Schedule and
// CompileDocument.
func ParseDocument(raw []byte) ([]*RawDecision, error) {
	var defs xmlDefinitions
	if err := xml.Unmarshal(raw, &defs); err != nil {
		return nil, &coreerrors.DMNParseError{Reason: "malformed XML", Cause: err}
	}
	if len(defs.Decisions) == 0 {
		return nil, &coreerrors.DMNParseError{Reason: "no decision elements found"}
	}

	out := make([]*RawDecision, 0, len(defs.Decisions))
	for _, d := range defs.Decisions {
		if d.ID == "" {
			return nil, &coreerrors.DMNParseError{Reason: "decision element missing id attribute"}
		}

		deps := make([]string, 0, len(d.InformationRequirement))
		for _, req := range d.InformationRequirement {
			href := strings.TrimPrefix(req.RequiredDecision.Href, "#")
			if href == "" {
				continue
			}
			deps = append(deps, href)
		}

		if len(d.DecisionTable.Inputs) == 0 {
			return nil, &coreerrors.DMNParseError{DecisionID: d.ID, Reason: "decisionTable has no input columns"}
		}

		rows := make([]RawRow, 0, len(d.DecisionTable.Rules))
		for i, r := range d.DecisionTable.Rules {
			if len(r.InputEntries) != len(d.DecisionTable.Inputs) {
				return nil, &coreerrors.DMNParseError{
					DecisionID: d.ID,
					Reason:     fmt.Sprintf("rule row %d has %d inputEntry cells, expected %d", i+1, len(r.InputEntries), len(d.DecisionTable.Inputs)),
				}
			}
			row := RawRow{RowIndex: i + 1}
			for _, e := range r.InputEntries {
				row.InputFragments = append(row.InputFragments, strings.TrimSpace(e.Text))
			}
			for _, e := range r.OutputEntries {
				row.OutputLiterals = append(row.OutputLiterals, strings.TrimSpace(e.Text))
			}
			rows = append(rows, row)
		}

		out = append(out, &RawDecision{
			ID:           d.ID,
			Name:         d.Name,
			Dependencies: deps,
			HitPolicy:    normalizeHitPolicy(d.DecisionTable.HitPolicy),
			InputLabels:  columnLabels(d.DecisionTable.Inputs),
			OutputLabels: columnLabels(d.DecisionTable.Outputs),
			Rows:         rows,
		})
	}

	return out, nil
}

func columnLabels(cols []xmlColumn) []string {
	labels := make([]string, len(cols))
	for i, c := range cols {
		labels[i] = c.Label
	}
	return labels
}

func normalizeHitPolicy(raw string) string {
	if raw == "" {
		return "UNIQUE"
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}

// RawDecision is a decision table as parsed from XML, before compilation.
type RawDecision struct {
	ID           string
	Name         string
	Dependencies []string
	HitPolicy    string
	InputLabels  []string
	OutputLabels []string
	Rows         []RawRow
}

// RawRow is one <rule> row: one FEEL fragment per input column, one output
// literal per output column.
type RawRow struct {
	RowIndex       int
	InputFragments []string
	OutputLiterals []string
}
