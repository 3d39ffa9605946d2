package dmn

import (
	"strings"
	"testing"

	"github.com/opensource-finance/rulecore/internal/domain"
	"github.com/opensource-finance/rulecore/internal/evaluator"
)

const singleDecisionXML = `<?xml version="1.0"?>
<definitions>
  <decision id="risk" name="risk tier">
    <decisionTable hitPolicy="FIRST">
      <input label="amount"/>
      <output label="tier"/>
      <rule>
        <inputEntry><text>&gt; 1000</text></inputEntry>
        <outputEntry><text>high</text></outputEntry>
      </rule>
      <rule>
        <inputEntry><text>-</text></inputEntry>
        <outputEntry><text>low</text></outputEntry>
      </rule>
    </decisionTable>
  </decision>
</definitions>`

const dependentDecisionXML = `<?xml version="1.0"?>
<definitions>
  <decision id="tier" name="tier">
    <decisionTable hitPolicy="UNIQUE">
      <input label="amount"/>
      <output label="risk_tier"/>
      <rule>
        <inputEntry><text>&gt; 1000</text></inputEntry>
        <outputEntry><text>high</text></outputEntry>
      </rule>
      <rule>
        <inputEntry><text>-</text></inputEntry>
        <outputEntry><text>low</text></outputEntry>
      </rule>
    </decisionTable>
  </decision>
  <decision id="action" name="action">
    <informationRequirement><requiredDecision href="#tier"/></informationRequirement>
    <decisionTable hitPolicy="UNIQUE">
      <input label="risk_tier"/>
      <output label="action_result"/>
      <rule>
        <inputEntry><text>"high"</text></inputEntry>
        <outputEntry><text>block</text></outputEntry>
      </rule>
      <rule>
        <inputEntry><text>-</text></inputEntry>
        <outputEntry><text>allow</text></outputEntry>
      </rule>
    </decisionTable>
  </decision>
</definitions>`

const cyclicDecisionXML = `<?xml version="1.0"?>
<definitions>
  <decision id="a" name="a">
    <informationRequirement><requiredDecision href="#b"/></informationRequirement>
    <decisionTable hitPolicy="UNIQUE">
      <input label="x"/>
      <output label="y"/>
      <rule><inputEntry><text>-</text></inputEntry><outputEntry><text>1</text></outputEntry></rule>
    </decisionTable>
  </decision>
  <decision id="b" name="b">
    <informationRequirement><requiredDecision href="#a"/></informationRequirement>
    <decisionTable hitPolicy="UNIQUE">
      <input label="y"/>
      <output label="x"/>
      <rule><inputEntry><text>-</text></inputEntry><outputEntry><text>1</text></outputEntry></rule>
    </decisionTable>
  </decision>
</definitions>`

func TestCompileAndExecuteSingleDecision(t *testing.T) {
	doc, compiled, err := CompileDocument([]byte(singleDecisionXML))
	if err != nil {
		t.Fatalf("CompileDocument: %v", err)
	}
	if len(doc.Decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(doc.Decisions))
	}

	ev, _ := evaluator.New()
	data := domain.DataRecord{"amount": 5000.0}
	results, err := Execute(ev, doc.Order, compiled, data)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if data["tier"] != "high" {
		t.Errorf("expected tier=high, got %v", data["tier"])
	}
}

func TestWildcardRowAlwaysMatches(t *testing.T) {
	doc, compiled, err := CompileDocument([]byte(singleDecisionXML))
	if err != nil {
		t.Fatalf("CompileDocument: %v", err)
	}
	ev, _ := evaluator.New()
	data := domain.DataRecord{"amount": 10.0}
	_, err = Execute(ev, doc.Order, compiled, data)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if data["tier"] != "low" {
		t.Errorf("expected wildcard fallback tier=low, got %v", data["tier"])
	}
}

func TestDependentDecisionsFeedForward(t *testing.T) {
	doc, compiled, err := CompileDocument([]byte(dependentDecisionXML))
	if err != nil {
		t.Fatalf("CompileDocument: %v", err)
	}
	if doc.Order[0] != "tier" || doc.Order[1] != "action" {
		t.Fatalf("expected order [tier, action], got %v", doc.Order)
	}

	ev, _ := evaluator.New()
	data := domain.DataRecord{"amount": 5000.0}
	_, err = Execute(ev, doc.Order, compiled, data)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if data["action_result"] != "block" {
		t.Errorf("expected action_result=block, got %v", data["action_result"])
	}
}

func TestCycleFallsBackToDeclaredOrder(t *testing.T) {
	doc, _, err := CompileDocument([]byte(cyclicDecisionXML))
	if err != nil {
		t.Fatalf("CompileDocument: %v", err)
	}
	if doc.CycleWarning == "" {
		t.Fatal("expected a cycle warning")
	}
	if !strings.Contains(doc.CycleWarning, "cycle") {
		t.Errorf("expected warning to mention cycle, got %q", doc.CycleWarning)
	}
	if len(doc.Order) != 2 {
		t.Fatalf("expected fallback order to still contain both decisions, got %v", doc.Order)
	}
}

func TestCompileFragmentVariants(t *testing.T) {
	tests := []struct {
		frag string
		op   domain.Operator
	}{
		{`"literal"`, domain.OpEqual},
		{"> 5", domain.OpGreaterThan},
		{">= 5", domain.OpGreaterThanOrEqual},
		{"< 5", domain.OpLessThan},
		{"<= 5", domain.OpLessThanOrEqual},
		{"[0..100]", domain.OpRange},
		{"[US, CA, MX]", domain.OpIn},
	}
	for _, tt := range tests {
		t.Run(tt.frag, func(t *testing.T) {
			cell, err := compileFragment(tt.frag)
			if err != nil {
				t.Fatalf("compileFragment(%q): %v", tt.frag, err)
			}
			if cell.Operator != tt.op {
				t.Errorf("expected operator %s, got %s", tt.op, cell.Operator)
			}
		})
	}
}

func TestCompileFragmentWildcard(t *testing.T) {
	cell, err := compileFragment("-")
	if err != nil {
		t.Fatalf("compileFragment: %v", err)
	}
	if !cell.IsWildcard {
		t.Error("expected wildcard fragment")
	}
}
