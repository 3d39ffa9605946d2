// Package evaluator compiles a single Rule into a predicate over a data
// record and runs it (spec.md §4.1). It keeps the teacher engine's
// approach of compiling once to a CEL program and evaluating many times
// from multiple goroutines without synchronization, but replaces the
// teacher's free-form transaction expressions with a closed, enumerable
// operator vocabulary assembled into a CEL expression at compile time.
package evaluator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/rulecore/internal/coreerrors"
	"github.com/opensource-finance/rulecore/internal/domain"
)

// Evaluator holds the shared CEL environment used to compile rules. One
// Evaluator can compile and run any number of rules concurrently.
type Evaluator struct {
	env *cel.Env
}

// CompiledRule is the result of Compile: a ready-to-run CEL program plus
// the original fields needed for scoring. Safe for concurrent Eval calls.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// New builds the shared CEL environment: a single "data" variable holding
// the execution's data record, plus a "num" function that coerces a
// dynamic value to a double (unambiguous numeric string coercion).
func New() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
		cel.Function("num",
			cel.Overload("num_dyn", []*cel.Type{cel.DynType}, cel.DoubleType,
				cel.UnaryBinding(coerceDouble)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("evaluator: building CEL environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// coerceDouble implements the "num" CEL function: ints/doubles pass
// through, numeric strings parse, everything else becomes NaN, so equal
// and the ordering/range comparisons built from it evaluate false while
// not_equal evaluates true (spec.md §4.1).
func coerceDouble(val ref.Val) ref.Val {
	switch v := val.(type) {
	case types.Double:
		return v
	case types.Int:
		return types.Double(float64(v))
	case types.Uint:
		return types.Double(float64(v))
	case types.String:
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return types.Double(math.NaN())
		}
		return types.Double(f)
	default:
		return types.Double(math.NaN())
	}
}

// Compile turns a Rule into a CompiledRule. A simple rule compiles its own
// attribute/operator/constant triple; a composite rule resolves each of
// its ConditionIDs against the supplied conditions map and ANDs them
// together. Fails with RuleCompileError on an unknown operator, malformed
// constant, or a reference to a missing condition.
func (e *Evaluator) Compile(rule *domain.RuleConfig, conditions map[string]*domain.ConditionConfig) (*CompiledRule, error) {
	var fragments []string

	if rule.IsComposite() {
		for _, condID := range rule.ConditionIDs {
			cond, ok := conditions[condID]
			if !ok {
				return nil, &coreerrors.RuleCompileError{
					RuleID: rule.ID,
					Reason: fmt.Sprintf("references missing condition %q", condID),
				}
			}
			frag, err := conditionExpr(cond.Attribute, cond.Operator, cond.Constant)
			if err != nil {
				return nil, &coreerrors.RuleCompileError{RuleID: rule.ID, Reason: "condition " + condID, Cause: err}
			}
			fragments = append(fragments, frag)
		}
	} else {
		frag, err := conditionExpr(rule.Attribute, rule.Operator, rule.Constant)
		if err != nil {
			return nil, &coreerrors.RuleCompileError{RuleID: rule.ID, Reason: "rule condition", Cause: err}
		}
		fragments = append(fragments, frag)
	}

	exprStr := strings.Join(fragments, " && ")

	ast, issues := e.env.Compile(exprStr)
	if issues != nil && issues.Err() != nil {
		return nil, &coreerrors.RuleCompileError{RuleID: rule.ID, Reason: "CEL compilation failed", Cause: issues.Err()}
	}
	if ast.OutputType() != cel.BoolType {
		return nil, &coreerrors.RuleCompileError{RuleID: rule.ID, Reason: "expression does not evaluate to bool"}
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, &coreerrors.RuleCompileError{RuleID: rule.ID, Reason: "building CEL program", Cause: err}
	}

	return &CompiledRule{Config: rule, Program: program}, nil
}

// Evaluate runs a compiled rule against a data record. It never raises on
// missing attributes — the predicate is false and action_result is the
// configured no-match tag. rule_point * weight is computed in double
// precision; if either fails coercion the rule is skipped with a warning.
func (e *Evaluator) Evaluate(compiled *CompiledRule, data domain.DataRecord) domain.RuleEvalResult {
	start := time.Now()
	cfg := compiled.Config

	result := domain.RuleEvalResult{
		RuleID:    cfg.ID,
		ActionTag: domain.NoMatchTag,
	}

	activation := map[string]any{"data": map[string]any(data)}

	out, _, err := compiled.Program.Eval(activation)
	if err != nil {
		result.Warning = fmt.Sprintf("rule %s evaluation error: %v", cfg.ID, err)
		result.DurationMs = time.Since(start).Milliseconds()
		result.Duration = time.Since(start)
		return result
	}

	matched, ok := out.Value().(bool)
	if !ok || !matched {
		result.DurationMs = time.Since(start).Milliseconds()
		result.Duration = time.Since(start)
		return result
	}

	result.Matched = true
	result.ActionTag = cfg.ActionTag

	contribution := cfg.RulePoint * cfg.Weight
	if math.IsNaN(contribution) {
		result.Matched = false
		result.ActionTag = domain.NoMatchTag
		result.Warning = fmt.Sprintf("rule %s: rule_point/weight failed numeric coercion", cfg.ID)
	} else {
		result.RulePoint = cfg.RulePoint
		result.Weight = cfg.Weight
		result.Contribution = contribution
	}

	result.Duration = time.Since(start)
	result.DurationMs = result.Duration.Milliseconds()
	return result
}

// conditionExpr builds the CEL fragment for one attribute/operator/
// constant triple, wrapped so that a missing attribute evaluates false
// rather than raising a "no such key" error.
func conditionExpr(attribute string, op domain.Operator, constant any) (string, error) {
	quotedAttr := strconv.Quote(attribute)
	attrRef := fmt.Sprintf("data[%s]", quotedAttr)
	presence := fmt.Sprintf("(%s in data)", quotedAttr)

	var body string
	switch op {
	case domain.OpEqual:
		lit, numeric, err := constLiteral(constant)
		if err != nil {
			return "", err
		}
		if numeric {
			body = fmt.Sprintf("num(%s) == %s", attrRef, lit)
		} else {
			body = fmt.Sprintf("%s == %s", attrRef, lit)
		}
		// A list-valued attribute (e.g. a COLLECT output enriched by an
		// upstream DMN decision) matches when it contains the constant.
		body = fmt.Sprintf("(type(%s) == list ? %s in %s : %s)", attrRef, lit, attrRef, body)
	case domain.OpNotEqual:
		lit, numeric, err := constLiteral(constant)
		if err != nil {
			return "", err
		}
		if numeric {
			body = fmt.Sprintf("num(%s) != %s", attrRef, lit)
		} else {
			body = fmt.Sprintf("%s != %s", attrRef, lit)
		}
	case domain.OpGreaterThan, domain.OpGreaterThanOrEqual, domain.OpLessThan, domain.OpLessThanOrEqual:
		lit, _, err := numericLiteral(constant)
		if err != nil {
			return "", err
		}
		body = fmt.Sprintf("num(%s) %s %s", attrRef, comparisonSymbol(op), lit)
	case domain.OpIn, domain.OpNotIn:
		list, ok := constant.([]any)
		if !ok {
			return "", fmt.Errorf("operator %s requires a list constant", op)
		}
		lit, err := listLiteral(list)
		if err != nil {
			return "", err
		}
		if op == domain.OpIn {
			body = fmt.Sprintf("%s in %s", attrRef, lit)
		} else {
			body = fmt.Sprintf("!(%s in %s)", attrRef, lit)
		}
	case domain.OpRange:
		list, ok := constant.([]any)
		if !ok || len(list) != 2 {
			return "", fmt.Errorf("operator range requires a [lo, hi] constant")
		}
		lo, _, err := numericLiteral(list[0])
		if err != nil {
			return "", err
		}
		hi, _, err := numericLiteral(list[1])
		if err != nil {
			return "", err
		}
		body = fmt.Sprintf("num(%s) >= %s && num(%s) <= %s", attrRef, lo, attrRef, hi)
	case domain.OpContains:
		substr, ok := constant.(string)
		if !ok {
			return "", fmt.Errorf("operator contains requires a string constant")
		}
		body = fmt.Sprintf("string(%s).contains(%s)", attrRef, strconv.Quote(substr))
	case domain.OpRegex:
		pattern, ok := constant.(string)
		if !ok {
			return "", fmt.Errorf("operator regex requires a string constant")
		}
		body = fmt.Sprintf("string(%s).matches(%s)", attrRef, strconv.Quote(pattern))
	default:
		return "", fmt.Errorf("unknown operator %q", op)
	}

	return fmt.Sprintf("(%s && (%s))", presence, body), nil
}

func comparisonSymbol(op domain.Operator) string {
	switch op {
	case domain.OpGreaterThan:
		return ">"
	case domain.OpGreaterThanOrEqual:
		return ">="
	case domain.OpLessThan:
		return "<"
	case domain.OpLessThanOrEqual:
		return "<="
	}
	return "=="
}

// constLiteral renders a constant as a CEL literal, reporting whether it
// is numeric (so the caller knows to wrap the attribute side in num()).
func constLiteral(v any) (string, bool, error) {
	switch val := v.(type) {
	case string:
		return strconv.Quote(val), false, nil
	case bool:
		return strconv.FormatBool(val), false, nil
	case float64, int, int64:
		lit, _, err := numericLiteral(val)
		return lit, true, err
	default:
		return "", false, fmt.Errorf("unsupported constant type %T", v)
	}
}

// numericLiteral renders a number as a CEL double literal (always with a
// decimal point, so it compares correctly against num()'s double output).
func numericLiteral(v any) (string, bool, error) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case string:
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return "", false, fmt.Errorf("malformed numeric constant %q", val)
		}
		f = parsed
	default:
		return "", false, fmt.Errorf("unsupported numeric constant type %T", v)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s, true, nil
}

// listLiteral renders a []any as a CEL list literal for `in` membership.
func listLiteral(items []any) (string, error) {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			parts = append(parts, strconv.Quote(v))
		case float64, int, int64:
			lit, _, err := numericLiteral(v)
			if err != nil {
				return "", err
			}
			parts = append(parts, lit)
		case bool:
			parts = append(parts, strconv.FormatBool(v))
		default:
			return "", fmt.Errorf("unsupported list element type %T", item)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]", nil
}
