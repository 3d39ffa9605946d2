package dmn

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/opensource-finance/rulecore/internal/coreerrors"
	"github.com/opensource-finance/rulecore/internal/domain"
)

// feelFragment is the grammar for the FEEL subset recognized in a single
// decision-table cell (spec.md §4.3): a string literal, a numeric
// comparison, an inclusive range, an enumerated list, or the wildcard "-".
type feelFragment struct {
	Wildcard   string          `  @"-"`
	Comparison *feelComparison `| @@`
	Range      *feelRange      `| @@`
	List       *feelList       `| @@`
	Literal    *string         `| @String`
}

type feelComparison struct {
	Operator string  `@(">=" | "<=" | ">" | "<")`
	Value    float64 `@(Float | Int)`
}

type feelRange struct {
	Lo float64 `"[" @(Float | Int)`
	Hi float64 `".." @(Float | Int) "]"`
}

type feelList struct {
	Items []string `"[" (@String | @Ident | @Float | @Int) ("," (@String | @Ident | @Float | @Int))* "]"`
}

var feelLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\n\r]+`},
	{Name: "DotDot", Pattern: `\.\.`},
	{Name: "Float", Pattern: `-?\d+\.\d+`},
	{Name: "Int", Pattern: `-?\d+`},
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Op", Pattern: `>=|<=|>|<`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Punct", Pattern: `[\[\],\-]`},
})

var feelParser = participle.MustBuild[feelFragment](
	participle.Lexer(feelLexer),
	participle.Elide("Whitespace"),
	participle.UseLookahead(2),
	participle.Unquote("String"),
)

// compiledCell is the operator/constant pair a FEEL fragment compiles to,
// or IsWildcard for "-" (always true, contributes no score).
type compiledCell struct {
	IsWildcard bool
	Operator   domain.Operator
	Constant   any
}

// compileFragment parses one decision-table cell and returns its compiled
// operator/constant. Malformed fragments surface as DMNParseError.
func compileFragment(raw string) (*compiledCell, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "-" {
		return &compiledCell{IsWildcard: true}, nil
	}

	fragment, err := feelParser.ParseString("", trimmed)
	if err != nil {
		return nil, &coreerrors.DMNParseError{Reason: fmt.Sprintf("unrecognized FEEL fragment %q", trimmed), Cause: err}
	}

	switch {
	case fragment.Comparison != nil:
		op, ok := comparisonOperator(fragment.Comparison.Operator)
		if !ok {
			return nil, &coreerrors.DMNParseError{Reason: fmt.Sprintf("unsupported comparison operator %q", fragment.Comparison.Operator)}
		}
		return &compiledCell{Operator: op, Constant: fragment.Comparison.Value}, nil

	case fragment.Range != nil:
		return &compiledCell{Operator: domain.OpRange, Constant: []any{fragment.Range.Lo, fragment.Range.Hi}}, nil

	case fragment.List != nil:
		items := make([]any, len(fragment.List.Items))
		for i, item := range fragment.List.Items {
			items[i] = coerceListItem(item)
		}
		return &compiledCell{Operator: domain.OpIn, Constant: items}, nil

	case fragment.Literal != nil:
		return &compiledCell{Operator: domain.OpEqual, Constant: *fragment.Literal}, nil
	}

	return nil, &coreerrors.DMNParseError{Reason: fmt.Sprintf("fragment %q did not match any recognized form", trimmed)}
}

func comparisonOperator(sym string) (domain.Operator, bool) {
	switch sym {
	case ">":
		return domain.OpGreaterThan, true
	case ">=":
		return domain.OpGreaterThanOrEqual, true
	case "<":
		return domain.OpLessThan, true
	case "<=":
		return domain.OpLessThanOrEqual, true
	}
	return "", false
}

// coerceListItem turns a bare list token into a number when it parses
// unambiguously as one, otherwise leaves it as a string.
func coerceListItem(token string) any {
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return f
	}
	return token
}
