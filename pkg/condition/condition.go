// Package condition evaluates the small expression language used by `skip_when`.
//
// An expression is one or more comparisons joined by && or || (&& binds tighter):
//
//	child.multiple == false
//	!child.multiple
//	when == 'no_date' || when == 'unsure'
//
// The left side of a comparison is a dotted path into the answers: the first segment is
// a step identifier, the rest index into map-shaped answers. A missing path resolves to
// null. Literals are true, false, null, numbers, and quoted or bare strings. Operators
// inside quoted literals are part of the literal.
package condition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aretw0/stepflow/pkg/domain"
)

// Predicate is a compiled expression.
type Predicate func(answers domain.Answers) bool

type comparison struct {
	path   []string
	op     string // "==", "!=", "truthy", "falsy"
	result any
}

// Compile parses expr once so it can be evaluated many times.
func Compile(expr string) (Predicate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty condition")
	}

	var groups [][]comparison
	for _, orPart := range split(expr, "||") {
		var group []comparison
		for _, andPart := range split(orPart, "&&") {
			c, err := parseComparison(andPart)
			if err != nil {
				return nil, fmt.Errorf("condition %q: %w", expr, err)
			}
			group = append(group, c)
		}
		groups = append(groups, group)
	}

	return func(answers domain.Answers) bool {
		for _, group := range groups {
			all := true
			for _, c := range group {
				if !c.eval(answers) {
					all = false
					break
				}
			}
			if all {
				return true
			}
		}
		return false
	}, nil
}

// Evaluate compiles and runs expr against answers.
func Evaluate(expr string, answers domain.Answers) (bool, error) {
	p, err := Compile(expr)
	if err != nil {
		return false, err
	}
	return p(answers), nil
}

// split cuts s at every sep that is not inside a quoted literal.
func split(s, sep string) []string {
	var parts []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		switch {
		case quote != 0:
			if s[i] == quote {
				quote = 0
			}
		case s[i] == '\'' || s[i] == '"':
			quote = s[i]
		case strings.HasPrefix(s[i:], sep):
			parts = append(parts, s[start:i])
			i += len(sep) - 1
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// operator returns the position of the first == or != outside quotes, or -1.
func operator(s string) (int, string) {
	var quote byte
	for i := 0; i < len(s); i++ {
		switch {
		case quote != 0:
			if s[i] == quote {
				quote = 0
			}
		case s[i] == '\'' || s[i] == '"':
			quote = s[i]
		case strings.HasPrefix(s[i:], "=="):
			return i, "=="
		case strings.HasPrefix(s[i:], "!="):
			return i, "!="
		}
	}
	return -1, ""
}

func parseComparison(s string) (comparison, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return comparison{}, fmt.Errorf("missing operand")
	}

	if i, op := operator(s); i >= 0 {
		path, err := parsePath(s[:i])
		if err != nil {
			return comparison{}, err
		}
		return comparison{path: path, op: op, result: parseLiteral(s[i+len(op):])}, nil
	}

	op := "truthy"
	if strings.HasPrefix(s, "!") {
		op = "falsy"
		s = s[1:]
	}
	path, err := parsePath(s)
	if err != nil {
		return comparison{}, err
	}
	return comparison{path: path, op: op}, nil
}

func parsePath(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " \t'\"") {
		return nil, fmt.Errorf("invalid path %q", s)
	}
	parts := strings.Split(s, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid path %q", s)
		}
	}
	return parts, nil
}

func parseLiteral(s string) any {
	s = strings.TrimSpace(s)
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null", "nil":
		return nil
	}
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func (c comparison) eval(answers domain.Answers) bool {
	v := lookup(answers, c.path)
	switch c.op {
	case "truthy":
		return truthy(v)
	case "falsy":
		return !truthy(v)
	case "==":
		return equal(v, c.result)
	default:
		return !equal(v, c.result)
	}
}

func lookup(answers domain.Answers, path []string) any {
	var cur any = map[string]any(answers)
	for _, seg := range path {
		switch m := cur.(type) {
		case map[string]any:
			cur = m[seg]
		case domain.Answers:
			cur = m[seg]
		default:
			return nil
		}
	}
	return cur
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
