// Package assertion compiles declarative count assertions into SQL and
// evaluates them against a memory database.
package assertion

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// Spec is one declarative assertion: an aggregate select, an expected
// comparison, and named parameters bound into the WHERE clauses.
type Spec struct {
	Name   string         `json:"name"`
	Select SelectSpec     `json:"select"`
	Expect ExpectSpec     `json:"expect"`
	Params map[string]any `json:"params,omitempty"`
}

// SelectSpec names the table, the WHERE conjuncts and the aggregate.
type SelectSpec struct {
	From  string   `json:"from"`
	Where []string `json:"where,omitempty"`
	Agg   string   `json:"agg"`
}

// ExpectSpec compares the scalar aggregate against a value.
type ExpectSpec struct {
	Op    string  `json:"op"`
	Value float64 `json:"value"`
}

// Outcome is one evaluated assertion.
type Outcome struct {
	Name     string  `json:"name"`
	Passed   bool    `json:"passed"`
	Actual   float64 `json:"actual"`
	Expected float64 `json:"expected"`
	Operator string  `json:"operator"`
	Message  string  `json:"message,omitempty"`
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// paramRef finds :name references inside WHERE clauses.
var paramRef = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// Compile renders the spec to a count query with named arguments, in
// deterministic clause order. Only COUNT aggregates are supported.
func Compile(spec *Spec) (string, []any, error) {
	if spec.Select.From == "" {
		return "", nil, fmt.Errorf("assertion %q: select.from is required", spec.Name)
	}
	if !identPattern.MatchString(spec.Select.From) {
		return "", nil, fmt.Errorf("assertion %q: invalid table name %q", spec.Name, spec.Select.From)
	}
	agg := spec.Select.Agg
	if agg == "" {
		agg = "count"
	}
	if !strings.EqualFold(agg, "count") {
		return "", nil, fmt.Errorf("assertion %q: unsupported aggregate %q", spec.Name, agg)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT COUNT(*) as actual FROM %s", spec.Select.From)

	referenced := map[string]bool{}
	if len(spec.Select.Where) > 0 {
		clauses := make([]string, len(spec.Select.Where))
		for i, w := range spec.Select.Where {
			clauses[i] = "(" + w + ")"
			for _, m := range paramRef.FindAllStringSubmatch(w, -1) {
				referenced[m[1]] = true
			}
		}
		b.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}

	args := make([]any, 0, len(referenced))
	for name := range referenced {
		val, ok := spec.Params[name]
		if !ok {
			return "", nil, fmt.Errorf("assertion %q: missing param %q", spec.Name, name)
		}
		args = append(args, sql.Named(name, val))
	}
	return b.String(), args, nil
}

// Evaluate compiles and runs the assertion, comparing the scalar result
// against the expectation. Failures are outcomes, not errors; only broken
// specs or SQL failures surface in Message with Passed=false.
func Evaluate(ctx context.Context, db *sql.DB, spec *Spec) Outcome {
	out := Outcome{
		Name:     spec.Name,
		Expected: spec.Expect.Value,
		Operator: spec.Expect.Op,
	}

	query, args, err := Compile(spec)
	if err != nil {
		out.Message = err.Error()
		return out
	}

	var actual float64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&actual); err != nil {
		out.Message = fmt.Sprintf("assertion %q: query failed: %v", spec.Name, err)
		return out
	}
	out.Actual = actual

	passed, err := compare(actual, spec.Expect.Op, spec.Expect.Value)
	if err != nil {
		out.Message = fmt.Sprintf("assertion %q: %v", spec.Name, err)
		return out
	}
	out.Passed = passed
	if !passed {
		out.Message = fmt.Sprintf("expected actual %s %v, got %v", spec.Expect.Op, spec.Expect.Value, actual)
	}
	return out
}

func compare(actual float64, op string, expected float64) (bool, error) {
	switch op {
	case "==", "=":
		return actual == expected, nil
	case "!=":
		return actual != expected, nil
	case ">":
		return actual > expected, nil
	case ">=":
		return actual >= expected, nil
	case "<":
		return actual < expected, nil
	case "<=":
		return actual <= expected, nil
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}
