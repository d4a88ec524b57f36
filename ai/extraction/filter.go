package extraction

import (
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// Filter selects issues with a CEL expression over summary, description,
// issue_type and priority. A nil Filter matches everything.
type Filter struct {
	expr    string
	program cel.Program
}

// NewFilter compiles expr. An empty expression returns a nil filter.
func NewFilter(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("summary", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("issue_type", cel.StringType),
		cel.Variable("priority", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create CEL environment")
	}

	celAST, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "invalid issue filter: %s", expr)
	}
	if !celAST.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("issue filter must evaluate to bool, got %s", celAST.OutputType())
	}

	program, err := env.Program(celAST)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build CEL program")
	}
	return &Filter{expr: expr, program: program}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Match reports whether issue passes the filter.
func (f *Filter) Match(issue Issue) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, _, err := f.program.Eval(map[string]any{
		"summary":     issue.Summary,
		"description": issue.Description,
		"issue_type":  issue.IssueType,
		"priority":    issue.Priority,
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to evaluate issue filter %q", f.expr)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("issue filter %q returned %T", f.expr, out.Value())
	}
	return matched, nil
}
