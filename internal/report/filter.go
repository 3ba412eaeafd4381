package report

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filter is a compiled boolean expression over a Row, e.g.
// `delay_us > 5000 && comm == "nginx"`.
type Filter struct {
	program *vm.Program
	source  string
}

// NewFilter compiles expression. An empty expression yields a nil filter,
// which accepts every row.
func NewFilter(expression string) (*Filter, error) {
	if expression == "" {
		return nil, nil
	}

	program, err := expr.Compile(expression, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compiling filter %q: %w", expression, err)
	}
	return &Filter{program: program, source: expression}, nil
}

// Match evaluates the filter against row.
func (f *Filter) Match(row Row) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, err := expr.Run(f.program, map[string]any(row))
	if err != nil {
		return false, fmt.Errorf("evaluating filter %q: %w", f.source, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}
