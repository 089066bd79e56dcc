package conditions

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// operatorExpressions are the CEL programs behind each setting operator.
// Both variables are the trimmed string forms of the values.
var operatorExpressions = map[Operator]string{
	OpEquals:    `actual == expected`,
	OpNotEquals: `actual != expected`,
	OpContains:  `actual.contains(expected)`,
	OpIsTrue:    `actual.lowerAscii() in ["1", "true", "yes", "on"]`,
	OpIsFalse:   `!(actual.lowerAscii() in ["1", "true", "yes", "on"])`,
}

// Comparator evaluates setting operators with compiled CEL programs.
type Comparator struct {
	env      *cel.Env
	programs map[Operator]cel.Program
}

// NewComparator compiles one program per operator.
func NewComparator() (*Comparator, error) {
	env, err := cel.NewEnv(
		cel.Variable("actual", cel.StringType),
		cel.Variable("expected", cel.StringType),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	c := &Comparator{
		env:      env,
		programs: make(map[Operator]cel.Program, len(operatorExpressions)),
	}
	for op, expr := range operatorExpressions {
		if err := c.compile(op, expr); err != nil {
			return nil, fmt.Errorf("failed to compile operator %s: %w", op, err)
		}
	}
	return c, nil
}

func (c *Comparator) compile(op Operator, expression string) error {
	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return fmt.Errorf("expression %q does not evaluate to a bool", expression)
	}

	prog, err := c.env.Program(ast, cel.CostLimit(1000000))
	if err != nil {
		return fmt.Errorf("program creation error: %w", err)
	}
	c.programs[op] = prog
	return nil
}

// Compare applies op to the actual and expected values. Non-boolean
// program output is treated as false.
func (c *Comparator) Compare(op Operator, actual, expected string) (bool, error) {
	prog, ok := c.programs[op]
	if !ok {
		return false, fmt.Errorf("unknown setting operator %q", op)
	}

	out, _, err := prog.Eval(map[string]any{
		"actual":   strings.TrimSpace(actual),
		"expected": strings.TrimSpace(expected),
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate %s: %w", op, err)
	}
	matched, _ := out.Value().(bool)
	return matched, nil
}
