package detector

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/good-yellow-bee/flarewatch/internal/models"
)

// ExprMatcher compiles and evaluates expr-lang expressions against events.
type ExprMatcher struct {
	expression string
	program    *vm.Program
}

// NewExprMatcher creates a new ExprMatcher for the given expression.
func NewExprMatcher(expression string) (*ExprMatcher, error) {
	m := &ExprMatcher{expression: expression}
	if err := m.compile(); err != nil {
		return nil, err
	}
	return m, nil
}

// compile compiles the expression with the expected environment.
func (m *ExprMatcher) compile() error {
	// Sample environment for type checking.
	// expr-lang has built-in operators: contains, startsWith, endsWith.
	// Syntax: message contains "timeout" (not contains(message, "timeout")).
	program, err := expr.Compile(m.expression,
		expr.Env(buildSampleEnv()),
		expr.AsBool(),
	)
	if err != nil {
		return fmt.Errorf("compile expression: %w", err)
	}

	m.program = program
	return nil
}

// Match evaluates the expression against an event.
func (m *ExprMatcher) Match(event *models.Event) (bool, error) {
	result, err := expr.Run(m.program, buildEnvFromEvent(event))
	if err != nil {
		return false, fmt.Errorf("evaluate expression: %w", err)
	}

	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return bool: got %T", result)
	}

	return matched, nil
}

// Expression returns the original expression string.
func (m *ExprMatcher) Expression() string {
	return m.expression
}

// buildSampleEnv creates a sample environment for expression compilation.
func buildSampleEnv() map[string]any {
	return map[string]any{
		"type":           "",
		"source":         "",
		"severity":       "",
		"message":        "",
		"correlation_id": "",
		"metadata":       map[string]any{},
	}
}

// buildEnvFromEvent creates an evaluation environment from an event.
func buildEnvFromEvent(event *models.Event) map[string]any {
	env := map[string]any{
		"type":           string(event.Type),
		"source":         event.Source,
		"severity":       strings.ToLower(string(event.Severity)),
		"message":        event.Message,
		"correlation_id": event.CorrelationID,
		"metadata":       event.Metadata,
	}

	if env["metadata"] == nil {
		env["metadata"] = map[string]any{}
	}

	return env
}
