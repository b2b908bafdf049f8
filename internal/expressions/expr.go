package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/nodeflow/pkg/schema"
)

// ExprEngine evaluates expr-lang expressions. Every key of the data mapping
// is a top-level variable; unknown names evaluate to nil.
type ExprEngine struct {
	programs *programCache[*vm.Program]
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{programs: newProgramCache[*vm.Program]()}
}

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate compiles expression once and runs it against data.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	prg, err := e.programs.get(expression, func() (*vm.Program, error) {
		p, err := expr.Compile(expression, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, exprError(schema.ErrCodeValidation, "expr compile error", expression, err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, exprError(schema.ErrCodeExecution, "expr evaluation failed", expression, err)
	}
	return out, nil
}

func exprError(code, msg, expression string, cause error) *schema.Error {
	return schema.NewErrorf(code, "%s in %q: %s", msg, expression, cause.Error()).
		WithCause(cause).
		WithDetails(map[string]any{"expression": expression})
}

var _ Engine = (*ExprEngine)(nil)
