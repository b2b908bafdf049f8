package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/rendis/nodeflow/pkg/schema"
)

// celVariables are the top-level names a CEL check can reference:
// inputs holds the values wired into the node, env the run's overrides.
var celVariables = []string{"inputs", "env"}

// CELEngine evaluates Common Expression Language checks.
type CELEngine struct {
	env      *cel.Env
	programs *programCache[cel.Program]
}

// NewCELEngine creates a CEL engine whose environment declares inputs and env
// as map(string, dyn).
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	opts := make([]cel.EnvOption, 0, len(celVariables))
	for _, name := range celVariables {
		opts = append(opts, cel.Variable(name, mapType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{env: env, programs: newProgramCache[cel.Program]()}, nil
}

func (e *CELEngine) Name() string { return "cel" }

// Evaluate runs expression with data's inputs and env entries bound.
// Missing variables are bound to empty maps.
func (e *CELEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.programs.get(expression, func() (cel.Program, error) {
		ast, issues := e.env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return nil, exprError(schema.ErrCodeValidation, "CEL compile error", expression, issues.Err())
		}
		prg, err := e.env.Program(ast)
		if err != nil {
			return nil, exprError(schema.ErrCodeValidation, "CEL program error", expression, err)
		}
		return prg, nil
	})
	if err != nil {
		return nil, err
	}

	activation := make(map[string]any, len(celVariables))
	for _, name := range celVariables {
		if v, ok := data[name]; ok && v != nil {
			activation[name] = v
		} else {
			activation[name] = map[string]any{}
		}
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return nil, exprError(schema.ErrCodeExecution, "CEL evaluation failed", expression, err)
	}
	return out.Value(), nil
}

var _ Engine = (*CELEngine)(nil)
