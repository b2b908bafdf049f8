package operations

import (
	"context"

	"github.com/rendis/nodeflow/internal/environ"
	"github.com/rendis/nodeflow/internal/expressions"
)

// ExpressionOperations returns expr.eval, json.query and logic.check.
func ExpressionOperations() ([]Operation, error) {
	exprEngine := expressions.NewExprEngine()
	jqEngine := expressions.NewGoJQEngine()
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}

	return []Operation{
		NewPure("expr.eval", Spec{
			Description: "Evaluate an Expr expression; variables are the keys of vars",
			Params: []Param{
				{Name: "expression", Type: TypeString},
				{Name: "vars", Type: TypeDict},
			},
			Returns: TypeAny,
		}, func(ctx context.Context, in map[string]any) (any, error) {
			expression, err := requireString(in, "expr.eval", "expression")
			if err != nil {
				return nil, err
			}
			return exprEngine.Evaluate(ctx, expression, mapParam(in, "vars"))
		}),
		NewPure("json.query", Spec{
			Description: "Run a jq query over a JSON value",
			Params: []Param{
				{Name: "query", Type: TypeString},
				{Name: "data", Type: TypeAny},
			},
			Returns: TypeAny,
		}, func(ctx context.Context, in map[string]any) (any, error) {
			query, err := requireString(in, "json.query", "query")
			if err != nil {
				return nil, err
			}
			results, err := jqEngine.Query(ctx, query, in["data"])
			if err != nil {
				return nil, err
			}
			switch len(results) {
			case 0:
				return nil, nil
			case 1:
				return results[0], nil
			default:
				return results, nil
			}
		}),
		NewPure("logic.check", Spec{
			Description: "Evaluate a CEL condition over inputs and the run environment",
			Params: []Param{
				{Name: "expression", Type: TypeString},
				{Name: "inputs", Type: TypeDict},
			},
			Returns: TypeBool,
		}, func(ctx context.Context, in map[string]any) (any, error) {
			expression, err := requireString(in, "logic.check", "expression")
			if err != nil {
				return nil, err
			}
			env := map[string]any{}
			for k, v := range environ.FromContext(ctx).Values() {
				env[k] = v
			}
			return celEngine.Evaluate(ctx, expression, map[string]any{
				"inputs": mapParam(in, "inputs"),
				"env":    env,
			})
		}),
	}, nil
}
