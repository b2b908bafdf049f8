package expressions

import (
	"context"
	"encoding/json"

	"github.com/itchyny/gojq"

	"github.com/rendis/nodeflow/pkg/schema"
)

// GoJQEngine runs jq queries. For Evaluate the query input is the data
// mapping itself; Query accepts any JSON-shaped input.
type GoJQEngine struct {
	programs *programCache[*gojq.Code]
}

func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{programs: newProgramCache[*gojq.Code]()}
}

func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate collapses the query outputs: none is nil, one is the value
// itself and several are returned as []any.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	out, err := e.Query(ctx, expression, data)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

// Query collects every output of expression run against input.
func (e *GoJQEngine) Query(ctx context.Context, expression string, input any) ([]any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}
	code, err := e.programs.get(expression, func() (*gojq.Code, error) { return compileJQ(expression) })
	if err != nil {
		return nil, err
	}

	out := []any{}
	it := code.RunWithContext(ctx, jqValue(input))
	for v, ok := it.Next(); ok; v, ok = it.Next() {
		if err, failed := v.(error); failed {
			return nil, exprError(schema.ErrCodeExecution, "jq evaluation failed", expression, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func compileJQ(expression string) (*gojq.Code, error) {
	parsed, err := gojq.Parse(expression)
	if err != nil {
		return nil, exprError(schema.ErrCodeValidation, "jq parse error", expression, err)
	}
	// $ENV stays empty; run environment is only reachable through env.get.
	code, err := gojq.Compile(parsed, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, exprError(schema.ErrCodeValidation, "jq compile error", expression, err)
	}
	return code, nil
}

// jqValue converts node outputs into the value shapes gojq accepts. Typed
// slices and maps produced by operations become []any and map[string]any;
// sized numbers become float64. Anything else unknown goes through JSON.
func jqValue(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int, float64:
		return x
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case json.Number:
		f, _ := x.Float64()
		return f
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = jqValue(e)
		}
		return m
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = e
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = jqValue(e)
		}
		return s
	case []string:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = e
		}
		return s
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return x
		}
		var generic any
		if json.Unmarshal(raw, &generic) != nil {
			return x
		}
		return generic
	}
}

var _ Engine = (*GoJQEngine)(nil)
