package operations

import (
	"context"

	"github.com/rendis/nodeflow/pkg/schema"
)

var binaryFloatParams = []Param{
	{Name: "a", Type: TypeFloat},
	{Name: "b", Type: TypeFloat},
}

// MathOperations returns the arithmetic operations.
func MathOperations() []Operation {
	return []Operation{
		binaryMath("add", "Add two numbers", func(a, b float64) (float64, error) { return a + b, nil }),
		binaryMath("subtract", "Subtract b from a", func(a, b float64) (float64, error) { return a - b, nil }),
		binaryMath("multiply", "Multiply two numbers", func(a, b float64) (float64, error) { return a * b, nil }),
		binaryMath("divide", "Divide a by b", func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, schema.NewError(schema.ErrCodeExecution, "divide: division by zero")
			}
			return a / b, nil
		}),
	}
}

func binaryMath(name, desc string, fn func(a, b float64) (float64, error)) Operation {
	spec := Spec{Description: desc, Params: binaryFloatParams, Returns: TypeFloat}
	return NewPure(name, spec, func(_ context.Context, in map[string]any) (any, error) {
		return fn(floatParam(in, "a", 0), floatParam(in, "b", 0))
	})
}
