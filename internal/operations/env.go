package operations

import (
	"context"

	"github.com/rendis/nodeflow/internal/environ"
)

// EnvOperations returns operations that read the run's environment.
func EnvOperations() []Operation {
	return []Operation{
		NewPure("env.get", Spec{
			Description: "Read a named value from the run environment, falling back to default",
			Params: []Param{
				{Name: "name", Type: TypeString},
				{Name: "default", Type: TypeString},
			},
			Returns: TypeString,
		}, func(ctx context.Context, in map[string]any) (any, error) {
			name, err := requireString(in, "env.get", "name")
			if err != nil {
				return nil, err
			}
			if v, ok := environ.Lookup(ctx, name); ok {
				return v, nil
			}
			return stringParam(in, "default", ""), nil
		}),
	}
}
