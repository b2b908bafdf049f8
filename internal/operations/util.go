package operations

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// UtilOperations returns general-purpose helpers.
func UtilOperations() []Operation {
	return []Operation{
		NewProgressive("util.countdown", Spec{
			Description: "Count down a number of steps, reporting progress after each",
			Params: []Param{
				{Name: "steps", Type: TypeInt},
				{Name: "interval_ms", Type: TypeInt},
			},
			Returns: TypeInt,
		}, func() ProgressTask { return &countdownTask{} }),
	}
}

// countdownTask keeps its own counter so each node execution starts fresh.
type countdownTask struct {
	done int
}

func (t *countdownTask) Run(ctx context.Context, in map[string]any, report ProgressFunc) (any, error) {
	steps := intParam(in, "steps", 3)
	if steps <= 0 {
		return 0, nil
	}
	interval := time.Duration(intParam(in, "interval_ms", 0)) * time.Millisecond

	for t.done < steps {
		if interval > 0 {
			select {
			case <-ctx.Done():
				return nil, schema.NewError(schema.ErrCodeCancelled, "util.countdown: cancelled").WithCause(ctx.Err())
			case <-time.After(interval):
			}
		}
		t.done++
		report(float64(t.done)/float64(steps), fmt.Sprintf("step %d of %d", t.done, steps))
	}
	return t.done, nil
}
