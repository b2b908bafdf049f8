package engine

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Stream is a lazy, single-use sequence of status events for one run.
// The run starts when Events is first ranged over and ends with exactly one
// Done event, or a single run-level Error event when the run fails.
type Stream struct {
	runID  string
	events iter.Seq[schema.StatusEvent]

	used    atomic.Bool
	results schema.ExecutionResult
	err     error
}

// Stream prepares a streaming run of g.
func (e *Engine) Stream(ctx context.Context, g *schema.Graph, opts ...RunOption) *Stream {
	o := buildOptions(opts)
	s := &Stream{runID: o.runID}
	s.events = func(yield func(schema.StatusEvent) bool) {
		if !s.used.CompareAndSwap(false, true) {
			return
		}
		results, err := e.run(ctx, o, g, yield)
		if errors.Is(err, errConsumerStopped) {
			return
		}
		s.results, s.err = results, err
	}
	return s
}

// RunID identifies the run this stream drives.
func (s *Stream) RunID() string { return s.runID }

// Events returns the event sequence. It can be ranged over once; later
// ranges yield nothing. Breaking out of the range stops scheduling.
func (s *Stream) Events() iter.Seq[schema.StatusEvent] { return s.events }

// Err returns the run-level error after iteration finished, the same error
// Execute would have returned. It is nil when the consumer stopped early.
func (s *Stream) Err() error { return s.err }

// Results returns the final results after a successful, fully consumed run.
func (s *Stream) Results() schema.ExecutionResult { return s.results }
