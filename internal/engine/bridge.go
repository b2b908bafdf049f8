package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/rendis/nodeflow/internal/operations"
	"github.com/rendis/nodeflow/pkg/schema"
)

type bridgeResult struct {
	output any
	err    error
}

// bridge runs a progressive or streaming operation on one pooled worker and
// relays its callbacks to emit while the worker is alive. Events of the node
// are forwarded in the order the operation produced them, and every queued
// event is forwarded before bridge returns.
//
// When emit asks to stop, bridge returns errConsumerStopped at once. The
// worker is left to finish in the background and its remaining callbacks
// are discarded.
func (e *Engine) bridge(ctx context.Context, nodeID string, op operations.Operation, in map[string]any, emit func(schema.StatusEvent) bool) (any, error) {
	queue := make(chan schema.StatusEvent, e.cfg.EventBuffer)
	abandon := make(chan struct{})
	done := make(chan bridgeResult, 1)

	// push applies backpressure to the operation unless the consumer is gone.
	push := func(ev schema.StatusEvent) {
		select {
		case queue <- ev:
		case <-abandon:
		}
	}

	var call func(ctx context.Context) (any, error)
	switch o := op.(type) {
	case operations.Progressive:
		task := o.NewTask()
		report := func(fraction float64, message string) {
			push(schema.ProgressEvent(nodeID, fraction, message))
		}
		call = func(ctx context.Context) (any, error) { return task.Run(ctx, in, report) }
	case operations.Streaming:
		task := o.NewTask()
		var (
			mu   sync.Mutex
			text strings.Builder
		)
		chunk := func(c string) {
			mu.Lock()
			text.WriteString(c)
			ev := schema.StreamingEvent(nodeID, c, text.String())
			push(ev)
			mu.Unlock()
		}
		call = func(ctx context.Context) (any, error) { return task.Run(ctx, in, chunk) }
	default:
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "operation %q is not progressive or streaming", op.Name())
	}

	submitErr := e.pool.Submit(ctx, func(ctx context.Context) error {
		var res bridgeResult
		defer func() {
			if r := recover(); r != nil {
				res = bridgeResult{err: panicError(r)}
			}
			done <- res
		}()
		res.output, res.err = call(ctx)
		return res.err
	})
	if submitErr != nil {
		return nil, submitErr
	}

	for {
		select {
		case ev := <-queue:
			if !emit(ev) {
				close(abandon)
				return nil, errConsumerStopped
			}
		case res := <-done:
			// Everything the worker queued happened before it sent on done.
			for {
				select {
				case ev := <-queue:
					if !emit(ev) {
						close(abandon)
						return nil, errConsumerStopped
					}
				default:
					return res.output, res.err
				}
			}
		}
	}
}
