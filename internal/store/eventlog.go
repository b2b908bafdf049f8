package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// EventLog reads a run's journaled events back as node states.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// Append journals a status event.
func (el *EventLog) Append(ctx context.Context, ev schema.StatusEvent) error {
	e, err := NewEvent(ev)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "encode event").WithCause(err)
	}
	return el.store.AppendEvent(ctx, e)
}

// Replay rebuilds per-node states for a run. Nodes that never produced an
// event (skipped, or after an early stop) are absent from the result.
// Returns an error if sequence gaps are detected.
func (el *EventLog) Replay(ctx context.Context, runID string) (map[string]*NodeState, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}
	return ReplayEvents(runID, events)
}

// ReplayEvents folds ordered journal events into node states.
func ReplayEvents(runID string, events []*Event) (map[string]*NodeState, error) {
	states := make(map[string]*NodeState)

	for i, e := range events {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
		if e.NodeID == "" {
			continue
		}

		ns, ok := states[e.NodeID]
		if !ok {
			ns = &NodeState{NodeID: e.NodeID, Status: schema.NodeStatusNotStarted}
			states[e.NodeID] = ns
		}
		ev, err := e.Status()
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "decode event %d of run %s", e.Sequence, runID).WithCause(err)
		}

		ts := e.Timestamp
		switch e.Type {
		case schema.EventExecuting:
			ns.Status = schema.NodeStatusExecuting
			ns.StartedAt = &ts
		case schema.EventProgress:
			ns.Progress = ev.Fraction
		case schema.EventStreaming:
			ns.Output = ev.Text
		case schema.EventCompleted:
			ns.Status = schema.NodeStatusCompleted
			ns.Output = ev.Output
			finish(ns, ts)
		case schema.EventError:
			ns.Status = schema.NodeStatusError
			ns.Output = nil
			ns.Error = ev.Message
			finish(ns, ts)
		}
	}

	return states, nil
}

func finish(ns *NodeState, ts time.Time) {
	ns.CompletedAt = &ts
	if ns.StartedAt != nil {
		ns.DurationMs = ts.Sub(*ns.StartedAt).Milliseconds()
	}
}
