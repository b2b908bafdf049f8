package streaming

import (
	"context"
	"slices"

	"github.com/rendis/nodeflow/pkg/schema"
)

// EventFilter selects which status events a subscriber receives. Empty
// fields match everything.
type EventFilter struct {
	RunID  string             `json:"run_id,omitempty"`
	NodeID string             `json:"node_id,omitempty"`
	Types  []schema.EventType `json:"types,omitempty"`
}

// Matches reports whether e passes every non-empty field of f.
func (f EventFilter) Matches(e schema.StatusEvent) bool {
	switch {
	case f.RunID != "" && f.RunID != e.RunID:
		return false
	case f.NodeID != "" && f.NodeID != e.NodeID:
		return false
	case len(f.Types) > 0 && !slices.Contains(f.Types, e.Type):
		return false
	}
	return true
}

// EventHub fans out the status events of every run to live observers.
type EventHub interface {
	Publish(ctx context.Context, event schema.StatusEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan schema.StatusEvent, func(), error)
}
