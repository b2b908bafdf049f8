package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// RunStatus is the lifecycle state of a journaled run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	// RunStatusAbandoned marks streaming runs whose consumer stopped early.
	RunStatusAbandoned RunStatus = "abandoned"
)

// Run is the journal entry for one graph execution. The journal is an
// audit trail only; nothing in it is read back into an execution.
type Run struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"` // cli, http, mcp, schedule
	Status      RunStatus       `json:"status"`
	Graph       json.RawMessage `json:"graph,omitempty"`
	NodeCount   int             `json:"node_count"`
	Results     json.RawMessage `json:"results,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
}

// Event is an immutable journal entry holding one status event of a run.
type Event struct {
	ID        int64            `json:"id"`
	RunID     string           `json:"run_id"`
	NodeID    string           `json:"node_id,omitempty"`
	Type      schema.EventType `json:"event_type"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Sequence  int64            `json:"sequence"`
}

// NewEvent journals a status event with its full JSON encoding as payload.
func NewEvent(ev schema.StatusEvent) (*Event, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &Event{
		RunID:   ev.RunID,
		NodeID:  ev.NodeID,
		Type:    ev.Type,
		Payload: payload,
	}, nil
}

// Status decodes the journaled status event.
func (e *Event) Status() (schema.StatusEvent, error) {
	var ev schema.StatusEvent
	if len(e.Payload) == 0 {
		return schema.StatusEvent{Type: e.Type, RunID: e.RunID, NodeID: e.NodeID}, nil
	}
	err := json.Unmarshal(e.Payload, &ev)
	return ev, err
}

// NodeState is the replayed state of a node within a journaled run.
type NodeState struct {
	NodeID      string            `json:"node_id"`
	Status      schema.NodeStatus `json:"status"`
	Output      any               `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
	Progress    float64           `json:"progress,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}

// --- Filter and update types ---

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status *RunStatus `json:"status,omitempty"`
	Source string     `json:"source,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

// RunOutcome is what FinishRun records.
type RunOutcome struct {
	Status      RunStatus       `json:"status"`
	Results     json.RawMessage `json:"results,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}
