package schema

// EventType identifies the variant of a StatusEvent.
type EventType string

const (
	EventExecuting EventType = "executing"
	EventProgress  EventType = "progress"
	EventStreaming EventType = "streaming"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
	EventDone      EventType = "done"
)

// NodeStatus represents the lifecycle state of a node within one run.
type NodeStatus string

const (
	NodeStatusNotStarted NodeStatus = "not_started"
	NodeStatusExecuting  NodeStatus = "executing"
	NodeStatusCompleted  NodeStatus = "completed"
	NodeStatusError      NodeStatus = "error"
	NodeStatusSkipped    NodeStatus = "skipped"
)

// StatusEvent is one element of a streamed run. Type selects which of the
// remaining fields are populated:
//
//	executing: NodeID, Inputs
//	progress:  NodeID, Fraction, Message
//	streaming: NodeID, Chunk, Text (accumulated)
//	completed: NodeID, Output
//	error:     NodeID (empty for run-level failures), Message, Code
//	done:      Results
type StatusEvent struct {
	Type     EventType       `json:"type"`
	RunID    string          `json:"run_id,omitempty"`
	NodeID   string          `json:"node_id,omitempty"`
	Inputs   map[string]any  `json:"inputs,omitempty"`
	Fraction float64         `json:"progress,omitempty"`
	Message  string          `json:"message,omitempty"`
	Chunk    string          `json:"chunk,omitempty"`
	Text     string          `json:"text,omitempty"`
	Output   any             `json:"output,omitempty"`
	Code     string          `json:"code,omitempty"`
	Results  ExecutionResult `json:"results,omitempty"`
}

// Terminal reports whether the event ends a stream: Done, or a run-level Error.
func (e StatusEvent) Terminal() bool {
	return e.Type == EventDone || (e.Type == EventError && e.NodeID == "")
}

// ExecutingEvent builds an "executing" event.
func ExecutingEvent(nodeID string, inputs map[string]any) StatusEvent {
	return StatusEvent{Type: EventExecuting, NodeID: nodeID, Inputs: inputs}
}

// ProgressEvent builds a "progress" event.
func ProgressEvent(nodeID string, fraction float64, message string) StatusEvent {
	return StatusEvent{Type: EventProgress, NodeID: nodeID, Fraction: fraction, Message: message}
}

// StreamingEvent builds a "streaming" event.
func StreamingEvent(nodeID, chunk, accumulated string) StatusEvent {
	return StatusEvent{Type: EventStreaming, NodeID: nodeID, Chunk: chunk, Text: accumulated}
}

// CompletedEvent builds a "completed" event.
func CompletedEvent(nodeID string, output any) StatusEvent {
	return StatusEvent{Type: EventCompleted, NodeID: nodeID, Output: output}
}

// ErrorEvent builds an "error" event from err. An empty nodeID marks a
// run-level failure.
func ErrorEvent(nodeID string, err error) StatusEvent {
	ev := StatusEvent{Type: EventError, NodeID: nodeID}
	if err == nil {
		return ev
	}
	e := AsError(err, ErrCodeExecution)
	ev.Code = e.Code
	ev.Message = e.Message
	return ev
}

// DoneEvent builds the terminal "done" event.
func DoneEvent(results ExecutionResult) StatusEvent {
	return StatusEvent{Type: EventDone, Results: results}
}
