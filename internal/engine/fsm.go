package engine

import (
	"sync"

	"github.com/rendis/nodeflow/pkg/schema"
)

// TransitionHook is called after a node changes state.
type TransitionHook func(nodeID string, from, to schema.NodeStatus)

// ValidNodeTransitions defines the allowed state transitions for nodes.
// Progress and streaming updates happen inside Executing.
var ValidNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusNotStarted: {schema.NodeStatusExecuting, schema.NodeStatusSkipped, schema.NodeStatusError},
	schema.NodeStatusExecuting:  {schema.NodeStatusCompleted, schema.NodeStatusError},
	schema.NodeStatusCompleted:  {},
	schema.NodeStatusError:      {},
	schema.NodeStatusSkipped:    {},
}

// NodeFSM tracks the lifecycle of every node in one run.
type NodeFSM struct {
	mu     sync.Mutex
	states map[string]schema.NodeStatus
	after  []TransitionHook
}

// NewNodeFSM creates an FSM with every node in NotStarted.
func NewNodeFSM(nodeIDs []string) *NodeFSM {
	states := make(map[string]schema.NodeStatus, len(nodeIDs))
	for _, id := range nodeIDs {
		states[id] = schema.NodeStatusNotStarted
	}
	return &NodeFSM{states: states}
}

// OnTransition registers a hook called after every successful transition.
func (f *NodeFSM) OnTransition(hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.after = append(f.after, hook)
}

// Transition moves nodeID to the given state. A node executes at most once,
// so leaving a terminal state is always rejected.
func (f *NodeFSM) Transition(nodeID string, to schema.NodeStatus) error {
	f.mu.Lock()
	from, ok := f.states[nodeID]
	if !ok {
		f.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "unknown node: %s", nodeID).WithNode(nodeID)
	}
	if !isValidNodeTransition(from, to) {
		f.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid node transition: %s -> %s", from, to).
			WithNode(nodeID).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}
	f.states[nodeID] = to
	hooks := append([]TransitionHook(nil), f.after...)
	f.mu.Unlock()

	for _, hook := range hooks {
		hook(nodeID, from, to)
	}
	return nil
}

// Status returns the current state of nodeID.
func (f *NodeFSM) Status(nodeID string) schema.NodeStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[nodeID]
}

// Snapshot returns a copy of every node's state.
func (f *NodeFSM) Snapshot() map[string]schema.NodeStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]schema.NodeStatus, len(f.states))
	for k, v := range f.states {
		out[k] = v
	}
	return out
}

func isValidNodeTransition(from, to schema.NodeStatus) bool {
	for _, a := range ValidNodeTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a node in state s will not change again.
func IsTerminal(s schema.NodeStatus) bool {
	return s == schema.NodeStatusCompleted || s == schema.NodeStatusError || s == schema.NodeStatusSkipped
}
