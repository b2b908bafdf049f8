package diagram

import "github.com/rendis/nodeflow/pkg/schema"

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is one graph node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   schema.NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the runtime state of a node from a journaled run.
type StatusOverlay struct {
	Status     schema.NodeStatus
	DurationMs int64
	Error      string
}

// Edge is a data dependency. Label names the handles when they carry
// information ("first → b").
type Edge struct {
	From  string
	To    string
	Label string
}
