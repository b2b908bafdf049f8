package schema

import (
	"encoding/json"
	"strings"
)

// NodeKind enumerates the kinds of nodes in a graph.
type NodeKind string

const (
	NodeKindFunction NodeKind = "function"
	NodeKindView     NodeKind = "view"
	NodeKindVariable NodeKind = "variable"
	NodeKindList     NodeKind = "list"
)

// ParseNodeKind normalizes an editor node type ("functionNode", "View", ...)
// into a NodeKind. The second return is false for unknown kinds.
func ParseNodeKind(s string) (NodeKind, bool) {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.TrimSuffix(k, "node")
	switch NodeKind(k) {
	case NodeKindFunction, NodeKindView, NodeKindVariable, NodeKindList:
		return NodeKind(k), true
	}
	return "", false
}

// Whole-value source handles. Any other handle selects a key of a
// multi-output value.
const (
	HandleOutput = "output"
	HandleResult = "result"
)

// ListInputPrefix prefixes positional target handles of List nodes ("input-0", "input-1", ...).
const ListInputPrefix = "input-"

// Node is one computational step in a graph.
type Node struct {
	ID     string         `json:"id"`
	Kind   NodeKind       `json:"type"`
	Config map[string]any `json:"data,omitempty"`
}

// UnmarshalJSON accepts editor-style node types such as "functionNode".
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID     string         `json:"id"`
		Kind   string         `json:"type"`
		Config map[string]any `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	n.ID = raw.ID
	n.Config = raw.Config
	if kind, ok := ParseNodeKind(raw.Kind); ok {
		n.Kind = kind
	} else {
		n.Kind = NodeKind(raw.Kind)
	}
	return nil
}

// Edge is a data dependency from one node's output (or one field of it)
// to an input of another node.
type Edge struct {
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// WholeValue reports whether the edge delivers the source output unmodified.
func (e Edge) WholeValue() bool {
	return IsWholeValueHandle(e.SourceHandle)
}

// IsWholeValueHandle reports whether a source handle selects the whole output.
// An empty handle is treated as "output".
func IsWholeValueHandle(handle string) bool {
	return handle == "" || handle == HandleOutput || handle == HandleResult
}

// Graph is one execution request: nodes, edges and optional environment overrides.
type Graph struct {
	Nodes []Node            `json:"nodes"`
	Edges []Edge            `json:"edges"`
	Env   map[string]string `json:"env,omitempty"`
}

// ExecutionResult maps each View node ID to its resolved value.
type ExecutionResult map[string]any
