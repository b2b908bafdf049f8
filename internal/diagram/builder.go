package diagram

import (
	"fmt"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Build constructs a Model from a graph and optional replayed node states.
// Nodes are listed in execution order; a cyclic graph cannot be diagrammed.
func Build(title string, g *schema.Graph, states map[string]*store.NodeState) (*Model, error) {
	plan, err := engine.BuildPlan(g)
	if err != nil {
		return nil, fmt.Errorf("diagram: %w", err)
	}
	if title == "" {
		title = "Graph"
	}

	nodes := make([]*Node, 0, len(plan.Order))
	for _, id := range plan.Order {
		n := plan.Nodes[id]
		node := &Node{ID: id, Label: nodeLabel(n), Kind: n.Kind}
		if ns, ok := states[id]; ok {
			node.Status = &StatusOverlay{Status: ns.Status, DurationMs: ns.DurationMs, Error: ns.Error}
		}
		nodes = append(nodes, node)
	}

	edges := make([]Edge, 0, len(g.Edges))
	for _, e := range g.Edges {
		edges = append(edges, Edge{From: e.Source, To: e.Target, Label: edgeLabel(e)})
	}

	return &Model{
		Title:  title,
		Nodes:  nodes,
		Edges:  edges,
		Levels: buildLevels(plan),
	}, nil
}

func nodeLabel(n *schema.Node) string {
	switch n.Kind {
	case schema.NodeKindFunction:
		if op, _ := n.Config["operation"].(string); op != "" {
			return fmt.Sprintf("%s\n(%s)", n.ID, op)
		}
	case schema.NodeKindVariable:
		if t, _ := n.Config["variableType"].(string); t != "" {
			return fmt.Sprintf("%s\n(%s)", n.ID, t)
		}
	}
	return n.ID
}

// edgeLabel hides the default handles and shows the rest as "src → dst".
func edgeLabel(e schema.Edge) string {
	var src, dst string
	if !e.WholeValue() {
		src = e.SourceHandle
	}
	if e.TargetHandle != "" && e.TargetHandle != "input" {
		dst = e.TargetHandle
	}
	switch {
	case src == "" && dst == "":
		return ""
	case src == "":
		return dst
	case dst == "":
		return src
	default:
		return src + " → " + dst
	}
}

// buildLevels groups nodes by longest distance from a root, preserving
// execution order within a level.
func buildLevels(plan *engine.Plan) [][]string {
	depth := make(map[string]int, len(plan.Order))
	maxDepth := 0
	for _, id := range plan.Order {
		d := 0
		for _, e := range plan.Incoming[id] {
			if depth[e.Source]+1 > d {
				d = depth[e.Source] + 1
			}
		}
		depth[id] = d
		maxDepth = max(maxDepth, d)
	}
	if len(plan.Order) == 0 {
		return nil
	}

	levels := make([][]string, maxDepth+1)
	for _, id := range plan.Order {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}
