package engine

import (
	"fmt"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Plan is the validated, ordered form of a Graph for one run.
type Plan struct {
	Nodes    map[string]*schema.Node  // node ID → node
	Incoming map[string][]schema.Edge // node ID → incoming edges, in graph order
	Order    []string                 // topological order
}

// BuildPlan checks the structural invariants of g and schedules it.
// Duplicate or empty IDs, dangling edges and Views with more than one input
// fail with VALIDATION_ERROR; a cycle fails with CYCLE_DETECTED.
func BuildPlan(g *schema.Graph) (*Plan, error) {
	if g == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph is nil")
	}

	plan := &Plan{
		Nodes:    make(map[string]*schema.Node, len(g.Nodes)),
		Incoming: make(map[string][]schema.Edge, len(g.Nodes)),
	}

	ids := make([]string, 0, len(g.Nodes))
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.ID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("node at index %d has empty ID", i))
		}
		if _, exists := plan.Nodes[node.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node ID: %s", node.ID)
		}
		plan.Nodes[node.ID] = node
		ids = append(ids, node.ID)
	}

	for i, edge := range g.Edges {
		if _, ok := plan.Nodes[edge.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %d references unknown source node: %s", i, edge.Source)
		}
		if _, ok := plan.Nodes[edge.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %d references unknown target node: %s", i, edge.Target)
		}
		plan.Incoming[edge.Target] = append(plan.Incoming[edge.Target], edge)
	}

	order, err := TopologicalSort(ids, g.Edges)
	if err != nil {
		return nil, err
	}
	plan.Order = order
	return plan, nil
}

// TopologicalSort orders ids so every edge's source precedes its target,
// using Kahn's algorithm. Ready nodes are processed first-in first-out,
// seeded in the order of ids, so the result is deterministic for a fixed
// input. Edges must reference known ids. A cycle yields CYCLE_DETECTED and
// no partial order.
func TopologicalSort(ids []string, edges []schema.Edge) ([]string, error) {
	inDegree := make(map[string]int, len(ids))
	successors := make(map[string][]string, len(ids))
	for _, id := range ids {
		inDegree[id] = 0
	}
	// Parallel edges count once each, so they are also released once each.
	for _, e := range edges {
		inDegree[e.Target]++
		successors[e.Source] = append(successors[e.Source], e.Target)
	}

	queue := make([]string, 0, len(ids))
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	sorted := make([]string, 0, len(ids))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		for _, next := range successors[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(sorted) != len(ids) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "graph contains a cycle").
			WithDetails(map[string]any{"nodes": len(ids), "ordered": len(sorted)})
	}
	return sorted, nil
}
