package validation

import (
	"fmt"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/pkg/schema"
)

// validateDAG runs the engine's scheduler over the graph to detect cycles,
// then warns about nodes whose output never reaches a View node.
func validateDAG(g *schema.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		ids[i] = n.ID
	}
	if _, err := engine.TopologicalSort(ids, g.Edges); err != nil {
		serr := schema.AsError(err, schema.ErrCodeCycleDetected)
		result.AddError("edges", serr.Code, serr.Message)
		return result
	}

	// Walk backwards from the sinks; anything not visited is computed for nothing.
	reverse := make(map[string][]string, len(g.Nodes))
	for _, e := range g.Edges {
		reverse[e.Target] = append(reverse[e.Target], e.Source)
	}
	feeds := make(map[string]bool, len(g.Nodes))
	var queue []string
	for _, n := range g.Nodes {
		if n.Kind == schema.NodeKindView {
			feeds[n.ID] = true
			queue = append(queue, n.ID)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, src := range reverse[id] {
			if !feeds[src] {
				feeds[src] = true
				queue = append(queue, src)
			}
		}
	}

	for i, n := range g.Nodes {
		if !feeds[n.ID] {
			result.AddWarning(fmt.Sprintf("nodes[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("output of node %q does not reach any view node", n.ID))
		}
	}
	return result
}
