package validation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
)

// validateSemantic checks the rules a schema cannot express: unique node
// ids, edge endpoints, View fan-in, function operations and List handles.
// lookup may be nil to skip operation checks.
func validateSemantic(g *schema.Graph, lookup OperationLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	kinds := make(map[string]schema.NodeKind, len(g.Nodes))
	for i, n := range g.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if n.ID == "" {
			result.AddError(path+".id", schema.ErrCodeValidation, "node id is empty")
			continue
		}
		if _, dup := kinds[n.ID]; dup {
			result.AddError(path+".id", schema.ErrCodeValidation, fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		kinds[n.ID] = n.Kind
		validateNode(&n, path, lookup, result)
	}

	incoming := make(map[string]int, len(g.Nodes))
	for i, e := range g.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if _, ok := kinds[e.Source]; !ok {
			result.AddError(path+".source", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.Source))
		}
		kind, ok := kinds[e.Target]
		if !ok {
			result.AddError(path+".target", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.Target))
			continue
		}
		incoming[e.Target]++

		if kind == schema.NodeKindList && !validListHandle(e.TargetHandle) {
			result.AddWarning(path+".targetHandle", schema.ErrCodeValidation,
				fmt.Sprintf("list handle %q is not of the form %s<k>; it sorts as index 0", e.TargetHandle, schema.ListInputPrefix))
		}
	}

	for i, n := range g.Nodes {
		if n.Kind == schema.NodeKindView && incoming[n.ID] > 1 {
			result.AddError(fmt.Sprintf("nodes[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("view node %q has %d incoming edges; at most one is allowed", n.ID, incoming[n.ID]))
		}
	}

	return result
}

func validateNode(n *schema.Node, path string, lookup OperationLookup, result *schema.ValidationResult) {
	switch n.Kind {
	case schema.NodeKindFunction:
		op, _ := n.Config["operation"].(string)
		op = strings.TrimSpace(op)
		switch {
		case op == "":
			result.AddWarning(path+".data.operation", schema.ErrCodeMissingOperation,
				"function node has no operation and will be skipped")
		case lookup != nil && !lookup.Has(op):
			result.AddWarning(path+".data.operation", schema.ErrCodeMissingOperation,
				fmt.Sprintf("operation %q not registered; the node will be skipped", op))
		}
	case schema.NodeKindView, schema.NodeKindVariable, schema.NodeKindList:
	default:
		result.AddWarning(path+".type", schema.ErrCodeValidation,
			fmt.Sprintf("unknown node type %q; the node will be skipped", n.Kind))
	}
}

func validListHandle(handle string) bool {
	rest, ok := strings.CutPrefix(handle, schema.ListInputPrefix)
	if !ok {
		return false
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}
