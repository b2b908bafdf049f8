package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
)

// RenderMermaid renders a Model as a Mermaid flowchart.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph LR\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%q|", edge.Label)
		}
		fmt.Fprintf(&b, "    %s -->%s %s\n", mermaidSafeID(edge.From), label, mermaidSafeID(edge.To))
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef error fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef executing fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		if node.Status == nil {
			continue
		}
		if cls := mermaidStatusClass(node.Status.Status); cls != "" {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(node.ID), cls)
		}
	}

	return b.String()
}

// mermaidNodeDef returns a node definition whose shape reflects its kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := strings.ReplaceAll(node.Label, "\n", " ")

	switch node.Kind {
	case schema.NodeKindVariable:
		return fmt.Sprintf("%s([%q])", id, label)
	case schema.NodeKindView:
		return fmt.Sprintf("%s[/%q/]", id, label)
	case schema.NodeKindList:
		return fmt.Sprintf("%s[[%q]]", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

func mermaidStatusClass(status schema.NodeStatus) string {
	switch status {
	case schema.NodeStatusCompleted:
		return "completed"
	case schema.NodeStatusError:
		return "error"
	case schema.NodeStatusExecuting:
		return "executing"
	case schema.NodeStatusSkipped:
		return "skipped"
	default:
		return ""
	}
}
