package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rendis/nodeflow/pkg/schema"
)

const (
	boxGap       = "  "
	maxErrorText = 32
)

var statusTags = map[schema.NodeStatus]string{
	schema.NodeStatusCompleted: "[OK]",
	schema.NodeStatusError:     "[FAIL]",
	schema.NodeStatusExecuting: "[RUN]",
	schema.NodeStatusSkipped:   "[SKIP]",
}

// RenderASCII draws one row of boxes per dependency level, top to bottom,
// then lists every edge with its handle label. It is meant for terminals
// without a Mermaid renderer.
func RenderASCII(model *Model) string {
	var b strings.Builder
	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	byID := make(map[string]*Node, len(model.Nodes))
	for _, n := range model.Nodes {
		byID[n.ID] = n
	}

	for i, level := range model.Levels {
		var row []box
		for _, id := range level {
			if n, ok := byID[id]; ok {
				row = append(row, newBox(n))
			}
		}
		if len(row) == 0 {
			continue
		}
		if i > 0 {
			b.WriteString("       │\n       ▼\n")
		}
		writeRow(&b, row)
	}

	if len(model.Edges) > 0 {
		b.WriteString("\nedges:\n")
		for _, e := range model.Edges {
			b.WriteString("  " + e.From + " ─→ " + e.To)
			if e.Label != "" {
				b.WriteString(" [" + e.Label + "]")
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// box is a bordered block of text lines, all padded to the same width.
type box []string

func newBox(n *Node) box {
	content := strings.Split(n.Label, "\n")
	if st := n.Status; st != nil {
		if tag, ok := statusTags[st.Status]; ok {
			content = append(content, tag)
		}
		if st.DurationMs > 0 {
			content = append(content, fmt.Sprintf("%dms", st.DurationMs))
		}
		if st.Error != "" {
			content = append(content, "! "+clip(st.Error, maxErrorText))
		}
	}

	inner := 0
	for _, line := range content {
		inner = max(inner, utf8.RuneCountInString(line))
	}
	rule := strings.Repeat("─", inner+2)

	b := make(box, 0, len(content)+2)
	b = append(b, "┌"+rule+"┐")
	for _, line := range content {
		b = append(b, "│ "+line+strings.Repeat(" ", inner-utf8.RuneCountInString(line))+" │")
	}
	return append(b, "└"+rule+"┘")
}

func (b box) width() int { return utf8.RuneCountInString(b[0]) }

// writeRow lays boxes side by side, padding shorter boxes with blanks.
func writeRow(w *strings.Builder, row []box) {
	height := 0
	for _, b := range row {
		height = max(height, len(b))
	}
	for line := range height {
		parts := make([]string, len(row))
		for i, b := range row {
			if line < len(b) {
				parts[i] = b[line]
			} else {
				parts[i] = strings.Repeat(" ", b.width())
			}
		}
		w.WriteString(strings.TrimRight(strings.Join(parts, boxGap), " "))
		w.WriteByte('\n')
	}
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
