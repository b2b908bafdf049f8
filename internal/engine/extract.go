package engine

import (
	"fmt"
	"sort"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Extract resolves the value an edge delivers from a completed upstream
// output. "output", "result" and the empty handle deliver the whole value;
// any other handle selects that key from a mapping output. A source with
// no stored output (skipped or failed) delivers nil for whole-value handles.
func Extract(outputs map[string]any, source, handle string) (any, error) {
	value := outputs[source]
	if schema.IsWholeValueHandle(handle) {
		return value, nil
	}

	m, ok := asMapping(value)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExtraction,
			"cannot select %q from node %s: output is %s, not a mapping", handle, source, typeName(value)).
			WithDetails(map[string]any{"source": source, "handle": handle, "type": typeName(value)})
	}

	v, ok := m[handle]
	if !ok {
		available := sortedKeys(m)
		return nil, schema.NewErrorf(schema.ErrCodeExtraction,
			"node %s has no output %q (available: %v)", source, handle, available).
			WithDetails(map[string]any{"source": source, "handle": handle, "available": available})
	}
	return v, nil
}

func asMapping(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case schema.ExecutionResult:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
