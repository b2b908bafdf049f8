package schema

import (
	"encoding/json"
	"maps"
	"math"
	"slices"
)

// JSON has no literal for NaN or the infinities. Node values carry them as
// the strings "NaN", "Infinity" and "-Infinity" on the wire.

// MarshalJSON encodes the results with non-finite floats spelled as strings.
func (r ExecutionResult) MarshalJSON() ([]byte, error) {
	v, _ := finiteJSON(map[string]any(r))
	return json.Marshal(v)
}

// MarshalJSON encodes the event with non-finite floats in Inputs and Output
// spelled as strings. A non-finite progress fraction is dropped.
func (e StatusEvent) MarshalJSON() ([]byte, error) {
	type wire StatusEvent
	w := wire(e)
	if v, changed := finiteJSON(map[string]any(w.Inputs)); changed {
		w.Inputs = v.(map[string]any)
	}
	w.Output, _ = finiteJSON(w.Output)
	if math.IsNaN(w.Fraction) || math.IsInf(w.Fraction, 0) {
		w.Fraction = 0
	}
	return json.Marshal(w)
}

// finiteJSON replaces non-finite floats inside v. It copies only the
// containers it has to change and reports whether anything changed.
func finiteJSON(v any) (any, bool) {
	switch x := v.(type) {
	case float64:
		return nonFinite(x)
	case float32:
		if s, changed := nonFinite(float64(x)); changed {
			return s, true
		}
	case []float64:
		if slices.ContainsFunc(x, func(f float64) bool { return math.IsNaN(f) || math.IsInf(f, 0) }) {
			out := make([]any, len(x))
			for i, f := range x {
				out[i], _ = nonFinite(f)
			}
			return out, true
		}
	case map[string]any:
		var out map[string]any
		for k, e := range x {
			if s, changed := finiteJSON(e); changed {
				if out == nil {
					out = maps.Clone(x)
				}
				out[k] = s
			}
		}
		if out != nil {
			return out, true
		}
	case ExecutionResult:
		return finiteJSON(map[string]any(x))
	case []any:
		var out []any
		for i, e := range x {
			if s, changed := finiteJSON(e); changed {
				if out == nil {
					out = slices.Clone(x)
				}
				out[i] = s
			}
		}
		if out != nil {
			return out, true
		}
	}
	return v, false
}

func nonFinite(f float64) (any, bool) {
	switch {
	case math.IsNaN(f):
		return "NaN", true
	case math.IsInf(f, 1):
		return "Infinity", true
	case math.IsInf(f, -1):
		return "-Infinity", true
	}
	return f, false
}
