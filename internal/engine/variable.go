package engine

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Variable node config keys.
const (
	varValue         = "value"
	varType          = "variableType"
	varAsMessage     = "formatAsMessage"
	varMessageRole   = "messageRole"
	varAsContent     = "formatAsContent"
	varContentType   = "contentType"
	defaultRole      = "user"
	defaultContent   = "text"
	imageContentType = "image"
)

// VariableValue converts a Variable node's literal into its declared type
// and applies the optional message or content wrapping.
func VariableValue(config map[string]any) any {
	literal := config[varValue]
	kind := strings.ToLower(strings.TrimSpace(Stringify(config[varType])))

	var value any
	switch kind {
	case "number":
		return variableNumber(literal)
	case "boolean", "bool":
		return variableBoolean(literal)
	case "list", "array":
		return variableList(literal)
	case "object", "dict":
		return variableObject(literal)
	default:
		// String, Image (an opaque reference such as a data URL) and unknown types.
		value = Stringify(literal)
	}

	// Message wrapping wins when both flags are set.
	switch {
	case flag(config[varAsMessage]):
		role := Stringify(config[varMessageRole])
		if role == "" {
			role = defaultRole
		}
		return map[string]any{"role": role, "content": value}
	case flag(config[varAsContent]):
		ct := Stringify(config[varContentType])
		if ct == "" {
			ct = defaultContent
			if kind == "image" {
				ct = imageContentType
			}
		}
		return map[string]any{"type": ct, "content": value}
	}
	return value
}

// maxExactInt bounds the integers a float64 holds exactly.
const maxExactInt = 1 << 53

// variableNumber keeps numeric literals and parses text: an embedded "."
// means float, otherwise integer. JSON decoding turns every literal into
// float64, so integral values within the exact range come back as int.
// Unparseable text becomes 0.
func variableNumber(literal any) any {
	switch n := literal.(type) {
	case float64:
		if n == math.Trunc(n) && math.Abs(n) <= maxExactInt {
			return int(n)
		}
		return n
	case int, int64:
		return n
	case json.Number:
		literal = n.String()
	}

	s := strings.TrimSpace(Stringify(literal))
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return 0
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(i)
	}
	return 0
}

func variableBoolean(literal any) bool {
	if s, ok := literal.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes":
			return true
		}
		return false
	}
	return Truthy(literal)
}

func variableList(literal any) []any {
	switch l := literal.(type) {
	case []any:
		return l
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	}
	return []any{}
}

// variableObject accepts a mapping, or text holding a JSON object. Text that
// is not valid JSON is repaired first (single quotes, trailing commas, ...).
func variableObject(literal any) map[string]any {
	switch o := literal.(type) {
	case map[string]any:
		return o
	case string:
		if m, ok := parseObject(o); ok {
			return m
		}
		if repaired, err := jsonrepair.JSONRepair(o); err == nil {
			if m, ok := parseObject(repaired); ok {
				return m
			}
		}
	}
	return map[string]any{}
}

func parseObject(s string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// flag reads a boolean config flag that may arrive as text.
func flag(v any) bool {
	if s, ok := v.(string); ok {
		return variableBoolean(s)
	}
	return Truthy(v)
}
