package operations

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rendis/nodeflow/pkg/schema"
)

// The engine coerces node inputs before calling an operation, but the MCP
// tools and tests call operations with raw JSON-decoded values, so these
// accessors accept any reasonable encoding of a parameter.

func stringParam(in map[string]any, name, fallback string) string {
	switch v := in[name].(type) {
	case nil:
		return fallback
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// number widens any numeric encoding, including numeric strings, to float64.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func floatParam(in map[string]any, name string, fallback float64) float64 {
	if f, ok := number(in[name]); ok {
		return f
	}
	return fallback
}

// intParam truncates toward zero.
func intParam(in map[string]any, name string, fallback int) int {
	if f, ok := number(in[name]); ok {
		return int(f)
	}
	return fallback
}

func boolParam(in map[string]any, name string, fallback bool) bool {
	switch b := in[name].(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return fallback
}

// mapParam never returns nil so callers can range or index freely.
func mapParam(in map[string]any, name string) map[string]any {
	if m, ok := in[name].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func requireString(in map[string]any, op, name string) (string, error) {
	if s := stringParam(in, name, ""); s != "" {
		return s, nil
	}
	return "", schema.NewErrorf(schema.ErrCodeValidation, "%s: missing required param %q", op, name)
}
