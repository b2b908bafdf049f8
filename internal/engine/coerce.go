package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/rendis/nodeflow/internal/operations"
)

// Coerce converts v to the declared type when an obvious conversion exists.
// It never fails: when no conversion applies, v is returned unchanged and
// ok is false so the caller can log the mismatch.
func Coerce(v any, t operations.ParamType) (out any, ok bool) {
	switch t {
	case operations.TypeFloat:
		return toFloat(v)
	case operations.TypeInt:
		return toInt(v)
	case operations.TypeString:
		return Stringify(v), true
	case operations.TypeBool:
		if b, isBool := v.(bool); isBool {
			return b, true
		}
		return Truthy(v), true
	default:
		return v, true
	}
}

func toFloat(v any) (any, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	case bool:
		if n {
			return 1.0, true
		}
		return 0.0, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f, true
		}
	}
	return v, false
}

// toInt leaves ints and bools alone and truncates floats toward zero.
func toInt(v any) (any, bool) {
	switch n := v.(type) {
	case int, bool:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, true
		}
	}
	return v, false
}

// Stringify renders v as text: floats in their shortest form, mappings and
// sequences as JSON, nil as the empty string.
func Stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(s)
	case []byte:
		return string(s)
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}

// Truthy reports the generic truth value of v: zero numbers, empty strings,
// empty collections and nil are false.
func Truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		return b != ""
	case float64:
		return b != 0
	case int:
		return b != 0
	case int64:
		return b != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
