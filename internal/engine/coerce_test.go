package engine

import (
	"encoding/json"
	"testing"

	"github.com/rendis/nodeflow/internal/operations"
	"github.com/stretchr/testify/assert"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		in   any
		typ  operations.ParamType
		want any
		ok   bool
	}{
		{"float from int", 5, operations.TypeFloat, 5.0, true},
		{"float from string", " 2.5 ", operations.TypeFloat, 2.5, true},
		{"float from bool", true, operations.TypeFloat, 1.0, true},
		{"float from json number", json.Number("4"), operations.TypeFloat, 4.0, true},
		{"float keeps float", 1.25, operations.TypeFloat, 1.25, true},
		{"float fallback", "abc", operations.TypeFloat, "abc", false},
		{"float fallback nil", nil, operations.TypeFloat, nil, false},

		{"int from float truncates", 3.9, operations.TypeInt, 3, true},
		{"int from negative float", -3.9, operations.TypeInt, -3, true},
		{"int from string", "42", operations.TypeInt, 42, true},
		{"int keeps bool", true, operations.TypeInt, true, true},
		{"int fallback", "4.5", operations.TypeInt, "4.5", false},

		{"str from float", 8.0, operations.TypeString, "8", true},
		{"str from fraction", 0.5, operations.TypeString, "0.5", true},
		{"str from int", 7, operations.TypeString, "7", true},
		{"str from bool", false, operations.TypeString, "false", true},
		{"str from map", map[string]any{"a": 1.0}, operations.TypeString, `{"a":1}`, true},
		{"str from list", []any{"x", 2.0}, operations.TypeString, `["x",2]`, true},
		{"str from nil", nil, operations.TypeString, "", true},

		{"bool from zero", 0.0, operations.TypeBool, false, true},
		{"bool from number", 2, operations.TypeBool, true, true},
		{"bool from empty string", "", operations.TypeBool, false, true},
		{"bool from text", "no", operations.TypeBool, true, true},
		{"bool from empty list", []any{}, operations.TypeBool, false, true},

		{"any unchanged", []any{1}, operations.TypeAny, []any{1}, true},
		{"dict unchanged", "x", operations.TypeDict, "x", true},
		{"undeclared unchanged", 1, "", 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Coerce(tt.in, tt.typ)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(map[string]any{}))
	assert.True(t, Truthy(map[string]any{"a": nil}))
	assert.False(t, Truthy(uint8(0)))
	assert.True(t, Truthy(struct{}{}))
}
