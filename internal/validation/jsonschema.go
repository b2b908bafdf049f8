package validation

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const graphSchemaURL = "https://nodeflow.dev/schemas/graph.json"

// graphSchemaJSON describes a graph document as produced by a node editor.
// Node data stays open: its keys depend on the node kind and operation.
const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://nodeflow.dev/schemas/graph.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/edge" }
    },
    "env": {
      "type": "object",
      "additionalProperties": { "type": "string" }
    }
  },
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "minLength": 1 },
        "data": { "type": "object" },
        "position": { "type": "object" }
      }
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "id": { "type": "string" },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "sourceHandle": { "type": ["string", "null"] },
        "targetHandle": { "type": ["string", "null"] }
      }
    }
  }
}`

// JSONSchemaValidator checks raw graph documents against the graph JSON
// Schema (draft 2020-12). It is safe for concurrent use.
type JSONSchemaValidator struct {
	graphSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the graph schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(graphSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal graph schema: %w", err)
	}
	if err := c.AddResource(graphSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add graph schema resource: %w", err)
	}
	compiled, err := c.Compile(graphSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}
	return &JSONSchemaValidator{graphSchema: compiled}, nil
}

// ValidateDocument validates raw JSON against the graph schema.
func (v *JSONSchemaValidator) ValidateDocument(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "graph document is empty")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "graph document is not valid JSON").WithCause(err)
	}
	if err := v.graphSchema.Validate(doc); err != nil {
		return toSchemaError(err)
	}
	return nil
}

// toSchemaError flattens a jsonschema.ValidationError into a *schema.Error
// listing every leaf violation with its instance location.
func toSchemaError(err error) *schema.Error {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	msg := violations[0]
	if len(violations) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(violations))
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
