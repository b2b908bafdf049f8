package validation

import (
	"encoding/json"
	"errors"

	"github.com/rendis/nodeflow/pkg/schema"
)

// GraphValidator runs the validation pipeline:
//  1. Structural (JSON Schema, documents only)
//  2. Semantic (ids, edge endpoints, fan-in, operations)
//  3. DAG (cycles, dead nodes)
type GraphValidator struct {
	jsonSchema *JSONSchemaValidator
	ops        OperationLookup
}

// NewGraphValidator creates a GraphValidator. lookup may be nil to skip
// operation existence checks.
func NewGraphValidator(lookup OperationLookup) (*GraphValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &GraphValidator{jsonSchema: jsv, ops: lookup}, nil
}

// Validate runs the semantic and DAG stages on a decoded graph. The DAG
// stage is skipped when semantic errors make the edges unreliable.
func (v *GraphValidator) Validate(g *schema.Graph) *schema.ValidationResult {
	if g == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "graph is nil")
		return r
	}

	result := validateSemantic(g, v.ops)
	if result.Valid() {
		result.Merge(validateDAG(g))
	}
	return result
}

// ValidateGraph satisfies Validator.
func (v *GraphValidator) ValidateGraph(g *schema.Graph) error {
	return v.Validate(g).ToError()
}

// ValidateDocument checks raw JSON structurally, decodes it and validates
// the resulting graph. The decoded graph is returned even when later
// stages only produced warnings.
func (v *GraphValidator) ValidateDocument(raw []byte) (*schema.Graph, error) {
	if err := v.jsonSchema.ValidateDocument(raw); err != nil {
		return nil, err
	}
	g, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if err := v.ValidateGraph(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Decode parses a graph document without validating it.
func Decode(raw []byte) (*schema.Graph, error) {
	var g schema.Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid graph JSON at offset %d", syntax.Offset).WithCause(err)
		}
		return nil, schema.NewError(schema.ErrCodeValidation, "invalid graph document").WithCause(err)
	}
	return &g, nil
}
