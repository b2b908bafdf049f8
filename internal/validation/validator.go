package validation

import "github.com/rendis/nodeflow/pkg/schema"

// Validator checks graphs before they reach the engine. The engine enforces
// the structural invariants again on its own, so validation only makes
// failures earlier and more descriptive.
type Validator interface {
	ValidateDocument(raw []byte) (*schema.Graph, error)
	ValidateGraph(g *schema.Graph) error
}

// OperationLookup reports whether an operation name is registered.
type OperationLookup interface {
	Has(name string) bool
}
