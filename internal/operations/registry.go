package operations

import (
	"sort"
	"sync"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Registry is the concrete thread-safe OperationRegistry implementation.
// It is populated once at process start and read by every run.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		ops: make(map[string]Operation),
	}
}

// Register adds an operation. It rejects nil operations, empty names,
// duplicates, and operations whose Kind disagrees with the interface they implement.
func (r *Registry) Register(op Operation) error {
	if op == nil {
		return schema.NewError(schema.ErrCodeValidation, "operation is nil")
	}
	name := op.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "operation name is empty")
	}
	if err := checkKind(op); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "operation %q already registered", name)
	}
	r.ops[name] = op
	return nil
}

func checkKind(op Operation) error {
	var ok bool
	switch op.Kind() {
	case KindPure:
		_, ok = op.(Pure)
	case KindProgressive:
		_, ok = op.(Progressive)
	case KindStreaming:
		_, ok = op.(Streaming)
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "operation %q has unknown kind %q", op.Name(), op.Kind())
	}
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "operation %q declares kind %q but does not implement it", op.Name(), op.Kind())
	}
	return nil
}

// Lookup retrieves an operation by name.
func (r *Registry) Lookup(name string) (Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.ops[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeMissingOperation, "operation %q not registered", name)
	}
	return op, nil
}

// List returns palette info for all registered operations, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.ops))
	for _, op := range r.ops {
		infos = append(infos, Info{Name: op.Name(), Kind: op.Kind(), Spec: op.Spec()})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Has checks if an operation is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ops[name]
	return ok
}

// Count returns the number of registered operations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}
