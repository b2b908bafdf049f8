// Package expressions hosts the expression languages exposed as operations:
// Expr for general logic, jq for reshaping JSON values and CEL for
// boolean checks.
package expressions

import (
	"context"
	"sync"
)

// Engine evaluates a single expression against a data mapping.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// programCache memoizes compiled programs by expression text.
// Compiled programs are safe for concurrent use in all three engines.
type programCache[P any] struct {
	mu    sync.RWMutex
	items map[string]P
}

func newProgramCache[P any]() *programCache[P] {
	return &programCache[P]{items: make(map[string]P)}
}

func (c *programCache[P]) get(expression string, compile func() (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.items[expression]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.items[expression]; ok {
		return p, nil
	}
	p, err := compile()
	if err != nil {
		var zero P
		return zero, err
	}
	c.items[expression] = p
	return p, nil
}

func (c *programCache[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
