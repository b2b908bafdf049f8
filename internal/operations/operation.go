package operations

import (
	"context"
)

// Kind tells the engine how an operation is driven.
type Kind string

const (
	// KindPure operations are stateless and called synchronously.
	KindPure Kind = "pure"
	// KindProgressive operations report fractional progress while running.
	KindProgressive Kind = "progressive"
	// KindStreaming operations emit incremental text chunks while running.
	KindStreaming Kind = "streaming"
)

// ParamType is the declared type of a parameter or return value.
type ParamType string

const (
	TypeAny    ParamType = "any"
	TypeFloat  ParamType = "float"
	TypeInt    ParamType = "int"
	TypeString ParamType = "str"
	TypeBool   ParamType = "bool"
	TypeList   ParamType = "list"
	TypeDict   ParamType = "dict"
)

// Param declares one named input of an operation.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
}

// Spec describes an operation's contract. Outputs lists the keys of a
// multi-output return value; it is empty for single-output operations.
type Spec struct {
	Description string    `json:"description,omitempty"`
	Params      []Param   `json:"params"`
	Returns     ParamType `json:"returns"`
	Outputs     []string  `json:"outputs,omitempty"`
}

// ParamNames returns the declared parameter names in declaration order.
func (s Spec) ParamNames() []string {
	names := make([]string, len(s.Params))
	for i, p := range s.Params {
		names[i] = p.Name
	}
	return names
}

// ParamTypes returns the declared parameter types keyed by name.
func (s Spec) ParamTypes() map[string]ParamType {
	types := make(map[string]ParamType, len(s.Params))
	for _, p := range s.Params {
		types[p.Name] = p.Type
	}
	return types
}

// Declares reports whether name is a declared parameter.
func (s Spec) Declares(name string) bool {
	for _, p := range s.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Operation is a named unit of computation a Function node can invoke.
// Every Operation also implements exactly one of Pure, Progressive or
// Streaming, matching its Kind.
type Operation interface {
	Name() string
	Kind() Kind
	Spec() Spec
}

// Pure is a stateless operation.
type Pure interface {
	Operation
	Call(ctx context.Context, in map[string]any) (any, error)
}

// ProgressFunc receives progress reports from a running task.
type ProgressFunc func(fraction float64, message string)

// ChunkFunc receives text chunks from a running task.
type ChunkFunc func(chunk string)

// ProgressTask is one stateful execution of a progressive operation.
type ProgressTask interface {
	Run(ctx context.Context, in map[string]any, report ProgressFunc) (any, error)
}

// StreamTask is one stateful execution of a streaming operation.
type StreamTask interface {
	Run(ctx context.Context, in map[string]any, emit ChunkFunc) (any, error)
}

// Progressive constructs a fresh ProgressTask per node execution.
type Progressive interface {
	Operation
	NewTask() ProgressTask
}

// Streaming constructs a fresh StreamTask per node execution.
type Streaming interface {
	Operation
	NewTask() StreamTask
}

// Lookup resolves operation names. The engine depends only on this.
type Lookup interface {
	Lookup(name string) (Operation, error)
}

// OperationRegistry manages the set of available operations.
type OperationRegistry interface {
	Lookup
	Register(op Operation) error
	List() []Info
}

// Info is a palette entry for a registered operation.
type Info struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	Spec
}

// --- adapters ---

// PureFunc adapts a function into a Pure operation.
type PureFunc func(ctx context.Context, in map[string]any) (any, error)

// ProgressTaskFunc adapts a function into a ProgressTask.
type ProgressTaskFunc func(ctx context.Context, in map[string]any, report ProgressFunc) (any, error)

func (f ProgressTaskFunc) Run(ctx context.Context, in map[string]any, report ProgressFunc) (any, error) {
	return f(ctx, in, report)
}

// StreamTaskFunc adapts a function into a StreamTask.
type StreamTaskFunc func(ctx context.Context, in map[string]any, emit ChunkFunc) (any, error)

func (f StreamTaskFunc) Run(ctx context.Context, in map[string]any, emit ChunkFunc) (any, error) {
	return f(ctx, in, emit)
}

type base struct {
	name string
	spec Spec
}

func (b base) Name() string { return b.name }
func (b base) Spec() Spec   { return b.spec }

type pureOp struct {
	base
	fn PureFunc
}

// NewPure builds a Pure operation from fn.
func NewPure(name string, spec Spec, fn PureFunc) Pure {
	return &pureOp{base: base{name: name, spec: spec}, fn: fn}
}

func (o *pureOp) Kind() Kind { return KindPure }

func (o *pureOp) Call(ctx context.Context, in map[string]any) (any, error) {
	return o.fn(ctx, in)
}

type progressiveOp struct {
	base
	factory func() ProgressTask
}

// NewProgressive builds a Progressive operation whose tasks come from factory.
func NewProgressive(name string, spec Spec, factory func() ProgressTask) Progressive {
	return &progressiveOp{base: base{name: name, spec: spec}, factory: factory}
}

func (o *progressiveOp) Kind() Kind            { return KindProgressive }
func (o *progressiveOp) NewTask() ProgressTask { return o.factory() }

type streamingOp struct {
	base
	factory func() StreamTask
}

// NewStreaming builds a Streaming operation whose tasks come from factory.
func NewStreaming(name string, spec Spec, factory func() StreamTask) Streaming {
	return &streamingOp{base: base{name: name, spec: spec}, factory: factory}
}

func (o *streamingOp) Kind() Kind          { return KindStreaming }
func (o *streamingOp) NewTask() StreamTask { return o.factory() }
