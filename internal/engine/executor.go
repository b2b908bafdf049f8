package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/environ"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/operations"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Config tunes an Engine.
type Config struct {
	// PoolSize bounds concurrent bridge workers across all runs.
	PoolSize int
	// EventBuffer is the capacity of each bridge's event queue.
	EventBuffer int
	// ProcessEnv also writes each run's environment overrides into the
	// process environment for the duration of the run. Runs that do so
	// are serialized.
	ProcessEnv bool
}

const (
	defaultPoolSize    = 8
	defaultEventBuffer = 64
)

// Engine executes graphs. It is safe for concurrent use; every run builds
// its own state and nothing is shared between runs except the worker pool.
type Engine struct {
	ops    operations.Lookup
	cfg    Config
	logger *slog.Logger
	pool   *WorkerPool
}

// New creates an Engine resolving Function nodes through ops.
func New(ops operations.Lookup, cfg Config, logger *slog.Logger) *Engine {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		ops:    ops,
		cfg:    cfg,
		logger: logger,
		pool:   NewWorkerPool(cfg.PoolSize),
	}
}

// Close waits for running workers and rejects further stateful nodes.
func (e *Engine) Close() {
	e.pool.Shutdown()
}

// PoolMetrics reports bridge worker metrics.
func (e *Engine) PoolMetrics() PoolMetrics {
	return e.pool.Metrics()
}

// errConsumerStopped ends a run whose stream consumer stopped iterating.
var errConsumerStopped = errors.New("event consumer stopped")

// RunOption customizes a single run.
type RunOption func(*runOptions)

type runOptions struct {
	runID    string
	observer func(schema.StatusEvent)
}

// WithRunID sets the run ID instead of generating one.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// WithObserver receives every event of the run, in either mode, before the
// caller does.
func WithObserver(fn func(schema.StatusEvent)) RunOption {
	return func(o *runOptions) { o.observer = fn }
}

func buildOptions(opts []RunOption) runOptions {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	return o
}

// Execute runs g to completion and returns the value of every View node.
// Node failures are reported through events and leave the node's output nil;
// only run-level failures (validation, cycle, cancellation) return an error.
func (e *Engine) Execute(ctx context.Context, g *schema.Graph, opts ...RunOption) (schema.ExecutionResult, error) {
	o := buildOptions(opts)
	return e.run(ctx, o, g, func(schema.StatusEvent) bool { return true })
}

// runState is the per-run mutable state. It never outlives the run.
type runState struct {
	plan    *Plan
	outputs map[string]any
	results schema.ExecutionResult
	fsm     *NodeFSM
}

// summary counts nodes per final state; nodes that never reached a
// terminal state are reported as pending.
func (st *runState) summary() slog.Attr {
	counts := make(map[schema.NodeStatus]int)
	for _, status := range st.fsm.Snapshot() {
		if !IsTerminal(status) {
			status = "pending"
		}
		counts[status]++
	}
	attrs := make([]any, 0, len(counts))
	for status, n := range counts {
		attrs = append(attrs, slog.Int(string(status), n))
	}
	return slog.Group("nodes", attrs...)
}

// run drives one execution. emit returning false stops the run with
// errConsumerStopped.
func (e *Engine) run(ctx context.Context, o runOptions, g *schema.Graph, emit func(schema.StatusEvent) bool) (schema.ExecutionResult, error) {
	ctx = logging.WithRunID(ctx, o.runID)
	send := func(ev schema.StatusEvent) bool {
		ev.RunID = o.runID
		if o.observer != nil {
			o.observer(ev)
		}
		return emit(ev)
	}
	fail := func(err error) (schema.ExecutionResult, error) {
		e.logger.WarnContext(ctx, "run failed", slog.String("error", err.Error()))
		send(schema.ErrorEvent("", err))
		return nil, err
	}

	var env map[string]string
	if g != nil {
		env = g.Env
	}
	ctx = environ.WithScope(ctx, environ.NewScope(env))
	if e.cfg.ProcessEnv && len(env) > 0 {
		restore, err := environ.ApplyProcess(env)
		if err != nil {
			return fail(schema.NewError(schema.ErrCodeExecution, "apply environment overrides").WithCause(err))
		}
		defer restore()
	}

	plan, err := BuildPlan(g)
	if err != nil {
		return fail(err)
	}

	start := time.Now()
	e.logger.InfoContext(ctx, "run started",
		slog.Int("nodes", len(plan.Order)), slog.Int("edges", len(g.Edges)), slog.Int("env", len(env)))

	st := &runState{
		plan:    plan,
		outputs: make(map[string]any, len(plan.Order)),
		results: schema.ExecutionResult{},
		fsm:     NewNodeFSM(plan.Order),
	}
	st.fsm.OnTransition(func(id string, from, to schema.NodeStatus) {
		e.logger.DebugContext(ctx, "node transition",
			slog.String("node_id", id), slog.String("from", string(from)), slog.String("to", string(to)))
	})

	for _, id := range plan.Order {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(ctxErr))
		}
		if !e.dispatch(ctx, st, plan.Nodes[id], send) {
			e.logger.InfoContext(ctx, "run abandoned by consumer", slog.String("node_id", id), st.summary())
			return nil, errConsumerStopped
		}
	}

	e.logger.InfoContext(ctx, "run completed",
		slog.Int("results", len(st.results)), slog.Duration("duration", time.Since(start)), st.summary())
	send(schema.DoneEvent(st.results))
	return st.results, nil
}

// dispatch executes one node and reports whether the run should continue.
func (e *Engine) dispatch(ctx context.Context, st *runState, node *schema.Node, emit func(schema.StatusEvent) bool) bool {
	ctx = logging.WithNodeID(ctx, node.ID)

	switch node.Kind {
	case schema.NodeKindFunction:
		return e.runFunction(ctx, st, node, emit)
	case schema.NodeKindView:
		return e.runView(ctx, st, node, emit)
	case schema.NodeKindVariable:
		return e.complete(ctx, st, node.ID, nil, VariableValue(node.Config), emit)
	case schema.NodeKindList:
		return e.runList(ctx, st, node, emit)
	default:
		e.logger.WarnContext(ctx, "skipping node of unknown kind", slog.String("kind", string(node.Kind)))
		e.transition(ctx, st, node.ID, schema.NodeStatusSkipped)
		return true
	}
}

func (e *Engine) runFunction(ctx context.Context, st *runState, node *schema.Node, emit func(schema.StatusEvent) bool) bool {
	name := configString(node.Config, "operation")
	if name == "" {
		e.logger.WarnContext(ctx, "skipping function node without operation")
		e.transition(ctx, st, node.ID, schema.NodeStatusSkipped)
		return true
	}
	ctx = logging.WithOperation(ctx, name)

	op, err := e.ops.Lookup(name)
	if err != nil {
		e.logger.WarnContext(ctx, "skipping node with unregistered operation", slog.String("error", err.Error()))
		e.transition(ctx, st, node.ID, schema.NodeStatusSkipped)
		return true
	}

	spec := op.Spec()
	inputs, err := functionInputs(node, spec, st)
	if err != nil {
		return e.nodeFailed(ctx, st, node.ID, err, emit)
	}
	types := spec.ParamTypes()
	for k, v := range inputs {
		coerced, ok := Coerce(v, types[k])
		if !ok {
			e.logger.DebugContext(ctx, "input left uncoerced",
				slog.String("param", k), slog.String("type", string(types[k])), slog.String("value_type", typeName(v)))
		}
		inputs[k] = coerced
	}

	if !e.start(ctx, st, node.ID, inputs, emit) {
		return false
	}

	var out any
	switch op.Kind() {
	case operations.KindPure:
		out, err = callPure(ctx, op.(operations.Pure), inputs)
	default:
		out, err = e.bridge(ctx, node.ID, op, inputs, emit)
		if errors.Is(err, errConsumerStopped) {
			return false
		}
	}
	if err != nil {
		return e.nodeFailed(ctx, st, node.ID, err, emit)
	}
	st.outputs[node.ID] = out
	e.transition(ctx, st, node.ID, schema.NodeStatusCompleted)
	return emit(schema.CompletedEvent(node.ID, out))
}

func callPure(ctx context.Context, op operations.Pure, in map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, panicError(r)
		}
	}()
	return op.Call(ctx, in)
}

// functionInputs starts from the config defaults of declared parameters and
// overlays values arriving on edges that target a declared parameter.
func functionInputs(node *schema.Node, spec operations.Spec, st *runState) (map[string]any, error) {
	inputs := make(map[string]any, len(spec.Params))
	params, _ := node.Config["params"].(map[string]any)
	for _, p := range spec.Params {
		if v, ok := params[p.Name]; ok {
			inputs[p.Name] = v
		} else if v, ok := node.Config[p.Name]; ok {
			inputs[p.Name] = v
		}
	}

	for _, edge := range st.plan.Incoming[node.ID] {
		if !spec.Declares(edge.TargetHandle) {
			continue
		}
		v, err := Extract(st.outputs, edge.Source, edge.SourceHandle)
		if err != nil {
			return nil, err
		}
		inputs[edge.TargetHandle] = v
	}
	return inputs, nil
}

// runView records a sink's single input, or its configured default when
// unconnected, as both its output and its result entry. Extra inputs are
// ignored; the validator rejects them before a graph gets here.
func (e *Engine) runView(ctx context.Context, st *runState, node *schema.Node, emit func(schema.StatusEvent) bool) bool {
	var value any
	if edges := st.plan.Incoming[node.ID]; len(edges) > 0 {
		if len(edges) > 1 {
			e.logger.WarnContext(ctx, "view has several inputs, using the first",
				slog.Int("inputs", len(edges)), slog.String("source", edges[0].Source))
		}
		v, err := Extract(st.outputs, edges[0].Source, edges[0].SourceHandle)
		if err != nil {
			st.results[node.ID] = nil
			return e.nodeFailed(ctx, st, node.ID, err, emit)
		}
		value = v
	} else if v, ok := node.Config["default"]; ok {
		value = v
	} else {
		value = node.Config["value"]
	}

	st.results[node.ID] = value
	return e.complete(ctx, st, node.ID, map[string]any{"input": value}, value, emit)
}

// runList collects incoming values ordered by the index in each target
// handle ("input-<k>"); unparseable indexes count as 0.
func (e *Engine) runList(ctx context.Context, st *runState, node *schema.Node, emit func(schema.StatusEvent) bool) bool {
	edges := append([]schema.Edge(nil), st.plan.Incoming[node.ID]...)
	sort.SliceStable(edges, func(i, j int) bool {
		return listIndex(edges[i].TargetHandle) < listIndex(edges[j].TargetHandle)
	})

	items := make([]any, 0, len(edges))
	for _, edge := range edges {
		v, err := Extract(st.outputs, edge.Source, edge.SourceHandle)
		if err != nil {
			return e.nodeFailed(ctx, st, node.ID, err, emit)
		}
		items = append(items, v)
	}
	return e.complete(ctx, st, node.ID, nil, items, emit)
}

func listIndex(handle string) int {
	rest, ok := strings.CutPrefix(handle, schema.ListInputPrefix)
	if !ok {
		return 0
	}
	i, err := strconv.Atoi(rest)
	if err != nil {
		return 0
	}
	return i
}

// start moves a node to Executing and announces it.
func (e *Engine) start(ctx context.Context, st *runState, id string, inputs map[string]any, emit func(schema.StatusEvent) bool) bool {
	e.transition(ctx, st, id, schema.NodeStatusExecuting)
	e.logger.DebugContext(ctx, "node executing")
	return emit(schema.ExecutingEvent(id, inputs))
}

// complete runs the Executing → Completed sequence for nodes without work.
func (e *Engine) complete(ctx context.Context, st *runState, id string, inputs map[string]any, out any, emit func(schema.StatusEvent) bool) bool {
	if !e.start(ctx, st, id, inputs, emit) {
		return false
	}
	st.outputs[id] = out
	e.transition(ctx, st, id, schema.NodeStatusCompleted)
	return emit(schema.CompletedEvent(id, out))
}

// nodeFailed records a nil output and reports the failure; the run continues.
func (e *Engine) nodeFailed(ctx context.Context, st *runState, id string, err error, emit func(schema.StatusEvent) bool) bool {
	nerr := nodeError(id, err)
	e.logger.WarnContext(ctx, "node failed", slog.String("code", nerr.Code), slog.String("error", nerr.Message))
	st.outputs[id] = nil
	e.transition(ctx, st, id, schema.NodeStatusError)
	return emit(schema.ErrorEvent(id, nerr))
}

func (e *Engine) transition(ctx context.Context, st *runState, id string, to schema.NodeStatus) {
	if err := st.fsm.Transition(id, to); err != nil {
		e.logger.ErrorContext(ctx, "node state", slog.String("error", err.Error()))
	}
}

// nodeError attributes err to a node without mutating a shared error value.
func nodeError(id string, err error) *schema.Error {
	if typed := schema.AsError(err, ""); typed != nil && typed.Code != "" {
		cp := *typed
		cp.NodeID = id
		return &cp
	}
	return schema.NewError(schema.ErrCodeNodeFailed, err.Error()).WithNode(id).WithCause(err)
}

func configString(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return strings.TrimSpace(s)
}
