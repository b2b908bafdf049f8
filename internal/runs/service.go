// Package runs executes graphs on behalf of the transports (CLI, HTTP, MCP,
// scheduler), journaling every status event and fanning it out to live
// observers.
package runs

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Request describes one run.
type Request struct {
	Graph *schema.Graph
	// Source labels where the run came from: cli, http, mcp, schedule.
	Source string
	// RunID is optional; one is generated when empty.
	RunID string
}

// Result is the outcome of a synchronous run.
type Result struct {
	RunID   string                 `json:"run_id"`
	Results schema.ExecutionResult `json:"results"`
}

// Detail is a journaled run with its replayed node states.
type Detail struct {
	*store.Run
	Nodes map[string]*store.NodeState `json:"nodes"`
}

// Service runs graphs. The store and hub are optional.
type Service struct {
	engine *engine.Engine
	store  store.Store
	events *store.EventLog
	hub    streaming.EventHub
	logger *slog.Logger
}

// NewService creates a Service. st and hub may be nil.
func NewService(eng *engine.Engine, st store.Store, hub streaming.EventHub, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Service{engine: eng, store: st, hub: hub, logger: logger}
	if st != nil {
		s.events = store.NewEventLog(st)
	}
	return s
}

// Execute runs the graph to completion.
func (s *Service) Execute(ctx context.Context, req Request) (*Result, error) {
	rec := s.begin(ctx, req)
	results, err := s.engine.Execute(ctx, req.Graph, engine.WithRunID(rec.runID), engine.WithObserver(rec.observe))
	if err != nil {
		return nil, err
	}
	return &Result{RunID: rec.runID, Results: results}, nil
}

// Stream is a journaled engine stream.
type Stream struct {
	*engine.Stream
	rec *recorder
}

// Events wraps the engine's events; a consumer that stops before the
// terminal event leaves the run marked abandoned.
func (st *Stream) Events() iter.Seq[schema.StatusEvent] {
	return func(yield func(schema.StatusEvent) bool) {
		for ev := range st.Stream.Events() {
			if !yield(ev) {
				break
			}
		}
		st.rec.finish(store.RunStatusAbandoned, nil, nil)
	}
}

// Stream prepares a streaming run. Nothing runs until Events is ranged over.
func (s *Service) Stream(ctx context.Context, req Request) *Stream {
	rec := s.begin(ctx, req)
	return &Stream{
		Stream: s.engine.Stream(ctx, req.Graph, engine.WithRunID(rec.runID), engine.WithObserver(rec.observe)),
		rec:    rec,
	}
}

// Get returns a journaled run with its node states.
func (s *Service) Get(ctx context.Context, runID string) (*Detail, error) {
	if s.store == nil {
		return nil, schema.NewError(schema.ErrCodeNotFound, "run journal is disabled")
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	nodes, err := s.events.Replay(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &Detail{Run: run, Nodes: nodes}, nil
}

// List returns journaled runs, newest first.
func (s *Service) List(ctx context.Context, filter store.RunFilter) ([]*store.Run, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListRuns(ctx, filter)
}

// Events returns the journaled events of a run.
func (s *Service) Events(ctx context.Context, runID string, since int64) ([]*store.Event, error) {
	if s.store == nil {
		return nil, schema.NewError(schema.ErrCodeNotFound, "run journal is disabled")
	}
	return s.store.GetEvents(ctx, runID, since)
}

// Prune deletes journaled runs older than age and compacts the database.
// It returns how many runs were removed.
func (s *Service) Prune(ctx context.Context, age time.Duration) (int64, error) {
	if s.store == nil {
		return 0, schema.NewError(schema.ErrCodeNotFound, "run journal is disabled")
	}
	if age <= 0 {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "prune age must be positive, got %s", age)
	}
	n, err := s.store.DeleteRunsBefore(ctx, time.Now().UTC().Add(-age))
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "journal pruned", slog.Int64("runs", n), slog.Duration("older_than", age))
	if n > 0 {
		if err := s.store.Vacuum(ctx); err != nil {
			return n, err
		}
	}
	return n, nil
}

// recorder journals and publishes the events of one run.
type recorder struct {
	s      *Service
	ctx    context.Context
	runID  string
	once   sync.Once
	active bool
}

func (s *Service) begin(ctx context.Context, req Request) *recorder {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	// Journaling outlives cancellation of the run itself.
	rctx := logging.WithRunID(context.WithoutCancel(ctx), runID)
	rec := &recorder{s: s, ctx: rctx, runID: runID}

	if s.store == nil {
		return rec
	}
	run := &store.Run{ID: runID, Source: req.Source, Status: store.RunStatusRunning}
	if req.Graph != nil {
		run.NodeCount = len(req.Graph.Nodes)
		if raw, err := json.Marshal(req.Graph); err == nil {
			run.Graph = raw
		}
	}
	if err := s.store.CreateRun(rctx, run); err != nil {
		s.logger.WarnContext(rctx, "journal: create run", slog.String("error", err.Error()))
		return rec
	}
	rec.active = true
	return rec
}

func (r *recorder) observe(ev schema.StatusEvent) {
	if r.s.hub != nil {
		if err := r.s.hub.Publish(r.ctx, ev); err != nil {
			r.s.logger.DebugContext(r.ctx, "hub publish", slog.String("error", err.Error()))
		}
	}
	if r.active {
		if err := r.s.events.Append(r.ctx, ev); err != nil {
			r.s.logger.WarnContext(r.ctx, "journal: append event", slog.String("error", err.Error()))
		}
	}

	switch {
	case ev.Type == schema.EventDone:
		r.finish(store.RunStatusCompleted, ev.Results, nil)
	case ev.Terminal() && ev.Code == schema.ErrCodeCancelled:
		r.finish(store.RunStatusCancelled, nil, schema.NewError(ev.Code, ev.Message))
	case ev.Terminal():
		r.finish(store.RunStatusFailed, nil, schema.NewError(ev.Code, ev.Message))
	}
}

// finish records the outcome once; later calls are no-ops.
func (r *recorder) finish(status store.RunStatus, results schema.ExecutionResult, runErr *schema.Error) {
	r.once.Do(func() {
		if !r.active {
			return
		}
		outcome := store.RunOutcome{Status: status, CompletedAt: time.Now().UTC()}
		if results != nil {
			outcome.Results, _ = json.Marshal(results)
		}
		if runErr != nil {
			outcome.Error, _ = json.Marshal(runErr)
		}
		if err := r.s.store.FinishRun(r.ctx, r.runID, outcome); err != nil {
			r.s.logger.WarnContext(r.ctx, "journal: finish run", slog.String("error", err.Error()))
		}
	})
}
