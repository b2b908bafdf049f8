package runs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/operations"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

type fixture struct {
	svc   *Service
	store *store.LibSQLStore
	hub   *streaming.MemoryHub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := operations.NewBuiltinRegistry(operations.Config{})
	require.NoError(t, err)
	eng := engine.New(reg, engine.Config{}, nil)
	t.Cleanup(eng.Close)

	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	hub := streaming.NewMemoryHub()
	return &fixture{svc: NewService(eng, st, hub, nil), store: st, hub: hub}
}

func sumGraph() *schema.Graph {
	return &schema.Graph{
		Nodes: []schema.Node{
			{ID: "add", Kind: schema.NodeKindFunction, Config: map[string]any{"operation": "add", "a": 5.0, "b": 3.0}},
			{ID: "sink", Kind: schema.NodeKindView},
		},
		Edges: []schema.Edge{{Source: "add", SourceHandle: "output", Target: "sink", TargetHandle: "input"}},
	}
}

func cycleGraph() *schema.Graph {
	return &schema.Graph{
		Nodes: []schema.Node{
			{ID: "a", Kind: schema.NodeKindFunction, Config: map[string]any{"operation": "add"}},
			{ID: "b", Kind: schema.NodeKindFunction, Config: map[string]any{"operation": "add"}},
		},
		Edges: []schema.Edge{
			{Source: "a", Target: "b", TargetHandle: "a"},
			{Source: "b", Target: "a", TargetHandle: "a"},
		},
	}
}

func TestExecute_JournalsRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Execute(ctx, Request{Graph: sumGraph(), Source: "http", RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, schema.ExecutionResult{"sink": 8.0}, res.Results)

	detail, err := f.svc.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusCompleted, detail.Status)
	assert.Equal(t, "http", detail.Source)
	assert.Equal(t, 2, detail.NodeCount)
	assert.JSONEq(t, `{"sink": 8}`, string(detail.Results))
	require.Contains(t, detail.Nodes, "add")
	assert.Equal(t, schema.NodeStatusCompleted, detail.Nodes["add"].Status)
	assert.Equal(t, 8.0, detail.Nodes["sink"].Output)

	events, err := f.svc.Events(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, schema.EventDone, events[4].Type)
}

func TestExecute_CycleJournalsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Execute(ctx, Request{Graph: cycleGraph(), Source: "cli", RunID: "run-cycle"})
	require.True(t, schema.IsCode(err, schema.ErrCodeCycleDetected))

	detail, err := f.svc.Get(ctx, "run-cycle")
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusFailed, detail.Status)
	assert.Contains(t, string(detail.Error), schema.ErrCodeCycleDetected)
	assert.Empty(t, detail.Nodes)
}

func TestExecute_CancelledRunIsJournaledAsCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Execute(ctx, Request{Graph: sumGraph(), RunID: "run-cancel"})
	require.True(t, schema.IsCode(err, schema.ErrCodeCancelled))

	run, err := f.store.GetRun(context.Background(), "run-cancel")
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusCancelled, run.Status)
	assert.Contains(t, string(run.Error), schema.ErrCodeCancelled)
}

func TestExecute_PublishesToHub(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, cancel, err := f.hub.Subscribe(ctx, streaming.EventFilter{RunID: "run-hub", Types: []schema.EventType{schema.EventDone}})
	require.NoError(t, err)
	defer cancel()

	_, err = f.svc.Execute(ctx, Request{Graph: sumGraph(), RunID: "run-hub"})
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, "run-hub", ev.RunID)
		assert.Equal(t, schema.ExecutionResult{"sink": 8.0}, ev.Results)
	case <-time.After(time.Second):
		t.Fatal("no done event published")
	}
}

func TestStream_Completed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.svc.Stream(ctx, Request{Graph: sumGraph(), Source: "http"})
	var n int
	for range s.Events() {
		n++
	}
	require.NoError(t, s.Err())
	assert.Equal(t, 5, n)

	run, err := f.store.GetRun(ctx, s.RunID())
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusCompleted, run.Status)
}

func TestStream_AbandonedByConsumer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.svc.Stream(ctx, Request{Graph: sumGraph()})
	for range s.Events() {
		break
	}

	run, err := f.store.GetRun(ctx, s.RunID())
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusAbandoned, run.Status)

	events, err := f.store.GetEvents(ctx, s.RunID(), 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Execute(ctx, Request{Graph: sumGraph(), Source: "schedule"})
	require.NoError(t, err)
	_, err = f.svc.Execute(ctx, Request{Graph: sumGraph(), Source: "http"})
	require.NoError(t, err)

	all, err := f.svc.List(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scheduled, err := f.svc.List(ctx, store.RunFilter{Source: "schedule"})
	require.NoError(t, err)
	assert.Len(t, scheduled, 1)
}

func TestService_WithoutJournal(t *testing.T) {
	reg, err := operations.NewBuiltinRegistry(operations.Config{})
	require.NoError(t, err)
	eng := engine.New(reg, engine.Config{}, nil)
	t.Cleanup(eng.Close)
	svc := NewService(eng, nil, nil, nil)
	ctx := context.Background()

	res, err := svc.Execute(ctx, Request{Graph: sumGraph()})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)

	_, err = svc.Get(ctx, res.RunID)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	runs, err := svc.List(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
	_, err = svc.Prune(ctx, time.Hour)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestPrune(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := &store.Run{ID: "old-run", Source: "cli", CreatedAt: time.Now().UTC().Add(-72 * time.Hour)}
	require.NoError(t, f.store.CreateRun(ctx, old))
	fresh, err := f.svc.Execute(ctx, Request{Graph: sumGraph(), Source: "cli"})
	require.NoError(t, err)

	n, err := f.svc.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := f.svc.List(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, fresh.RunID, left[0].ID)

	_, err = f.svc.Prune(ctx, 0)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}
