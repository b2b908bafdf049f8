package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/operations"
	"github.com/rendis/nodeflow/internal/runs"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/internal/validation"
	"github.com/rendis/nodeflow/pkg/schema"
)

const sumDoc = `{
  "nodes": [
    {"id": "add", "type": "functionNode", "data": {"operation": "add", "a": 5, "b": 3}},
    {"id": "sink", "type": "viewNode", "data": {}}
  ],
  "edges": [
    {"source": "add", "sourceHandle": "output", "target": "sink", "targetHandle": "input"}
  ]
}`

const cycleDoc = `{
  "nodes": [
    {"id": "a", "type": "function", "data": {"operation": "add"}},
    {"id": "b", "type": "function", "data": {"operation": "add"}}
  ],
  "edges": [
    {"source": "a", "target": "b", "targetHandle": "a"},
    {"source": "b", "target": "a", "targetHandle": "a"}
  ]
}`

const overflowDoc = `{
  "nodes": [
    {"id": "add", "type": "functionNode", "data": {"operation": "add", "a": 1e308, "b": 1e308}},
    {"id": "sink", "type": "viewNode", "data": {}}
  ],
  "edges": [
    {"source": "add", "sourceHandle": "output", "target": "sink", "targetHandle": "input"}
  ]
}`

type fixture struct {
	handler http.Handler
	hub     *streaming.MemoryHub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := operations.NewBuiltinRegistry(operations.Config{})
	require.NoError(t, err)
	eng := engine.New(reg, engine.Config{}, nil)
	t.Cleanup(eng.Close)

	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	v, err := validation.NewGraphValidator(reg)
	require.NoError(t, err)

	hub := streaming.NewMemoryHub()
	srv := New(Deps{
		Runs:       runs.NewService(eng, st, hub, nil),
		Operations: reg,
		Validator:  v,
		Hub:        hub,
	})
	return &fixture{handler: srv.Handler(), hub: hub}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) schema.Error {
	t.Helper()
	var body struct {
		Error schema.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(body string) []sseEvent {
	var out []sseEvent
	var cur sseEvent
	for _, line := range strings.Split(body, "\n") {
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.name != "":
			out = append(out, cur)
			cur = sseEvent{}
		}
	}
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExecute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/execute?run_id=r1", sumDoc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"run_id": "r1", "results": {"sink": 8}}`, rec.Body.String())
}

func TestExecute_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"cycle", cycleDoc},
		{"invalid json", `{"nodes": [`},
		{"empty", ``},
		{"missing nodes", `{"edges": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/execute", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Equal(t, schema.ErrCodeValidation, decodeError(t, rec).Code)
		})
	}
}

func TestExecuteStream(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/execute/stream?run_id=s1", sumDoc)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "s1", rec.Header().Get("X-Run-ID"))

	events := parseSSE(rec.Body.String())
	require.NotEmpty(t, events)
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.name
	}
	assert.Equal(t, []string{"executing", "completed", "executing", "completed", "done"}, names)

	var done schema.StatusEvent
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].data), &done))
	assert.Equal(t, schema.EventDone, done.Type)
	assert.Equal(t, "s1", done.RunID)
	assert.Equal(t, schema.ExecutionResult{"sink": 8.0}, done.Results)
}

func TestExecute_NonFiniteOutput(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/execute?run_id=inf", overflowDoc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"run_id": "inf", "results": {"sink": "Infinity"}}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/execute/stream?run_id=inf-stream", overflowDoc)
	require.Equal(t, http.StatusOK, rec.Code)
	events := parseSSE(rec.Body.String())
	require.NotEmpty(t, events)

	var completed, done schema.StatusEvent
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &completed))
	assert.Equal(t, schema.EventCompleted, completed.Type)
	assert.Equal(t, "Infinity", completed.Output)

	last := events[len(events)-1]
	require.Equal(t, "done", last.name)
	require.NoError(t, json.Unmarshal([]byte(last.data), &done))
	assert.Equal(t, schema.ExecutionResult{"sink": "Infinity"}, done.Results)

	rec = f.do(t, http.MethodGet, "/api/runs/inf-stream", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "completed", detail.Status)
}

func TestExecuteStream_ValidationIsPlainJSON(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/execute/stream", cycleDoc)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestOperations(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/operations", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var infos []operations.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.Contains(t, names, "add")
	assert.Contains(t, names, "text.stream_words")
}

func TestRuns(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/execute?run_id=j1", sumDoc).Code)

	rec := f.do(t, http.MethodGet, "/api/runs?status=completed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "j1", list[0].ID)
	assert.Equal(t, "http", list[0].Source)

	rec = f.do(t, http.MethodGet, "/api/runs?status=failed", "")
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/runs/j1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Status string                     `json:"status"`
		Nodes  map[string]store.NodeState `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "completed", detail.Status)
	assert.Equal(t, schema.NodeStatusCompleted, detail.Nodes["sink"].Status)

	rec = f.do(t, http.MethodGet, "/api/runs/j1/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []store.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Len(t, events, 5)

	rec = f.do(t, http.MethodGet, "/api/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/runs?since=yesterday", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDiagram(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/diagram", sumDoc)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "graph LR")
	assert.Contains(t, rec.Body.String(), "add")

	rec = f.do(t, http.MethodPost, "/api/diagram?format=ascii", sumDoc)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "edges:")

	rec = f.do(t, http.MethodPost, "/api/diagram?format=svg", sumDoc)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/execute?run_id=d1", sumDoc).Code)
	rec = f.do(t, http.MethodPost, "/api/diagram?run=d1", sumDoc)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "class add completed")
}

func TestEventsSSE(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events?run_id=live&types=completed", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	pub := func(ev schema.StatusEvent, runID string) {
		ev.RunID = runID
		require.NoError(t, f.hub.Publish(context.Background(), ev))
	}
	pub(schema.ExecutingEvent("n1", nil), "live")
	pub(schema.CompletedEvent("n1", 1.0), "other")
	pub(schema.CompletedEvent("n1", 2.0), "live")

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: completed\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"output":2`)
}
