package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
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

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg, err := operations.NewBuiltinRegistry(operations.Config{})
	require.NoError(t, err)
	eng := engine.New(reg, engine.Config{}, nil)
	t.Cleanup(eng.Close)

	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "mcp.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	v, err := validation.NewGraphValidator(reg)
	require.NoError(t, err)

	hub := streaming.NewMemoryHub()
	return NewServer(ServerDeps{
		Runs:       runs.NewService(eng, st, hub, nil),
		Operations: reg,
		Validator:  v,
		Hub:        hub,
	})
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func splitGraph() map[string]any {
	return map[string]any{
		"nodes": []any{
			map[string]any{"id": "name", "type": "variableNode", "data": map[string]any{"variableType": "string", "value": "Ada Lovelace"}},
			map[string]any{"id": "split", "type": "functionNode", "data": map[string]any{"operation": "text.split_name"}},
			map[string]any{"id": "first", "type": "viewNode", "data": map[string]any{}},
			map[string]any{"id": "last", "type": "viewNode", "data": map[string]any{}},
		},
		"edges": []any{
			map[string]any{"source": "name", "sourceHandle": "output", "target": "split", "targetHandle": "name"},
			map[string]any{"source": "split", "sourceHandle": "first", "target": "first", "targetHandle": "input"},
			map[string]any{"source": "split", "sourceHandle": "last", "target": "last", "targetHandle": "input"},
		},
	}
}

func TestExecuteTool(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleExecute(context.Background(), buildRequest("nodeflow.execute", map[string]any{
		"graph":  splitGraph(),
		"run_id": "mcp-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var res runs.Result
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &res))
	assert.Equal(t, "mcp-1", res.RunID)
	assert.Equal(t, schema.ExecutionResult{"first": "Ada", "last": "Lovelace"}, res.Results)
}

func TestExecuteTool_GeneratesRunID(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleExecute(context.Background(), buildRequest("nodeflow.execute", map[string]any{
		"graph": splitGraph(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var res runs.Result
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &res))
	assert.Len(t, res.RunID, 36)
}

func TestExecuteTool_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing graph", map[string]any{}, "graph is required"},
		{"schema violation", map[string]any{"graph": map[string]any{"edges": []any{}}}, schema.ErrCodeValidation},
		{
			name: "cycle",
			args: map[string]any{"graph": map[string]any{
				"nodes": []any{
					map[string]any{"id": "a", "type": "function", "data": map[string]any{"operation": "add"}},
					map[string]any{"id": "b", "type": "function", "data": map[string]any{"operation": "add"}},
				},
				"edges": []any{
					map[string]any{"source": "a", "target": "b", "targetHandle": "a"},
					map[string]any{"source": "b", "target": "a", "targetHandle": "a"},
				},
			}},
			want: schema.ErrCodeCycleDetected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.handleExecute(context.Background(), buildRequest("nodeflow.execute", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.want)
		})
	}
}

func TestOperationsTool(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleOperations(context.Background(), buildRequest("nodeflow.operations", map[string]any{
		"prefix": "text.",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var body struct {
		Operations []operations.Info `json:"operations"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &body))
	require.NotEmpty(t, body.Operations)
	for _, info := range body.Operations {
		assert.Contains(t, info.Name, "text.")
	}
}

func TestDiagramTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleDiagram(ctx, buildRequest("nodeflow.diagram", map[string]any{"graph": splitGraph()}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Contains(t, resultText(t, result), "graph LR")

	result, err = s.handleDiagram(ctx, buildRequest("nodeflow.diagram", map[string]any{"graph": splitGraph(), "format": "ascii"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "edges:")

	result, err = s.handleDiagram(ctx, buildRequest("nodeflow.diagram", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleDiagram(ctx, buildRequest("nodeflow.diagram", map[string]any{"graph": splitGraph(), "format": "png"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDiagramTool_FromRun(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleExecute(ctx, buildRequest("nodeflow.execute", map[string]any{"graph": splitGraph(), "run_id": "d-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = s.handleDiagram(ctx, buildRequest("nodeflow.diagram", map[string]any{"run_id": "d-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	text := resultText(t, result)
	assert.Contains(t, text, "class split completed")

	result, err = s.handleDiagram(ctx, buildRequest("nodeflow.diagram", map[string]any{"run_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), schema.ErrCodeNotFound)
}

func TestRunsTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for _, id := range []string{"r-1", "r-2"} {
		result, err := s.handleExecute(ctx, buildRequest("nodeflow.execute", map[string]any{"graph": splitGraph(), "run_id": id}))
		require.NoError(t, err)
		require.False(t, result.IsError)
	}

	result, err := s.handleRuns(ctx, buildRequest("nodeflow.runs", map[string]any{"status": "completed", "limit": 1}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var list struct {
		Runs []store.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, "mcp", list.Runs[0].Source)

	result, err = s.handleRuns(ctx, buildRequest("nodeflow.runs", map[string]any{"run_id": "r-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var detail struct {
		ID     string                     `json:"id"`
		Status string                     `json:"status"`
		Nodes  map[string]store.NodeState `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &detail))
	assert.Equal(t, "r-1", detail.ID)
	assert.Equal(t, "completed", detail.Status)
	assert.Len(t, detail.Nodes, 4)

	result, err = s.handleRuns(ctx, buildRequest("nodeflow.runs", map[string]any{"source": "cli"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"runs": []}`, resultText(t, result))
}
