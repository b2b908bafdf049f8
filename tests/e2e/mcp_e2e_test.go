package e2e

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nodeflowmcp "github.com/rendis/nodeflow/pkg/mcp"
)

func newMCPClient(t *testing.T, env *testEnv) *client.Client {
	t.Helper()
	s := nodeflowmcp.NewServer(nodeflowmcp.ServerDeps{
		Runs:       env.runs,
		Operations: env.registry,
		Validator:  env.validator,
		Hub:        env.hub,
	})

	c, err := client.NewInProcessClient(s.MCPServer())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "e2e", Version: "1.0.0"}
	_, err = c.Initialize(ctx, initReq)
	require.NoError(t, err)
	return c
}

func callTool(t *testing.T, c *client.Client, name string, args map[string]any) string {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := c.CallTool(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	require.False(t, res.IsError, text.Text)
	return text.Text
}

func TestMCP_ListTools(t *testing.T) {
	c := newMCPClient(t, newTestEnv(t))

	res, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	require.NoError(t, err)
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"nodeflow.execute", "nodeflow.operations", "nodeflow.diagram", "nodeflow.runs"}, names)
}

func TestMCP_ExecuteThenInspect(t *testing.T) {
	env := newTestEnv(t)
	c := newMCPClient(t, env)

	var graph map[string]any
	require.NoError(t, json.Unmarshal(readExample(t, "names.json"), &graph))

	out := callTool(t, c, "nodeflow.execute", map[string]any{"graph": graph, "run_id": "mcp-e2e"})
	assert.JSONEq(t, `{"run_id": "mcp-e2e", "results": {"first": "Ada", "last": "Lovelace", "greeting": "HELLO, ADA"}}`, out)

	out = callTool(t, c, "nodeflow.runs", map[string]any{"run_id": "mcp-e2e"})
	var detail struct {
		Status string `json:"status"`
		Source string `json:"source"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	assert.Equal(t, "completed", detail.Status)
	assert.Equal(t, "mcp", detail.Source)

	out = callTool(t, c, "nodeflow.diagram", map[string]any{"run_id": "mcp-e2e", "format": "mermaid"})
	assert.Contains(t, out, "class split completed")
}
