package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/internal/operations"
	"github.com/rendis/nodeflow/internal/runs"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// notifyDrain bounds how long a finished run waits for its remaining
// notifications to be forwarded.
const notifyDrain = time.Second

// handleExecute validates and runs a graph.
func (s *Server) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	g, errResult := s.graphArg(req)
	if errResult != nil {
		return errResult, nil
	}

	runID := req.GetString("run_id", "")
	if runID == "" {
		runID = uuid.NewString()
	}

	stop := s.forwardRunEvents(ctx, runID)
	res, err := s.runs.Execute(ctx, runs.Request{Graph: g, Source: "mcp", RunID: runID})
	stop()
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(res)
}

// forwardRunEvents pushes the run's hub events to the calling session as
// notifications. The returned func waits briefly for the terminal event
// and then detaches.
func (s *Server) forwardRunEvents(ctx context.Context, runID string) func() {
	session := server.ClientSessionFromContext(ctx)
	if session == nil || s.hub == nil {
		return func() {}
	}
	s.sessions.Register(runID, session.SessionID())

	ch, cancel, err := s.hub.Subscribe(ctx, streaming.EventFilter{RunID: runID})
	if err != nil {
		s.sessions.Forget(runID)
		s.logger.Warn("mcp: subscribe to run events", "run_id", runID, "error", err)
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			payload := map[string]any{"level": "info", "logger": "nodeflow", "data": ev}
			if err := s.notifier.Notify(ctx, runID, payload); err != nil {
				s.logger.Debug("mcp: notify", "run_id", runID, "error", err)
			}
			if ev.Terminal() {
				return
			}
		}
	}()

	return func() {
		select {
		case <-done:
		case <-time.After(notifyDrain):
		}
		cancel()
		s.sessions.Forget(runID)
	}
}

// handleOperations lists the operation palette.
func (s *Server) handleOperations(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prefix := req.GetString("prefix", "")
	infos := make([]operations.Info, 0)
	for _, info := range s.operations.List() {
		if strings.HasPrefix(info.Name, prefix) {
			infos = append(infos, info)
		}
	}
	return marshalResult(map[string]any{"operations": infos})
}

// handleDiagram renders a graph, taken from the arguments or from a
// journaled run.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := req.GetString("format", "mermaid")
	if format != "mermaid" && format != "ascii" {
		return mcp.NewToolResultError("format must be mermaid or ascii"), nil
	}
	runID := req.GetString("run_id", "")
	_, hasGraph := req.GetArguments()["graph"]
	if !hasGraph && runID == "" {
		return mcp.NewToolResultError("at least one of graph or run_id is required"), nil
	}

	var (
		g      *schema.Graph
		states map[string]*store.NodeState
	)
	if runID != "" {
		detail, err := s.runs.Get(ctx, runID)
		if err != nil {
			return toolError(err), nil
		}
		states = detail.Nodes
		if !hasGraph {
			if g, err = s.validator.ValidateDocument(detail.Graph); err != nil {
				return toolError(err), nil
			}
		}
	}
	if hasGraph {
		var errResult *mcp.CallToolResult
		if g, errResult = s.graphArg(req); errResult != nil {
			return errResult, nil
		}
	}

	model, err := diagram.Build(runID, g, states)
	if err != nil {
		return toolError(err), nil
	}
	if format == "ascii" {
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	}
	return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
}

// handleRuns returns one run in detail or a filtered list.
func (s *Server) handleRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if runID := req.GetString("run_id", ""); runID != "" {
		detail, err := s.runs.Get(ctx, runID)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(detail)
	}

	filter := store.RunFilter{
		Source: req.GetString("source", ""),
		Limit:  req.GetInt("limit", 20),
		Offset: req.GetInt("offset", 0),
	}
	if status := req.GetString("status", ""); status != "" {
		st := store.RunStatus(status)
		filter.Status = &st
	}

	list, err := s.runs.List(ctx, filter)
	if err != nil {
		return toolError(err), nil
	}
	if list == nil {
		list = []*store.Run{}
	}
	return marshalResult(map[string]any{"runs": list})
}

// --- Helpers ---

// graphArg validates the "graph" argument. A non-nil result is the tool
// error to return.
func (s *Server) graphArg(req mcp.CallToolRequest) (*schema.Graph, *mcp.CallToolResult) {
	raw, ok := req.GetArguments()["graph"]
	if !ok || raw == nil {
		return nil, mcp.NewToolResultError("graph is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("graph is not serializable: %v", err))
	}
	g, err := s.validator.ValidateDocument(data)
	if err != nil {
		return nil, toolError(err)
	}
	return g, nil
}

// toolError reports a structured error as a tool error whose text is the
// error's JSON encoding.
func toolError(err error) *mcp.CallToolResult {
	e := schema.AsError(err, schema.ErrCodeExecution)
	data, mErr := json.Marshal(e)
	if mErr != nil {
		return mcp.NewToolResultError(e.Error())
	}
	return mcp.NewToolResultError(string(data))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
