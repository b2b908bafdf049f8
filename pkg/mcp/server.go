package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/operations"
	"github.com/rendis/nodeflow/internal/runs"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// GraphValidator checks and decodes graph documents.
type GraphValidator interface {
	ValidateDocument(raw []byte) (*schema.Graph, error)
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Runs       *runs.Service
	Operations operations.OperationRegistry
	Validator  GraphValidator
	Hub        streaming.EventHub
	Logger     *slog.Logger
}

// Server wraps an MCP server with the nodeflow tool handlers.
type Server struct {
	runs       *runs.Service
	operations operations.OperationRegistry
	validator  GraphValidator
	hub        streaming.EventHub
	logger     *slog.Logger
	sessions   *SessionRegistry
	notifier   RunNotifier
	mcpServer  *server.MCPServer
}

// NewServer creates a Server with all four tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	s := &Server{
		runs:       deps.Runs,
		operations: deps.Operations,
		validator:  deps.Validator,
		hub:        deps.Hub,
		logger:     logger,
		sessions:   NewSessionRegistry(),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"nodeflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Nodeflow executes dataflow graphs of operation nodes. Use nodeflow.operations to discover operations, nodeflow.execute to run a graph, nodeflow.diagram to visualize one, and nodeflow.runs to inspect past runs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// ServeSSE serves the SSE transport on addr until ctx is cancelled. Run
// events are pushed to SSE clients as notifications.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mcp sse server listening", slog.String("addr", addr))
		errCh <- sse.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sse.Shutdown(shutdownCtx)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: operationsTool(), Handler: s.handleOperations},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: runsTool(), Handler: s.handleRuns},
	}
}

// --- Tool definitions ---

func executeTool() mcp.Tool {
	return mcp.NewTool("nodeflow.execute",
		mcp.WithDescription("Execute a graph and return the value of every view node"),
		mcp.WithObject("graph", mcp.Required(), mcp.Description("Graph document: {nodes, edges, env}")),
		mcp.WithString("run_id", mcp.Description("Run id (default: generated)")),
	)
}

func operationsTool() mcp.Tool {
	return mcp.NewTool("nodeflow.operations",
		mcp.WithDescription("List the registered operations with their parameters and types"),
		mcp.WithString("prefix", mcp.Description("Only operations whose name starts with this prefix")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("nodeflow.diagram",
		mcp.WithDescription("Render a graph as a Mermaid flowchart or ASCII art"),
		mcp.WithObject("graph", mcp.Description("Graph document (default: the graph of run_id)")),
		mcp.WithString("run_id", mcp.Description("Journaled run; overlays its node states")),
		mcp.WithString("format",
			mcp.Enum("mermaid", "ascii"),
			mcp.Description("Output format (default: mermaid)"),
		),
	)
}

func runsTool() mcp.Tool {
	return mcp.NewTool("nodeflow.runs",
		mcp.WithDescription("Inspect journaled runs: one run with its node states, or a filtered list"),
		mcp.WithString("run_id", mcp.Description("Return this run in detail")),
		mcp.WithString("status",
			mcp.Enum("running", "completed", "failed", "cancelled", "abandoned"),
			mcp.Description("Filter by run status"),
		),
		mcp.WithString("source", mcp.Description("Filter by source: cli, http, mcp, schedule")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default: 20)")),
		mcp.WithNumber("offset", mcp.Description("Runs to skip")),
	)
}
