package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// RunNotifier pushes run events to the client that started the run.
type RunNotifier interface {
	Notify(ctx context.Context, runID string, payload map[string]any) error
}

// MCPNotifier implements RunNotifier using MCP notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes to MCP sessions.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the run's session.
// Best-effort: returns nil if the client is not connected.
func (n *MCPNotifier) Notify(_ context.Context, runID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(runID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session went away between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
