// Package server exposes the run service over HTTP. Streaming runs and the
// live event feed use Server-Sent Events.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/operations"
	"github.com/rendis/nodeflow/internal/runs"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// maxBodyBytes caps graph documents accepted by the API.
const maxBodyBytes = 4 << 20

// GraphValidator checks and decodes graph documents.
type GraphValidator interface {
	ValidateDocument(raw []byte) (*schema.Graph, error)
}

// Deps holds the dependencies for the HTTP server.
type Deps struct {
	Runs       *runs.Service
	Operations operations.OperationRegistry
	Validator  GraphValidator
	Hub        streaming.EventHub
	Logger     *slog.Logger
}

// Server serves the nodeflow HTTP API.
type Server struct {
	deps Deps
}

// New creates a Server. Hub may be nil, which disables GET /api/events.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/execute", s.handleExecute)
	mux.HandleFunc("POST /api/execute/stream", s.handleExecuteStream)
	mux.HandleFunc("POST /api/diagram", s.handleDiagram)

	mux.HandleFunc("GET /api/operations", s.handleOperations)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleRunEvents)

	// SSE streams.
	mux.HandleFunc("GET /api/events", s.handleSSEGlobal)

	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.deps.Logger.Info("http server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
