package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/internal/runs"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// readGraph reads and validates the graph document in the request body.
func (s *Server) readGraph(r *http.Request) (*schema.Graph, error) {
	raw, err := readBody(r)
	if err != nil {
		return nil, err
	}
	return s.deps.Validator.ValidateDocument(raw)
}

func runRequest(r *http.Request, g *schema.Graph) runs.Request {
	return runs.Request{Graph: g, Source: "http", RunID: r.URL.Query().Get("run_id")}
}

// handleExecute runs a graph to completion and returns its results.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	g, err := s.readGraph(r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.deps.Runs.Execute(r.Context(), runRequest(r, g))
	if err != nil {
		s.deps.Logger.WarnContext(r.Context(), "execute failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleExecuteStream runs a graph and relays its status events over SSE.
// Validation failures are reported as a plain JSON error before the stream
// opens.
func (s *Server) handleExecuteStream(w http.ResponseWriter, r *http.Request) {
	g, err := s.readGraph(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sse, ok := startSSE(w)
	if !ok {
		return
	}

	stream := s.deps.Runs.Stream(r.Context(), runRequest(r, g))
	w.Header().Set("X-Run-ID", stream.RunID())
	for ev := range stream.Events() {
		if err := sse.sendEvent(ev); err != nil {
			s.deps.Logger.DebugContext(r.Context(), "sse write failed", "run_id", stream.RunID(), "error", err)
			break
		}
	}
}

// handleDiagram renders the posted graph. ?format=ascii selects the text
// renderer; ?run=<id> overlays the node states of a journaled run.
func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	g, err := s.readGraph(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var states map[string]*store.NodeState
	if runID := r.URL.Query().Get("run"); runID != "" {
		detail, err := s.deps.Runs.Get(r.Context(), runID)
		if err != nil {
			writeError(w, err)
			return
		}
		states = detail.Nodes
	}

	model, err := diagram.Build(r.URL.Query().Get("title"), g, states)
	if err != nil {
		writeError(w, err)
		return
	}

	var out string
	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		out = diagram.RenderMermaid(model)
	case "ascii":
		out = diagram.RenderASCII(model)
	default:
		writeError(w, schema.NewErrorf(schema.ErrCodeValidation, "unknown diagram format %q", format))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(out))
}

// handleOperations returns the operation palette.
func (s *Server) handleOperations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Operations.List())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Source: q.Get("source"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if status := q.Get("status"); status != "" {
		st := store.RunStatus(strings.ToLower(status))
		filter.Status = &st
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, schema.NewErrorf(schema.ErrCodeValidation, "since: %v", err))
			return
		}
		filter.Since = &t
	}

	list, err := s.deps.Runs.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	detail, err := s.deps.Runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Runs.Events(r.Context(), r.PathValue("id"), int64(queryInt(r, "since", 0)))
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
