package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// startSSE writes the event-stream headers. It reports false, after writing
// an error response, when the writer cannot flush.
func startSSE(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &sseWriter{w: w, flusher: flusher}, true
}

// sendEvent writes a status event. An event that cannot be encoded is
// replaced by an error event for the same node so the stream still reaches
// its terminal event.
func (s *sseWriter) sendEvent(ev schema.StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		failed := schema.ErrorEvent(ev.NodeID, schema.NewError(schema.ErrCodeExecution, "event not encodable").WithCause(err))
		failed.RunID = ev.RunID
		if ev.Terminal() {
			failed.NodeID = ""
		}
		return s.send(string(failed.Type), failed)
	}
	return s.write(string(ev.Type), data)
}

func (s *sseWriter) write(event string, data []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.write(event, data)
}

// handleSSEGlobal streams hub events. Query params run_id, node_id and
// types (comma separated) narrow the feed.
func (s *Server) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		writeError(w, schema.NewError(schema.ErrCodeNotFound, "event hub is disabled"))
		return
	}
	s.serveSSE(w, r, filterFromQuery(r))
}

func filterFromQuery(r *http.Request) streaming.EventFilter {
	q := r.URL.Query()
	filter := streaming.EventFilter{RunID: q.Get("run_id"), NodeID: q.Get("node_id")}
	for _, t := range strings.Split(q.Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter.Types = append(filter.Types, schema.EventType(t))
		}
	}
	return filter
}

// serveSSE relays hub events until the client goes away.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter) {
	sse, ok := startSSE(w)
	if !ok {
		return
	}

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	// Commit the headers so clients see the stream open before any event.
	sse.flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := sse.sendEvent(event); err != nil {
				return
			}
		}
	}
}
