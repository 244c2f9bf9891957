package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/taskgate/internal/engine"
)

// handleStreamProgress streams progress reports of a task's latest run as
// server-sent events until the run ends or the client disconnects.
func (s *Server) handleStreamProgress(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	// A run that already ended yields a closed channel, so the loop below
	// sends the done event straight away.
	ch, unsub, err := s.engine.SubscribeProgress(key)
	switch {
	case errors.Is(err, engine.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	case errors.Is(err, engine.ErrNotStarted):
		s.writeError(w, http.StatusConflict, "task not started")
		return
	case err != nil:
		s.logger.Error("subscribe progress", "key", key, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to subscribe to progress")
		return
	}
	defer unsub()
	progressStreams.Inc()
	defer progressStreams.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case info, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(info)
			if err != nil {
				s.logger.Error("encode progress", "error", err)
				continue
			}
			if err := writeSSEData(w, string(data)); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEData writes a single-line payload as an SSE data event.
func writeSSEData(w http.ResponseWriter, data string) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
