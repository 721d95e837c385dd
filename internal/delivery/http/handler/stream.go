package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/rag-service/internal/entity"
)

// sseWriter writes server-sent events and flushes after each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) event(name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// HandleAskStream answers over SSE. Setup failures are reported as plain JSON
// errors; once the stream is open, failures arrive as an error event.
func (h *Handler) HandleAskStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAsk(w, r)
	if !ok {
		return
	}
	stream, err := h.deps.Chat.AskStream(r.Context(), req)
	if err != nil {
		h.writeUsecaseError(w, "Failed to start answer stream", err, zap.String("tenant_id", req.TenantID))
		return
	}
	sse, ok := newSSEWriter(w)
	if !ok {
		// drain so the producer goroutine exits
		go func() {
			for range stream.Events {
			}
		}()
		h.writeJSONError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	for ev := range stream.Events {
		if ev.Type == entity.EventDone && ev.Done != nil && ev.Done.SessionID == "" {
			ev.Done.SessionID = stream.SessionID
		}
		if err := sse.event(string(ev.Type), ev); err != nil {
			h.logger.Debug("client went away", zap.String("session_id", stream.SessionID), zap.Error(err))
			for range stream.Events {
			}
			return
		}
	}
}

// HandleStreamJobLogs follows a job's log until the client disconnects.
func (h *Handler) HandleStreamJobLogs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Logs == nil {
		h.writeJSONError(w, "Job logs are not available", http.StatusNotImplemented)
		return
	}
	jobID := chi.URLParam(r, "jobID")
	entries, err := h.deps.Logs.Follow(r.Context(), jobID)
	if err != nil {
		h.writeUsecaseError(w, "Failed to follow job logs", err, zap.String("job_id", jobID))
		return
	}
	sse, ok := newSSEWriter(w)
	if !ok {
		h.writeJSONError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	for entry := range entries {
		if err := sse.event("log", entry); err != nil {
			return
		}
	}
}
