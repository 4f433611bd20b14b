package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"gwi.com/answer-engine/internal/core"
)

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// startSSE sends the event stream headers.
func startSSE(w http.ResponseWriter, flusher http.Flusher) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}
}

// Send writes one data-only event and flushes it.
func (s *sseWriter) Send(ev core.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
