package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleStream is the live-update channel: a server-sent-event stream of
// every published fan-out frame (telemetry snapshots, lifecycle transitions,
// flagged summaries, threshold and alert notifications).  Delivery is
// best-effort with no replay; observers query /v1/events for history.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "stream_unsupported", "response writer cannot stream")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id, ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(msg.Payload)
			if err != nil {
				s.logger.Printf("stream encode error: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Topic, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
