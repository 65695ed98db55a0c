package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseSink writes coordinator events as server-sent events. Headers go out
// lazily on the first event so pre-stream failures can still produce a
// normal error response.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSESink(w http.ResponseWriter) *sseSink {
	flusher, _ := w.(http.Flusher)
	return &sseSink{w: w, flusher: flusher}
}

func (s *sseSink) start() {
	if s.started {
		return
	}
	s.started = true
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
}

func (s *sseSink) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// SessionCreated notifies the client of a newly minted session id before any
// content, so the id survives even if the stream later fails.
func (s *sseSink) SessionCreated(sessionID string) error {
	s.start()
	payload, err := json.Marshal(map[string]string{"sessionId": sessionID})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: sessionCreated\ndata: %s\n\n", payload); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *sseSink) Fragment(content string) error {
	s.start()
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flush()
	return nil
}
