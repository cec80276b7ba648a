package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// writeBound is how long one SSE write may stall on a slow client
// before the stream is aborted.
const writeBound = 10 * time.Second

// sseWriter emits server-sent events with a per-write deadline so a
// stalled client cannot pin the producing goroutine.
type sseWriter struct {
	w    http.ResponseWriter
	ctrl *http.ResponseController
}

// newSSEWriter switches the response to an event stream. It fails before
// any header is written when the connection cannot stream.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, errors.New("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	return &sseWriter{w: w, ctrl: http.NewResponseController(w)}, nil
}

// writeData sends one unnamed event: a single data line holding v as JSON.
func (s *sseWriter) writeData(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.send("", payload)
}

// writeEvent sends one named event with v as its JSON data.
func (s *sseWriter) writeEvent(event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.send(event, payload)
}

func (s *sseWriter) send(event string, payload []byte) error {
	// Deadline errors are ignored where the writer cannot support them;
	// the write then only fails on disconnect.
	_ = s.ctrl.SetWriteDeadline(time.Now().Add(writeBound))

	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return s.ctrl.Flush()
}
