package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sweetpotato0/shopchat/event"
)

// sseWriter relays canonical events to one consumer over a server-sent
// events stream, flushing after every event so ordering and latency match
// the producer.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &sseWriter{w: w, flusher: flusher}, nil
}

// WriteEvent writes one event frame and flushes it. The event type doubles
// as the SSE event name; the full payload travels in the data line.
func (s *sseWriter) WriteEvent(ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
