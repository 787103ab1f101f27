// Package sse writes server-sent event streams.
package sse

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrStreamingUnsupported = errors.New("streaming unsupported by response writer")

type Writer struct {
	w http.ResponseWriter
	f http.Flusher
}

// New sets the event-stream headers and sends them.
func New(w http.ResponseWriter) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &Writer{w: w, f: f}, nil
}

// Event writes a named event. Multi-line data is split into several data
// fields.
func (s *Writer) Event(name string, data []byte) error {
	var sb strings.Builder
	if name != "" {
		sb.WriteString("event: ")
		sb.WriteString(name)
		sb.WriteByte('\n')
	}
	for _, line := range strings.Split(string(data), "\n") {
		sb.WriteString("data: ")
		sb.WriteString(strings.TrimSuffix(line, "\r"))
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	return s.write(sb.String())
}

// Data writes an unnamed event.
func (s *Writer) Data(data []byte) error {
	return s.Event("", data)
}

// Comment writes a comment line, used as a keep-alive.
func (s *Writer) Comment(text string) error {
	return s.write(fmt.Sprintf(": %s\n\n", text))
}

func (s *Writer) write(frame string) error {
	if _, err := s.w.Write([]byte(frame)); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}
