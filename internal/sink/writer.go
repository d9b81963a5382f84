package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"gitlab.com/d21d3q/wmbusd/internal/driver"
	"gitlab.com/d21d3q/wmbusd/internal/meter"
)

// WriterSink renders each reading as one line on an io.Writer,
// typically stdout.
type WriterSink struct {
	mu       sync.Mutex
	w        io.Writer
	renderer Renderer
}

// NewWriterSink returns a line-oriented sink over w.
func NewWriterSink(w io.Writer, renderer Renderer) *WriterSink {
	return &WriterSink{w: w, renderer: renderer}
}

// Publish writes the rendered reading followed by a newline.
func (s *WriterSink) Publish(_ context.Context, id meter.Identity, reading *driver.Reading) error {
	line, err := s.renderer.Render(id, reading)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = fmt.Fprintln(s.w, line)
	return err
}

// Close is a no-op; the writer is owned by the caller.
func (s *WriterSink) Close() error { return nil }
