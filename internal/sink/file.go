package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gitlab.com/d21d3q/wmbusd/internal/driver"
	"gitlab.com/d21d3q/wmbusd/internal/meter"
)

// FileSink writes each meter's latest (or appended) readings into its
// own file under Dir.
type FileSink struct {
	Dir       string
	Append    bool
	Naming    string // name, id, name-id
	Timestamp string // never, day, hour, minute
	Renderer  Renderer

	now func() time.Time // test hook
}

// NewFileSink creates Dir if needed.
func NewFileSink(dir string, appendMode bool, naming, timestamp string, renderer Renderer) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("meterfiles dir: %w", err)
	}
	return &FileSink{
		Dir:       dir,
		Append:    appendMode,
		Naming:    naming,
		Timestamp: timestamp,
		Renderer:  renderer,
		now:       time.Now,
	}, nil
}

// Publish renders the reading into the meter's file.
func (s *FileSink) Publish(_ context.Context, id meter.Identity, reading *driver.Reading) error {
	line, err := s.Renderer.Render(id, reading)
	if err != nil {
		return err
	}
	path := filepath.Join(s.Dir, s.fileName(id))
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if s.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("meter file: %w", err)
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		f.Close()
		return fmt.Errorf("meter file: %w", err)
	}
	return f.Close()
}

// Close is a no-op; files are opened per publish.
func (s *FileSink) Close() error { return nil }

func (s *FileSink) fileName(id meter.Identity) string {
	var base string
	switch s.Naming {
	case "id":
		base = id.ID
	case "name-id":
		base = id.Name + "-" + id.ID
	default:
		base = id.Name
	}
	switch s.Timestamp {
	case "day":
		base += "_" + s.now().Format("2006-01-02")
	case "hour":
		base += "_" + s.now().Format("2006-01-02_15")
	case "minute":
		base += "_" + s.now().Format("2006-01-02_15.04")
	}
	return base
}
