// Package sink fans decoded readings out to the configured outputs:
// stdout, per-meter files, a shell hook and MQTT.
package sink

import (
	"context"

	"gitlab.com/d21d3q/wmbusd/internal/driver"
	"gitlab.com/d21d3q/wmbusd/internal/meter"
)

// Sink consumes one decoded reading at a time. Publish must be safe
// for concurrent use; Close flushes and releases resources.
type Sink interface {
	Publish(ctx context.Context, id meter.Identity, reading *driver.Reading) error
	Close() error
}

// Fanout publishes to several sinks, collecting the first error but
// still delivering to the rest.
type Fanout []Sink

// Publish delivers the reading to every sink.
func (f Fanout) Publish(ctx context.Context, id meter.Identity, reading *driver.Reading) error {
	var first error
	for _, s := range f {
		if err := s.Publish(ctx, id, reading); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes every sink.
func (f Fanout) Close() error {
	var first error
	for _, s := range f {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
