// Package dispatch routes raw telegrams to configured meters by their
// link-layer address.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"gitlab.com/d21d3q/wmbusd/internal/crc"
	"gitlab.com/d21d3q/wmbusd/internal/driver"
	"gitlab.com/d21d3q/wmbusd/internal/frame"
	"gitlab.com/d21d3q/wmbusd/internal/meter"
)

var (
	// ErrUnknownMeter reports a telegram whose address is not configured.
	ErrUnknownMeter = errors.New("no meter configured for address")
	// ErrDuplicateMeter reports two configurations claiming one address.
	ErrDuplicateMeter = errors.New("meter id already configured")
)

// Dispatcher owns the driver registry and the meter collection, keyed
// by meter id. Lookups take a read lock; meters are added at startup.
type Dispatcher struct {
	mu        sync.RWMutex
	registry  *driver.Registry
	meters    map[string]*meter.Meter
	discovery *Discovery
	log       *logrus.Entry
}

// New returns a dispatcher over the given registry; nil means the
// default registry populated by driver init().
func New(registry *driver.Registry) *Dispatcher {
	if registry == nil {
		registry = driver.Default()
	}
	return &Dispatcher{
		registry: registry,
		meters:   make(map[string]*meter.Meter),
		log:      logrus.WithField("component", "dispatcher"),
	}
}

// AddMeter configures a meter. The id is normalized to upper case;
// duplicates are rejected.
func (d *Dispatcher) AddMeter(identity meter.Identity) (*meter.Meter, error) {
	id := strings.ToUpper(identity.ID)
	identity.ID = id

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.meters[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateMeter, id)
	}
	m := meter.New(identity, d.registry)
	d.meters[id] = m
	return m, nil
}

// EnableDiscovery starts collecting headers of telegrams no configured
// meter claims, and returns the collector.
func (d *Dispatcher) EnableDiscovery() *Discovery {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.discovery == nil {
		d.discovery = NewDiscovery(d.registry)
	}
	return d.discovery
}

// Meters returns the configured meters in no particular order.
func (d *Dispatcher) Meters() []*meter.Meter {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*meter.Meter, 0, len(d.meters))
	for _, m := range d.meters {
		out = append(out, m)
	}
	return out
}

// ProcessTelegram parses the header once, normalizes block CRCs and
// hands the telegram to the addressed meter. The address lookup is
// O(1); an unconfigured address is ErrUnknownMeter, never a decode
// sweep over every meter.
func (d *Dispatcher) ProcessTelegram(ctx context.Context, raw []byte) (*meter.Meter, *driver.Reading, error) {
	t, err := normalize(raw)
	if err != nil {
		return nil, nil, err
	}

	d.mu.RLock()
	m, ok := d.meters[t.MeterIDString()]
	disc := d.discovery
	d.mu.RUnlock()
	if !ok {
		if disc != nil {
			disc.Observe(t)
		}
		return nil, nil, fmt.Errorf("%w: %s (%s)", ErrUnknownMeter, t.MeterIDString(), t.ManufacturerCode())
	}

	reading, err := m.ProcessParsed(ctx, t)
	if err != nil {
		return m, nil, err
	}
	return m, reading, nil
}

// Analysis summarizes one telegram header and the drivers that claim
// it, for diagnostics on unmatched traffic.
type Analysis struct {
	Manufacturer string
	MeterID      string
	Version      byte
	DeviceType   string
	Encrypted    bool
	SecurityMode byte
	Candidates   []driver.Candidate
}

// AnalyzeTelegram inspects a telegram without decoding it.
func (d *Dispatcher) AnalyzeTelegram(_ context.Context, raw []byte) (*Analysis, error) {
	t, err := normalize(raw)
	if err != nil {
		return nil, err
	}
	return &Analysis{
		Manufacturer: t.ManufacturerCode(),
		MeterID:      t.MeterIDString(),
		Version:      t.Version,
		DeviceType:   frame.DeviceTypeName(t.DeviceType),
		Encrypted:    t.Encrypted(),
		SecurityMode: t.TPL.SecurityMode,
		Candidates:   d.registry.Analyze(t),
	}, nil
}

func normalize(raw []byte) (*frame.Telegram, error) {
	if crc.HasBlockCRC(raw) {
		if !crc.Validate(raw) {
			return nil, meter.ErrCrcMismatch
		}
		var err error
		if raw, err = crc.Strip(raw); err != nil {
			return nil, err
		}
	}
	t, err := frame.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
