// Package driver defines the decode contract meters program against:
// the DataRecord/Reading model, the Driver interface and the Registry
// that matches telegram headers to registered drivers.
package driver

import (
	"context"
	"strconv"
	"time"

	"gitlab.com/d21d3q/wmbusd/internal/frame"
)

// DataRecord is one decoded field of a payload. Description names the
// field the way sinks render it (unit suffix included, e.g. total_m3);
// Unit carries the bare physical unit for typed consumers. Records the
// parser could not interpret keep their Raw bytes and set Unparsed
// instead of aborting the decode.
type DataRecord struct {
	Description string
	Value       any
	Unit        string
	SubIndex    int
	Unparsed    bool
	Raw         []byte
}

// Reading is the ordered result of decoding one telegram. It is
// immutable once produced; a later telegram produces a new Reading.
type Reading struct {
	MeterID      string
	AccessNumber byte
	DecodedAt    time.Time
	Records      []DataRecord
}

// Fields flattens the records into a map for dynamic consumers. Records
// with a sub-index get a numeric suffix; unparsed records appear under
// unparsed_<n> with their hex-free raw bytes.
func (r *Reading) Fields() map[string]any {
	fields := make(map[string]any, len(r.Records))
	unparsed := 0
	for _, rec := range r.Records {
		if rec.Unparsed {
			unparsed++
			continue
		}
		key := rec.Description
		if rec.SubIndex > 0 {
			key = key + "_" + strconv.Itoa(rec.SubIndex)
		}
		fields[key] = rec.Value
	}
	if unparsed > 0 {
		fields["unparsed_records"] = unparsed
	}
	return fields
}

// Driver decodes the application payload of telegrams its Descriptor
// claimed. Decode runs after CRC validation and decryption.
type Driver interface {
	Name() string
	Decode(ctx context.Context, t *frame.Telegram) ([]DataRecord, error)
}

// Descriptor is the static claim a driver registers with: which
// manufacturer, device types and versions it decodes. AnyVersion means
// "version Version and above"; an empty DeviceTypes list matches every
// device type.
type Descriptor struct {
	Manufacturer    uint16
	AnyManufacturer bool
	DeviceTypes     []byte
	Version         byte
	AnyVersion      bool
}

// Matches reports whether the descriptor claims the telegram's header.
func (d Descriptor) Matches(t *frame.Telegram) bool {
	if !d.AnyManufacturer && d.Manufacturer != t.Manufacturer {
		return false
	}
	if len(d.DeviceTypes) > 0 && !containsByte(d.DeviceTypes, t.DeviceType) {
		return false
	}
	if d.AnyVersion {
		return t.Version >= d.Version
	}
	return t.Version == d.Version
}

// Exact reports whether the claim pins one (manufacturer, version)
// pair. Exact claims outrank wildcard claims during lookup.
func (d Descriptor) Exact() bool {
	return !d.AnyManufacturer && !d.AnyVersion
}

func containsByte(list []byte, b byte) bool {
	for _, v := range list {
		if v == b {
			return true
		}
	}
	return false
}
