// Package multical21 decodes Kamstrup Multical 21 water meters
// (C1 mode).
package multical21

import (
	"context"
	"fmt"
	"strings"

	"gitlab.com/d21d3q/wmbusd/internal/driver"
	"gitlab.com/d21d3q/wmbusd/internal/driver/wmbus"
	"gitlab.com/d21d3q/wmbusd/internal/frame"
)

const (
	manufacturerKAM = 0x2C2D
	versionC1       = 0x1B
)

func init() {
	driver.Register(driver.Descriptor{
		Manufacturer: manufacturerKAM,
		Version:      versionC1,
		DeviceTypes:  []byte{frame.DeviceWater, frame.DeviceColdWater},
	}, Driver{})
}

// Driver implements decoding for Multical 21 water meters.
type Driver struct{}

// Name returns the canonical driver name.
func (Driver) Name() string { return "multical21" }

// Decode extracts the consumption fields the meter transmits: current
// and target (billing date) volume, flow, and the two temperatures.
// The meter-specific alarm bits from the TPL status byte are appended
// as a status record.
func (Driver) Decode(_ context.Context, t *frame.Telegram) ([]driver.DataRecord, error) {
	records, _, err := wmbus.ParseRecords(t.Payload)
	if err != nil {
		return nil, err
	}
	out := make([]driver.DataRecord, 0, len(records)+2)
	for _, rec := range records {
		dr, err := convert(rec)
		if err != nil {
			return nil, fmt.Errorf("record VIF 0x%02X: %w", rec.VIF, err)
		}
		if dr != nil {
			out = append(out, *dr)
		}
	}
	out = append(out,
		driver.DataRecord{Description: "media", Value: "water"},
		driver.DataRecord{Description: "status", Value: statusString(t.Status)},
	)
	return out, nil
}

func convert(rec wmbus.Record) (*driver.DataRecord, error) {
	if rec.VIF < 0 {
		return &driver.DataRecord{Unparsed: true, Raw: rawRecord(rec)}, nil
	}
	switch {
	case isVolume(rec.VIF):
		q, _ := wmbus.QuantityForVIF(rec.VIF)
		v, err := wmbus.DecodeNumeric(rec)
		if err != nil {
			return nil, err
		}
		name := "total_m3"
		if rec.Storage > 0 {
			// Storage 1 is the volume at the most recent billing date.
			name = "target_m3"
		}
		return &driver.DataRecord{
			Description: name,
			Value:       wmbus.RoundTo(v*q.Scale, 6),
			Unit:        "m3",
		}, nil
	case isFlow(rec.VIF):
		q, _ := wmbus.QuantityForVIF(rec.VIF)
		v, err := wmbus.DecodeNumeric(rec)
		if err != nil {
			return nil, err
		}
		return &driver.DataRecord{
			Description: "flow_m3h",
			Value:       wmbus.RoundTo(v*q.Scale, 6),
			Unit:        "m3/h",
		}, nil
	case isFlowTemp(rec.VIF):
		q, _ := wmbus.QuantityForVIF(rec.VIF)
		v, err := wmbus.DecodeNumeric(rec)
		if err != nil {
			return nil, err
		}
		return &driver.DataRecord{
			Description: "flow_temperature_c",
			Value:       wmbus.RoundTo(v*q.Scale, 2),
			Unit:        "C",
		}, nil
	case isExternalTemp(rec.VIF):
		q, _ := wmbus.QuantityForVIF(rec.VIF)
		v, err := wmbus.DecodeNumeric(rec)
		if err != nil {
			return nil, err
		}
		return &driver.DataRecord{
			Description: "external_temperature_c",
			Value:       wmbus.RoundTo(v*q.Scale, 2),
			Unit:        "C",
		}, nil
	case rec.VIF == wmbus.VIFDateTime:
		ts, err := wmbus.DecodeTypeF(rec.Data)
		if err != nil {
			return nil, err
		}
		return &driver.DataRecord{
			Description: "meter_datetime",
			Value:       ts.Format("2006-01-02 15:04"),
		}, nil
	}
	// Fields the meter sends that billing does not consume.
	return nil, nil
}

func isVolume(v int) bool       { return v >= 0x10 && v <= 0x17 }
func isFlow(v int) bool         { return v >= 0x38 && v <= 0x3F }
func isFlowTemp(v int) bool     { return v >= 0x58 && v <= 0x5B }
func isExternalTemp(v int) bool { return v >= 0x64 && v <= 0x67 }

// Multical 21 alarm bits in the TPL status byte.
const (
	statusLeak    = 0x01
	statusBurst   = 0x02
	statusDry     = 0x04
	statusReverse = 0x08
)

func statusString(status byte) string {
	var parts []string
	if status&statusLeak != 0 {
		parts = append(parts, "LEAK")
	}
	if status&statusBurst != 0 {
		parts = append(parts, "BURST")
	}
	if status&statusDry != 0 {
		parts = append(parts, "DRY")
	}
	if status&statusReverse != 0 {
		parts = append(parts, "REVERSE")
	}
	if len(parts) == 0 {
		return "OK"
	}
	return strings.Join(parts, " ")
}

func rawRecord(rec wmbus.Record) []byte {
	raw := []byte{rec.DIF}
	raw = append(raw, rec.DIFE...)
	raw = append(raw, rec.RawVIF...)
	raw = append(raw, rec.Data...)
	return raw
}
