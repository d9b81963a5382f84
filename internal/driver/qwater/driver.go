// Package qwater decodes Qundis water meters (Q water 5.5, Q water S,
// Q water Plus).
package qwater

import (
	"context"
	"fmt"
	"strings"

	"gitlab.com/d21d3q/wmbusd/internal/driver"
	"gitlab.com/d21d3q/wmbusd/internal/driver/wmbus"
	"gitlab.com/d21d3q/wmbusd/internal/frame"
)

const manufacturerQDS = 0x4493

func init() {
	driver.Register(driver.Descriptor{
		Manufacturer: manufacturerQDS,
		AnyVersion:   true,
		DeviceTypes: []byte{
			frame.DeviceWater,
			frame.DeviceWarmWater,
			frame.DeviceHotWater,
			frame.DeviceColdWater,
		},
	}, Driver{})
}

// Driver implements decoding for Qundis water meters.
type Driver struct{}

// Name returns the canonical driver name.
func (Driver) Name() string { return "qwater" }

// Decode extracts the current volume, the due-date volume and date
// (storage 1), the meter clock and the Qundis status bits.
func (Driver) Decode(_ context.Context, t *frame.Telegram) ([]driver.DataRecord, error) {
	records, _, err := wmbus.ParseRecords(t.Payload)
	if err != nil {
		return nil, err
	}
	out := make([]driver.DataRecord, 0, len(records)+3)
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
		driver.DataRecord{Description: "model", Value: model(t.Version)},
		driver.DataRecord{Description: "status", Value: statusString(t.Status)},
	)
	return out, nil
}

func convert(rec wmbus.Record) (*driver.DataRecord, error) {
	if rec.VIF < 0 {
		return &driver.DataRecord{Unparsed: true, Raw: rawRecord(rec)}, nil
	}
	switch {
	case rec.VIF >= 0x10 && rec.VIF <= 0x17:
		q, _ := wmbus.QuantityForVIF(rec.VIF)
		v, err := wmbus.DecodeNumeric(rec)
		if err != nil {
			return nil, err
		}
		name := "total_m3"
		if rec.Storage > 0 {
			name = "due_date_m3"
		}
		return &driver.DataRecord{
			Description: name,
			Value:       wmbus.RoundTo(v*q.Scale, 6),
			Unit:        "m3",
		}, nil
	case rec.VIF == wmbus.VIFDate:
		d, err := wmbus.DecodeTypeG(rec.Data)
		if err != nil {
			return nil, err
		}
		name := "meter_date"
		if rec.Storage > 0 {
			name = "due_date"
		}
		return &driver.DataRecord{
			Description: name,
			Value:       d.Format("2006-01-02"),
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
	case rec.VIF >= 0x38 && rec.VIF <= 0x3F:
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
	case rec.VIF >= 0x24 && rec.VIF <= 0x27:
		q, _ := wmbus.QuantityForVIF(rec.VIF)
		v, err := wmbus.DecodeNumeric(rec)
		if err != nil {
			return nil, err
		}
		return &driver.DataRecord{
			Description: "operating_time_h",
			Value:       wmbus.RoundTo(v*q.Scale, 3),
			Unit:        "h",
		}, nil
	case rec.VIF == wmbus.VIFFabricationNo:
		v, err := wmbus.DecodeNumeric(rec)
		if err != nil {
			return nil, err
		}
		return &driver.DataRecord{
			Description: "fabrication_no",
			Value:       fmt.Sprintf("%.0f", v),
		}, nil
	}
	return nil, nil
}

// Qundis model by version field.
func model(version byte) string {
	switch version {
	case 0x01:
		return "Q water 5.5"
	case 0x02:
		return "Q water S"
	case 0x03:
		return "Q water Plus"
	default:
		return "Qundis Water Meter"
	}
}

// Qundis status bits in the TPL status byte.
const (
	statusLeak    = 0x01
	statusReverse = 0x02
	statusBurst   = 0x04
	statusTamper  = 0x08
	statusNoUsage = 0x10
	statusError   = 0x20
)

func statusString(status byte) string {
	var parts []string
	if status&statusLeak != 0 {
		parts = append(parts, "LEAK")
	}
	if status&statusReverse != 0 {
		parts = append(parts, "REVERSE")
	}
	if status&statusBurst != 0 {
		parts = append(parts, "BURST")
	}
	if status&statusTamper != 0 {
		parts = append(parts, "TAMPER")
	}
	if status&statusNoUsage != 0 {
		parts = append(parts, "NO_USAGE")
	}
	if status&statusError != 0 {
		parts = append(parts, "ERROR")
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
