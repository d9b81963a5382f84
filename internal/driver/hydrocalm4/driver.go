// Package hydrocalm4 decodes B METERS Hydrocal M4 combined
// heat/cooling meters.
package hydrocalm4

import (
	"context"
	"fmt"

	"gitlab.com/d21d3q/wmbusd/internal/driver"
	"gitlab.com/d21d3q/wmbusd/internal/driver/wmbus"
	"gitlab.com/d21d3q/wmbusd/internal/frame"
)

const manufacturerBMT = 0x09B4

func init() {
	driver.Register(driver.Descriptor{
		Manufacturer: manufacturerBMT,
		AnyVersion:   true,
		DeviceTypes:  []byte{frame.DeviceHeat, frame.DeviceHeatCooling},
	}, Driver{})
}

// Driver implements decoding for Hydrocal M4 meters.
type Driver struct{}

// Name returns the canonical driver name.
func (Driver) Name() string { return "hydrocalm4" }

// Decode extracts the heating and cooling registers. The meter splits
// energy by tariff (0 heating, 1 cooling) and reports the two pulse
// inputs as subunits 1 and 2. Energy arrives in MJ on some firmware
// revisions and is normalized to kWh by the quantity table.
func (Driver) Decode(_ context.Context, t *frame.Telegram) ([]driver.DataRecord, error) {
	records, _, err := wmbus.ParseRecords(t.Payload)
	if err != nil {
		return nil, err
	}
	out := make([]driver.DataRecord, 0, len(records)+1)
	for _, rec := range records {
		dr, err := convert(rec)
		if err != nil {
			return nil, fmt.Errorf("record VIF 0x%02X: %w", rec.VIF, err)
		}
		if dr != nil {
			out = append(out, *dr)
		}
	}
	out = append(out, driver.DataRecord{Description: "media", Value: "heat/cooling load"})
	return out, nil
}

func convert(rec wmbus.Record) (*driver.DataRecord, error) {
	if rec.VIF < 0 {
		raw := []byte{rec.DIF}
		raw = append(raw, rec.DIFE...)
		raw = append(raw, rec.RawVIF...)
		raw = append(raw, rec.Data...)
		return &driver.DataRecord{Unparsed: true, Raw: raw}, nil
	}
	switch {
	case rec.VIF <= 0x0F: // Wh and J tables
		v, err := scaled(rec)
		if err != nil {
			return nil, err
		}
		name := "total_heating_kwh"
		if rec.Tariff == 1 {
			name = "total_cooling_kwh"
		}
		return &driver.DataRecord{Description: name, Value: v, Unit: "kWh"}, nil
	case rec.VIF >= 0x10 && rec.VIF <= 0x17:
		v, err := scaled(rec)
		if err != nil {
			return nil, err
		}
		var name string
		switch {
		case rec.Subunit == 1:
			name = "c1_volume_m3"
		case rec.Subunit == 2:
			name = "c2_volume_m3"
		case rec.Tariff == 1:
			name = "total_cooling_m3"
		default:
			name = "total_heating_m3"
		}
		return &driver.DataRecord{Description: name, Value: v, Unit: "m3"}, nil
	case rec.VIF >= 0x28 && rec.VIF <= 0x37: // W and J/h tables
		v, err := scaled(rec)
		if err != nil {
			return nil, err
		}
		return &driver.DataRecord{Description: "power_kw", Value: v, Unit: "kW"}, nil
	case rec.VIF >= 0x38 && rec.VIF <= 0x4F:
		v, err := scaled(rec)
		if err != nil {
			return nil, err
		}
		return &driver.DataRecord{Description: "volume_flow_m3h", Value: v, Unit: "m3/h"}, nil
	case rec.VIF >= 0x58 && rec.VIF <= 0x5B:
		v, err := scaled(rec)
		if err != nil {
			return nil, err
		}
		return &driver.DataRecord{Description: "supply_temperature_c", Value: v, Unit: "C"}, nil
	case rec.VIF >= 0x5C && rec.VIF <= 0x5F:
		v, err := scaled(rec)
		if err != nil {
			return nil, err
		}
		return &driver.DataRecord{Description: "return_temperature_c", Value: v, Unit: "C"}, nil
	case rec.VIF == wmbus.VIFDateTime:
		ts, err := wmbus.DecodeTypeF(rec.Data)
		if err != nil {
			return nil, err
		}
		return &driver.DataRecord{
			Description: "device_datetime",
			Value:       ts.Format("2006-01-02 15:04"),
		}, nil
	}
	return nil, nil
}

func scaled(rec wmbus.Record) (float64, error) {
	q, ok := wmbus.QuantityForVIF(rec.VIF)
	if !ok {
		return 0, fmt.Errorf("unsupported VIF 0x%02X", rec.VIF)
	}
	v, err := wmbus.DecodeNumeric(rec)
	if err != nil {
		return 0, err
	}
	return wmbus.RoundTo(v*q.Scale, 6), nil
}
