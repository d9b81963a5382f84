// Package generic decodes any telegram whose payload is a standard
// DIF/VIF record stream. It claims every header with a wildcard, so a
// meter without a dedicated driver still yields readings; dedicated
// drivers always win the registry lookup.
package generic

import (
	"context"
	"encoding/hex"
	"fmt"

	"gitlab.com/d21d3q/wmbusd/internal/driver"
	"gitlab.com/d21d3q/wmbusd/internal/driver/wmbus"
	"gitlab.com/d21d3q/wmbusd/internal/frame"
)

func init() {
	driver.Register(driver.Descriptor{
		AnyManufacturer: true,
		AnyVersion:      true,
	}, Driver{})
}

// Driver decodes payloads using only the standard primary VIF tables.
type Driver struct{}

// Name returns the canonical driver name.
func (Driver) Name() string { return "auto" }

// Decode parses the record stream and maps every record it can to a
// named quantity. Records with extension VIFs or reserved codes come
// back unparsed rather than failing the telegram.
func (Driver) Decode(_ context.Context, t *frame.Telegram) ([]driver.DataRecord, error) {
	records, mfct, err := wmbus.ParseRecords(t.Payload)
	if err != nil {
		return nil, err
	}
	out := make([]driver.DataRecord, 0, len(records)+1)
	for _, rec := range records {
		out = append(out, convert(rec))
	}
	if len(mfct) > 0 {
		out = append(out, driver.DataRecord{
			Description: "manufacturer_data",
			Value:       hex.EncodeToString(mfct),
			Unparsed:    true,
			Raw:         mfct,
		})
	}
	return out, nil
}

func convert(rec wmbus.Record) driver.DataRecord {
	// A record whose VIF came from an extension table cannot be named.
	// One with a known base VIF and uninterpreted VIFEs still decodes
	// to the base quantity.
	if rec.VIF < 0 {
		return unparsed(rec)
	}
	switch rec.VIF {
	case wmbus.VIFDateTime:
		ts, err := wmbus.DecodeTypeF(rec.Data)
		if err != nil {
			return unparsed(rec)
		}
		return named(rec, driver.DataRecord{
			Description: "meter_datetime",
			Value:       ts.Format("2006-01-02 15:04"),
		})
	case wmbus.VIFDate:
		d, err := wmbus.DecodeTypeG(rec.Data)
		if err != nil {
			return unparsed(rec)
		}
		return named(rec, driver.DataRecord{
			Description: "meter_date",
			Value:       d.Format("2006-01-02"),
		})
	case wmbus.VIFFabricationNo:
		v, err := wmbus.DecodeNumeric(rec)
		if err != nil {
			return unparsed(rec)
		}
		return named(rec, driver.DataRecord{
			Description: "fabrication_no",
			Value:       fmt.Sprintf("%.0f", v),
		})
	}
	q, ok := wmbus.QuantityForVIF(rec.VIF)
	if !ok {
		return unparsed(rec)
	}
	v, err := wmbus.DecodeNumeric(rec)
	if err != nil {
		return unparsed(rec)
	}
	return named(rec, driver.DataRecord{
		Description: q.Name,
		Value:       wmbus.RoundTo(v*q.Scale, 6),
		Unit:        q.Unit,
	})
}

// named carries the record's storage number into the sub-index so a
// historic value never overwrites the current one in field maps.
func named(rec wmbus.Record, out driver.DataRecord) driver.DataRecord {
	out.SubIndex = rec.Storage
	return out
}

func unparsed(rec wmbus.Record) driver.DataRecord {
	raw := []byte{rec.DIF}
	raw = append(raw, rec.DIFE...)
	raw = append(raw, rec.RawVIF...)
	raw = append(raw, rec.Data...)
	return driver.DataRecord{Unparsed: true, Raw: raw}
}
