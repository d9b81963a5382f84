// Package wmbus parses the self-describing DIF/VIF record stream that
// EN 13757-3 application payloads carry, and decodes record values into
// Go types.
package wmbus

import "fmt"

// Record is one parsed DIF/VIF entry. VIF is -1 when the value
// information used extension tables this package does not interpret,
// or when the DIF carries no value bytes; such records keep their raw
// tag bytes and are flagged, never dropped.
type Record struct {
	DIF     byte
	DIFE    []byte
	VIF     int
	RawVIF  []byte
	Data    []byte
	Storage int
	Tariff  int
	Subunit int
	Unknown bool
}

const (
	difIdleFiller   = 0x2F
	difManufacturer = 0x0F
)

// ParseRecords walks the payload and returns its records, along with
// any manufacturer-specific tail (everything after a DIF 0x0F marker,
// marker excluded). A record with an unrecognized tag is returned
// flagged; only a truncated payload is an error.
func ParseRecords(payload []byte) ([]Record, []byte, error) {
	records := make([]Record, 0, 8)
	i := 0
	for i < len(payload) {
		dif := payload[i]
		i++
		if dif == difIdleFiller {
			continue
		}
		if dif == difManufacturer {
			return records, payload[i:], nil
		}
		rec := Record{DIF: dif}
		storage := int((dif >> 6) & 0x01)
		tariff := 0
		subunit := 0
		difenr := 0

		hasDIFE := dif&0x80 != 0
		for hasDIFE {
			if i >= len(payload) {
				return nil, nil, fmt.Errorf("unexpected end of payload while reading DIFE")
			}
			dife := payload[i]
			i++
			rec.DIFE = append(rec.DIFE, dife)
			subunit |= int((dife>>6)&0x01) << difenr
			tariff |= int((dife>>4)&0x03) << (difenr * 2)
			storage |= int(dife&0x0F) << (1 + difenr*4)
			hasDIFE = dife&0x80 != 0
			difenr++
		}
		if i >= len(payload) {
			return nil, nil, fmt.Errorf("unexpected end of payload before VIF")
		}

		vifByte := payload[i]
		i++
		rec.RawVIF = append(rec.RawVIF, vifByte)
		switch {
		case vifByte == 0xFB || vifByte == 0xFD || vifByte == 0xEF || vifByte == 0xFF:
			// Extension tables; consume the chain, keep the record raw.
			rec.VIF = -1
			rec.Unknown = true
			for i < len(payload) && payload[i]&0x80 != 0 {
				rec.RawVIF = append(rec.RawVIF, payload[i])
				i++
			}
			if i < len(payload) {
				rec.RawVIF = append(rec.RawVIF, payload[i])
				i++
			}
		case vifByte&0x80 != 0:
			// Primary VIF with VIFE chain: the base quantity still
			// applies, the extensions (per-tariff, averages) do not.
			rec.VIF = int(vifByte & 0x7F)
			rec.Unknown = true
			for i < len(payload) && payload[i]&0x80 != 0 {
				rec.RawVIF = append(rec.RawVIF, payload[i])
				i++
			}
			if i < len(payload) {
				rec.RawVIF = append(rec.RawVIF, payload[i])
				i++
			}
		default:
			rec.VIF = int(vifByte & 0x7F)
		}

		length, variable, ok := LengthForDIF(dif)
		if !ok || (!variable && length == 0) {
			// Selection-for-readout and no-data codes carry a VIF but
			// no value bytes. The tag is kept as a flagged record so
			// the stream stays aligned and the records around it
			// survive.
			rec.VIF = -1
			rec.Unknown = true
			length, variable = 0, false
		}
		if variable {
			if i >= len(payload) {
				return nil, nil, fmt.Errorf("payload ended before LVAR length byte")
			}
			length = int(payload[i])
			i++
		}
		if i+length > len(payload) {
			return nil, nil, fmt.Errorf("payload truncated for DIF 0x%02X", dif)
		}
		if length > 0 {
			rec.Data = append(rec.Data, payload[i:i+length]...)
			i += length
		}

		rec.Storage = storage
		rec.Tariff = tariff
		rec.Subunit = subunit
		records = append(records, rec)
	}
	return records, nil, nil
}

// LengthForDIF returns the data length encoded in the DIF data-field
// nibble. variable marks the LVAR encoding (length byte precedes the
// data); ok is false for the reserved selection-for-readout code.
func LengthForDIF(dif byte) (length int, variable, ok bool) {
	switch dif & 0x0F {
	case 0x00:
		return 0, false, true
	case 0x01:
		return 1, false, true
	case 0x02:
		return 2, false, true
	case 0x03:
		return 3, false, true
	case 0x04:
		return 4, false, true
	case 0x05:
		return 4, false, true // 32-bit real
	case 0x06:
		return 6, false, true
	case 0x07:
		return 8, false, true
	case 0x08:
		return 0, false, false // selection for readout
	case 0x09:
		return 1, false, true // BCD2
	case 0x0A:
		return 2, false, true
	case 0x0B:
		return 3, false, true
	case 0x0C:
		return 4, false, true
	case 0x0D:
		return 0, true, true // LVAR
	case 0x0E:
		return 6, false, true
	default:
		return 0, false, true // 0x0F handled by the caller
	}
}
