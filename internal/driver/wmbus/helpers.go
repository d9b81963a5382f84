package wmbus

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// DecodeNumeric interprets a record's data bytes per its DIF type and
// returns the unscaled value: little-endian two's complement for the
// integer types, packed BCD for the BCD types, IEEE 754 for real32.
func DecodeNumeric(rec Record) (float64, error) {
	switch rec.DIF & 0x0F {
	case 0x01, 0x02, 0x03, 0x04, 0x06, 0x07:
		return float64(decodeIntLE(rec.Data)), nil
	case 0x05:
		if len(rec.Data) != 4 {
			return 0, fmt.Errorf("real32 requires 4 bytes, got %d", len(rec.Data))
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(rec.Data))), nil
	case 0x09, 0x0A, 0x0B, 0x0C, 0x0E:
		v, err := DecodeBCD(rec.Data)
		return float64(v), err
	default:
		return 0, fmt.Errorf("DIF 0x%02X carries no numeric value", rec.DIF)
	}
}

func decodeIntLE(b []byte) int64 {
	var v uint64
	for i, by := range b {
		v |= uint64(by) << (8 * i)
	}
	// Sign-extend from the encoded width.
	shift := 64 - 8*len(b)
	return int64(v<<shift) >> shift
}

// DecodeBCD converts packed BCD bytes (little-endian nibble order) to
// an integer.
func DecodeBCD(b []byte) (int64, error) {
	var value, multiplier int64 = 0, 1
	for _, by := range b {
		low := int64(by & 0x0F)
		high := int64(by >> 4)
		if low > 9 || high > 9 {
			return 0, fmt.Errorf("invalid BCD byte: 0x%02X", by)
		}
		value += low * multiplier
		multiplier *= 10
		value += high * multiplier
		multiplier *= 10
	}
	return value, nil
}

// DecodeTypeF decodes the four-byte Type F timestamp (minute, hour,
// day+year-low, month+year-high).
func DecodeTypeF(b []byte) (time.Time, error) {
	if len(b) != 4 {
		return time.Time{}, fmt.Errorf("type F datetime requires 4 bytes, got %d", len(b))
	}
	minute := int(b[0] & 0x3F)
	hour := int(b[1] & 0x1F)
	day := int(b[2] & 0x1F)
	month := int(b[3] & 0x0F)
	year := 2000 + int((b[3]>>4)<<3|(b[2]>>5)&0x07)
	if minute > 59 || hour > 23 || day == 0 || day > 31 || month == 0 || month > 12 {
		return time.Time{}, fmt.Errorf("invalid type F datetime: %02X%02X%02X%02X", b[0], b[1], b[2], b[3])
	}
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC), nil
}

// DecodeTypeG decodes the two-byte Type G date.
func DecodeTypeG(b []byte) (time.Time, error) {
	if len(b) != 2 {
		return time.Time{}, fmt.Errorf("type G date requires 2 bytes, got %d", len(b))
	}
	day := int(b[0] & 0x1F)
	month := int(b[1] & 0x0F)
	year := 2000 + int((b[1]>>4)<<3|(b[0]>>5)&0x07)
	if day == 0 || day > 31 || month == 0 || month > 12 {
		return time.Time{}, fmt.Errorf("invalid type G date: %02X%02X", b[0], b[1])
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}

// RoundTo rounds value to the given number of decimals. Driver outputs
// use it so BCD scaling does not leak float artifacts into readings.
func RoundTo(value float64, decimals int) float64 {
	pow := math.Pow10(decimals)
	return math.Round(value*pow) / pow
}
