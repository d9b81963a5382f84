// Package testutil builds synthetic Wireless M-Bus telegrams for
// tests: link-layer frames, short TPL headers, DIF/VIF records and
// format A block CRCs.
package testutil

import (
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gitlab.com/d21d3q/wmbusd/internal/crc"
	"gitlab.com/d21d3q/wmbusd/internal/frame"
)

// FrameSpec describes one synthetic telegram. Manufacturer is the
// three-letter code; MeterID the 8-digit display form (MSB first).
type FrameSpec struct {
	Control      byte
	Manufacturer string
	MeterID      string
	Version      byte
	DeviceType   byte
	CI           byte
	AccessNumber byte
	Status       byte
	Config       uint16 // security configuration word, 0 = plaintext
	Payload      []byte
}

// BuildFrame assembles a frame (without block CRCs) and fills in the
// L-field. The short TPL is emitted for CI 0x7A.
func BuildFrame(t *testing.T, spec FrameSpec) []byte {
	t.Helper()
	if spec.Control == 0 {
		spec.Control = 0x44 // SND-NR
	}
	buf := make([]byte, 0, 16+len(spec.Payload))
	buf = append(buf, 0) // L, patched below
	buf = append(buf, spec.Control)
	buf = binary.LittleEndian.AppendUint16(buf, frame.PackManufacturer(spec.Manufacturer))
	buf = append(buf, meterIDBytes(t, spec.MeterID)...)
	buf = append(buf, spec.Version, spec.DeviceType, spec.CI)
	if spec.CI == 0x7A {
		buf = append(buf, spec.AccessNumber, spec.Status)
		buf = binary.LittleEndian.AppendUint16(buf, spec.Config)
	}
	buf = append(buf, spec.Payload...)
	buf[0] = byte(len(buf) - 1)
	return buf
}

// WithBlockCRCs inserts format A block CRCs into a plain frame.
func WithBlockCRCs(t *testing.T, plain []byte) []byte {
	t.Helper()
	out := make([]byte, 0, len(plain)+2*(len(plain)/16+2))
	pos := 0
	blockLen := 10
	for pos < len(plain) {
		if blockLen > len(plain)-pos {
			blockLen = len(plain) - pos
		}
		block := plain[pos : pos+blockLen]
		sum := crc.Checksum(block)
		out = append(out, block...)
		out = append(out, byte(sum>>8), byte(sum))
		pos += blockLen
		blockLen = 16
	}
	return out
}

func meterIDBytes(t *testing.T, display string) []byte {
	t.Helper()
	raw, err := hex.DecodeString(display)
	if err != nil || len(raw) != 4 {
		t.Fatalf("meter id must be 8 hex digits, got %q", display)
	}
	// Display form is MSB first, wire order is little endian.
	return []byte{raw[3], raw[2], raw[1], raw[0]}
}

// Record appends one DIF/VIF data record.
func Record(buf []byte, dif, vif byte, data ...byte) []byte {
	buf = append(buf, dif, vif)
	return append(buf, data...)
}

// BCD encodes value as little-endian packed BCD over n bytes.
func BCD(value int, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(value%10) | byte(value/10%10)<<4
		value /= 100
	}
	return out
}

// UintLE encodes value little-endian over n bytes.
func UintLE(value uint64, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(value >> (8 * i))
	}
	return out
}

// TypeF encodes a Type F datetime (minute, hour, day, month, year).
func TypeF(year int, month, day, hour, minute byte) []byte {
	y := year - 2000
	return []byte{
		minute & 0x3F,
		hour & 0x1F,
		day&0x1F | byte(y&0x07)<<5,
		month&0x0F | byte(y>>3)<<4,
	}
}

// TypeG encodes a Type G date (day, month, year).
func TypeG(year int, month, day byte) []byte {
	y := year - 2000
	return []byte{
		day&0x1F | byte(y&0x07)<<5,
		month&0x0F | byte(y>>3)<<4,
	}
}

// LoadHex returns a trimmed hex string from a testdata file, searching
// upward the way packages nested under internal/ need.
func LoadHex(t *testing.T, rel string) string {
	t.Helper()
	return strings.TrimSpace(string(readTestdata(t, rel)))
}

func readTestdata(t *testing.T, rel string) []byte {
	t.Helper()
	candidates := []string{
		filepath.Join("testdata", rel),
		filepath.Join("..", "testdata", rel),
		filepath.Join("..", "..", "testdata", rel),
	}
	for _, path := range candidates {
		if data, err := os.ReadFile(path); err == nil {
			return data
		}
	}
	t.Fatalf("unable to locate testdata file %s", rel)
	return nil
}
