// Package frame splits raw Wireless M-Bus telegrams into their
// link-layer header fields and application payload. It performs no CRC
// checking and no decryption.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every structural parse failure.
var ErrMalformed = errors.New("malformed wmbus frame")

// Minimum fixed link-layer header: L, C, M(2), A(4), version, device type.
const headerLen = 10

// Telegram is a structurally parsed Wireless M-Bus frame. The Raw bytes
// are never modified; Payload starts as a view into them and is only
// reassigned (to a fresh slice) after decryption.
type Telegram struct {
	Raw          []byte
	Length       byte
	Control      byte
	Manufacturer uint16
	MeterID      [4]byte
	Version      byte
	DeviceType   byte
	CI           byte
	AccessNumber byte
	Status       byte
	TPL          TPLInfo
	StatusFlags  map[string]bool
	Payload      []byte
}

// TPLInfo carries the short transport-layer header that follows CI 0x7A:
// access number, status and the security configuration word.
type TPLInfo struct {
	Present         bool
	AccessField     byte
	StatusField     byte
	Config          uint16
	SecurityMode    byte
	EncryptedBlocks int
}

// Parse extracts the link-layer header and, for CI 0x7A, the short TPL
// from a raw frame whose block CRCs have already been stripped.
func Parse(raw []byte) (Telegram, error) {
	if len(raw) < headerLen {
		return Telegram{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformed, len(raw), headerLen)
	}
	length := raw[0]
	if int(length)+1 != len(raw) {
		return Telegram{}, fmt.Errorf("%w: declared length %d does not match actual length %d", ErrMalformed, length, len(raw))
	}
	t := Telegram{
		Raw:          raw,
		Length:       length,
		Control:      raw[1],
		Manufacturer: binary.LittleEndian.Uint16(raw[2:4]),
	}
	copy(t.MeterID[:], raw[4:8])
	t.Version = raw[8]
	t.DeviceType = raw[9]
	t.StatusFlags = map[string]bool{}
	if len(raw) == headerLen {
		return t, nil
	}

	t.CI = raw[10]
	cursor := 11
	if t.CI == ciShortTPL && shortTPLPresent(raw, 11) {
		tpl, consumed, err := parseShortTPL(raw, 11)
		if err != nil {
			return Telegram{}, err
		}
		t.TPL = tpl
		t.AccessNumber = tpl.AccessField
		t.Status = tpl.StatusField
		t.StatusFlags = decodeStatusFlags(tpl.StatusField)
		cursor = 11 + consumed
	}
	if cursor > len(raw) {
		return Telegram{}, fmt.Errorf("%w: payload offset %d exceeds telegram length %d", ErrMalformed, cursor, len(raw))
	}
	t.Payload = raw[cursor:]
	return t, nil
}

const ciShortTPL = 0x7A

// MeterIDString returns the EN 13757 display format (MSB first).
func (t Telegram) MeterIDString() string {
	return fmt.Sprintf("%02X%02X%02X%02X", t.MeterID[3], t.MeterID[2], t.MeterID[1], t.MeterID[0])
}

// ManufacturerCode unpacks the 2-byte manufacturer field into its
// three-letter code: three 5-bit groups, offset from 'A'-1.
func (t Telegram) ManufacturerCode() string {
	return ManufacturerCode(t.Manufacturer)
}

// ManufacturerCode converts a packed manufacturer value to its
// three-letter code.
func ManufacturerCode(packed uint16) string {
	return string([]byte{
		byte((packed>>10)&0x1F) + 'A' - 1,
		byte((packed>>5)&0x1F) + 'A' - 1,
		byte(packed&0x1F) + 'A' - 1,
	})
}

// PackManufacturer is the inverse of ManufacturerCode. Anything but
// three upper-case letters packs as zero.
func PackManufacturer(code string) uint16 {
	if len(code) != 3 {
		return 0
	}
	var packed uint16
	for i := 0; i < 3; i++ {
		c := code[i]
		if c < 'A' || c > 'Z' {
			return 0
		}
		packed = packed<<5 | uint16(c-'A'+1)
	}
	return packed
}

// Encrypted reports whether the security configuration announces an
// encrypted payload.
func (t Telegram) Encrypted() bool {
	return t.TPL.Present && t.TPL.SecurityMode != 0
}

// EN 13757-3 device types, as far as the shipped drivers care.
const (
	DeviceOther       = 0x00
	DeviceElectricity = 0x02
	DeviceGas         = 0x03
	DeviceHeat        = 0x04
	DeviceWarmWater   = 0x06
	DeviceWater       = 0x07
	DeviceHeatCooling = 0x0D
	DeviceHotWater    = 0x11
	DeviceColdWater   = 0x12
)

var deviceTypeNames = map[byte]string{
	DeviceOther:       "other",
	0x01:              "oil",
	DeviceElectricity: "electricity",
	DeviceGas:         "gas",
	DeviceHeat:        "heat",
	0x05:              "steam",
	DeviceWarmWater:   "warm water",
	DeviceWater:       "water",
	0x08:              "heat cost allocator",
	0x0A:              "cooling load meter",
	DeviceHeatCooling: "heat/cooling load",
	DeviceHotWater:    "hot water",
	DeviceColdWater:   "cold water",
	0x16:              "smoke detector",
	0x17:              "room sensor",
}

// DeviceTypeName returns a human-readable name for an EN 13757-3 device
// type code.
func DeviceTypeName(code byte) string {
	if name, ok := deviceTypeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("unknown (0x%02X)", code)
}

var statusFlagDefs = []struct {
	mask byte
	key  string
}{
	{0x80, "status_empty_pipe"},
	{0x40, "status_reverse_flow"},
	{0x20, "status_freezing"},
	{0x10, "status_temp_alarm"},
	{0x08, "status_perm_alarm"},
	{0x04, "status_battery_alarm"},
	{0x02, "status_hw_alarm"},
}

func decodeStatusFlags(status byte) map[string]bool {
	flags := make(map[string]bool)
	for _, def := range statusFlagDefs {
		if status&def.mask != 0 {
			flags[def.key] = true
		}
	}
	return flags
}

func parseShortTPL(data []byte, offset int) (TPLInfo, int, error) {
	if len(data) < offset+4 {
		return TPLInfo{}, 0, fmt.Errorf("%w: short TPL header truncated", ErrMalformed)
	}
	tpl := TPLInfo{
		Present:     true,
		AccessField: data[offset],
		StatusField: data[offset+1],
	}
	cfg := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
	tpl.Config = cfg
	tpl.SecurityMode = byte((cfg >> 8) & 0x1F)
	if tpl.SecurityMode == 5 {
		tpl.EncryptedBlocks = int((cfg >> 4) & 0x0F)
	}
	return tpl, 4, nil
}

func shortTPLPresent(data []byte, offset int) bool {
	if len(data) < offset+4 {
		return false
	}
	// Idle filler right after CI means the TPL was omitted.
	if data[offset] == 0x2F && data[offset+1] == 0x2F {
		return false
	}
	return true
}
