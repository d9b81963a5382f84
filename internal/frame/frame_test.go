package frame

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	raw := decodeHex(t, "4E44B4098686868613077AF00040052F2F0C1366380000046D27287E2A0F150E00000000C10000D10000E60000FD00000C01002F0100410100540100680100890000A00000B30000002F2F2F2F2F2F")
	tg, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, uint16(0x09B4), tg.Manufacturer)
	require.Equal(t, "BMT", tg.ManufacturerCode())
	require.Equal(t, "86868686", tg.MeterIDString())
	require.Equal(t, byte(0x7A), tg.CI)
	require.Equal(t, byte(0xF0), tg.AccessNumber)
	require.True(t, tg.TPL.Present)
	require.Equal(t, byte(5), tg.TPL.SecurityMode)
	require.Equal(t, 4, tg.TPL.EncryptedBlocks)
	require.True(t, tg.Encrypted())
}

func TestParseTooShort(t *testing.T) {
	_, err := Parse([]byte{0x08, 0x44, 0x2D, 0x2C})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMalformed))
}

func TestParseLengthMismatch(t *testing.T) {
	raw := decodeHex(t, "FF442D2C78563412011607")
	_, err := Parse(raw)
	require.True(t, errors.Is(err, ErrMalformed))
}

func TestParseHeaderOnly(t *testing.T) {
	raw := decodeHex(t, "09442D2C785634120116")
	tg, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "KAM", tg.ManufacturerCode())
	require.Equal(t, "12345678", tg.MeterIDString())
	require.Empty(t, tg.Payload)
	require.False(t, tg.Encrypted())
}

func TestManufacturerPackRoundTrip(t *testing.T) {
	for _, code := range []string{"KAM", "QDS", "BMT", "ABC", "ZZZ"} {
		require.Equal(t, code, ManufacturerCode(PackManufacturer(code)), code)
	}
	require.Equal(t, uint16(0x2C2D), PackManufacturer("KAM"))
	require.Equal(t, uint16(0x4493), PackManufacturer("QDS"))
	require.Equal(t, uint16(0), PackManufacturer("k4m"))
	require.Equal(t, uint16(0), PackManufacturer("AB"))
}

func TestStatusFlags(t *testing.T) {
	// CI 0x7A, access 5, status with reverse flow + battery alarm, mode 0.
	raw := decodeHex(t, "10442D2C785634120116 7A 05 44 0000 2F2F")
	tg, err := Parse(raw)
	require.NoError(t, err)
	require.True(t, tg.StatusFlags["status_reverse_flow"])
	require.True(t, tg.StatusFlags["status_battery_alarm"])
	require.False(t, tg.StatusFlags["status_freezing"])
	require.Equal(t, byte(5), tg.AccessNumber)
}

func TestDeviceTypeName(t *testing.T) {
	require.Equal(t, "water", DeviceTypeName(DeviceWater))
	require.Equal(t, "cold water", DeviceTypeName(DeviceColdWater))
	require.Equal(t, "unknown (0x7E)", DeviceTypeName(0x7E))
}

func decodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		t.Fatalf("hex decode: %v", err)
	}
	return b
}
