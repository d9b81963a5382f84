package wmbusd

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"gitlab.com/d21d3q/wmbusd/internal/frame"
	"gitlab.com/d21d3q/wmbusd/internal/testutil"
)

// abcWaterHex builds the unencrypted reference telegram: manufacturer
// ABC, water meter, one volume record with raw value 1234 at 0.001 m3.
func abcWaterHex(t *testing.T) string {
	t.Helper()
	payload := testutil.Record(nil, 0x0C, 0x13, testutil.BCD(1234, 4)...)
	// Idle filler pads the frame to 30 bytes.
	payload = append(payload, 0x2F, 0x2F, 0x2F, 0x2F, 0x2F, 0x2F, 0x2F, 0x2F, 0x2F)
	raw := testutil.BuildFrame(t, testutil.FrameSpec{
		Manufacturer: "ABC",
		MeterID:      "12345678",
		Version:      0x01,
		DeviceType:   frame.DeviceWater,
		CI:           0x7A,
		AccessNumber: 0x01,
		Payload:      payload,
	})
	require.Len(t, raw, 30)
	return hex.EncodeToString(raw)
}

func TestAnalyzeHexEndToEnd(t *testing.T) {
	res, err := AnalyzeHex(context.Background(), abcWaterHex(t))
	require.NoError(t, err)

	require.Equal(t, "auto", res.Driver)
	require.Equal(t, 30, res.ByteCount)
	require.Equal(t, "12345678", res.Telegram.MeterIDString())
	require.Equal(t, "ABC", res.Telegram.ManufacturerCode())

	require.NotNil(t, res.Reading)
	require.Equal(t, 1.234, res.Fields["volume_m3"])

	v, err := res.FieldSet().Float("volume_m3")
	require.NoError(t, err)
	require.Equal(t, 1.234, v)
}

func TestAnalyzeHexSeparators(t *testing.T) {
	raw := abcWaterHex(t)
	spaced := strings.ToUpper(raw[:8]) + " | " + raw[8:16] + "_" + raw[16:]
	res, err := AnalyzeHex(context.Background(), spaced)
	require.NoError(t, err)
	require.Equal(t, 1.234, res.Fields["volume_m3"])
	require.Equal(t, strings.ToUpper(raw), res.RawHex)
}

func TestAnalyzeHexWithBlockCRCs(t *testing.T) {
	plain, err := hex.DecodeString(abcWaterHex(t))
	require.NoError(t, err)
	framed := testutil.WithBlockCRCs(t, plain)

	res, err := AnalyzeHex(context.Background(), hex.EncodeToString(framed))
	require.NoError(t, err)
	require.Equal(t, 1.234, res.Fields["volume_m3"])
}

func TestAnalyzeHexBadInput(t *testing.T) {
	_, err := AnalyzeHex(context.Background(), "0C1")
	require.Error(t, err) // odd digit count

	_, err = AnalyzeHex(context.Background(), "ZZZZ")
	require.Error(t, err)

	_, err = AnalyzeHex(context.Background(), "09442D2C")
	require.Error(t, err) // truncated header
}

func TestAnalyzeHexMissingKeyPartialResult(t *testing.T) {
	payload := make([]byte, 32)
	raw := testutil.BuildFrame(t, testutil.FrameSpec{
		Manufacturer: "KAM",
		MeterID:      "12345678",
		Version:      0x1B,
		DeviceType:   frame.DeviceColdWater,
		CI:           0x7A,
		AccessNumber: 0x05,
		Config:       0x0520,
		Payload:      payload,
	})

	res, err := AnalyzeHex(context.Background(), hex.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, "multical21", res.Driver)
	require.Nil(t, res.Reading)
	require.Equal(t, "12345678", res.Fields["id"])
	require.Contains(t, res.Fields["encryption"], "key")
}

func TestAnalyzeHexCandidates(t *testing.T) {
	res, err := AnalyzeHex(context.Background(), abcWaterHex(t))
	require.NoError(t, err)
	require.NotEmpty(t, res.Candidates)
	require.Equal(t, "auto", res.Candidates[0].Driver)
}

func TestAnalyzeHexInvalidKey(t *testing.T) {
	_, err := AnalyzeHexWithOptions(context.Background(), abcWaterHex(t), AnalyzeOptions{KeyHex: "1234"})
	require.Error(t, err)
}

func TestResultString(t *testing.T) {
	res, err := AnalyzeHex(context.Background(), abcWaterHex(t))
	require.NoError(t, err)
	out := res.String()
	require.Contains(t, out, `"driver": "auto"`)
	require.Contains(t, out, `"meter_id": "12345678"`)
	require.Contains(t, out, "volume_m3")
}
