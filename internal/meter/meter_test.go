package meter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"gitlab.com/d21d3q/wmbusd/internal/crypto"
	"gitlab.com/d21d3q/wmbusd/internal/driver"
	_ "gitlab.com/d21d3q/wmbusd/internal/driver/generic"
	_ "gitlab.com/d21d3q/wmbusd/internal/driver/multical21"
	"gitlab.com/d21d3q/wmbusd/internal/frame"
	"gitlab.com/d21d3q/wmbusd/internal/testutil"
)

const meterID = "12345678"

func kamFrame(t *testing.T, access byte, volume int) []byte {
	t.Helper()
	payload := testutil.Record(nil, 0x0C, 0x13, testutil.BCD(volume, 4)...)
	return testutil.BuildFrame(t, testutil.FrameSpec{
		Manufacturer: "KAM",
		MeterID:      meterID,
		Version:      0x1B,
		DeviceType:   frame.DeviceColdWater,
		CI:           0x7A,
		AccessNumber: access,
		Payload:      payload,
	})
}

func newMeter(name string) *Meter {
	return New(Identity{Name: "kitchen", ID: meterID, Driver: name}, driver.Default())
}

func TestProcessTelegram(t *testing.T) {
	m := newMeter("auto")
	reading, err := m.ProcessTelegram(context.Background(), kamFrame(t, 5, 1234))
	require.NoError(t, err)
	require.Equal(t, meterID, reading.MeterID)
	require.Equal(t, byte(5), reading.AccessNumber)
	require.Equal(t, 1.234, reading.Fields()["total_m3"])
	require.True(t, m.Bound())
	require.Equal(t, "multical21", m.DriverName())
}

func TestProcessTelegramWithBlockCRCs(t *testing.T) {
	m := newMeter("auto")
	raw := testutil.WithBlockCRCs(t, kamFrame(t, 5, 1234))
	reading, err := m.ProcessTelegram(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, 1.234, reading.Fields()["total_m3"])
}

func TestProcessTelegramCrcMismatch(t *testing.T) {
	m := newMeter("auto")
	raw := testutil.WithBlockCRCs(t, kamFrame(t, 5, 1234))
	raw[3] ^= 0x01
	_, err := m.ProcessTelegram(context.Background(), raw)
	require.ErrorIs(t, err, ErrCrcMismatch)
	require.Nil(t, m.LastReading())
}

func TestOutOfOrderRejected(t *testing.T) {
	m := newMeter("auto")
	ctx := context.Background()

	first, err := m.ProcessTelegram(ctx, kamFrame(t, 5, 1234))
	require.NoError(t, err)

	_, err = m.ProcessTelegram(ctx, kamFrame(t, 3, 9999))
	require.ErrorIs(t, err, ErrOutOfOrder)
	require.Same(t, first, m.LastReading())

	_, err = m.ProcessTelegram(ctx, kamFrame(t, 5, 9999))
	require.ErrorIs(t, err, ErrOutOfOrder)

	second, err := m.ProcessTelegram(ctx, kamFrame(t, 6, 2000))
	require.NoError(t, err)
	require.Equal(t, 2.0, second.Fields()["total_m3"])
}

func TestAccessNumberWraparound(t *testing.T) {
	m := newMeter("auto")
	ctx := context.Background()

	_, err := m.ProcessTelegram(ctx, kamFrame(t, 250, 100))
	require.NoError(t, err)

	// 250 -> 10 is 16 steps forward modulo 256.
	_, err = m.ProcessTelegram(ctx, kamFrame(t, 10, 200))
	require.NoError(t, err)

	// 10 -> 250 is 240 steps forward, outside the window.
	_, err = m.ProcessTelegram(ctx, kamFrame(t, 250, 300))
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestAddressMismatch(t *testing.T) {
	m := New(Identity{Name: "other", ID: "99999999"}, driver.Default())
	_, err := m.ProcessTelegram(context.Background(), kamFrame(t, 5, 1234))
	require.ErrorIs(t, err, ErrAddressMismatch)
}

func TestExplicitDriverName(t *testing.T) {
	m := newMeter("multical21")
	_, err := m.ProcessTelegram(context.Background(), kamFrame(t, 5, 1234))
	require.NoError(t, err)
	require.Equal(t, "multical21", m.DriverName())
}

func TestUnknownDriverNameLeavesUnbound(t *testing.T) {
	m := newMeter("nosuch")
	_, err := m.ProcessTelegram(context.Background(), kamFrame(t, 5, 1234))
	require.ErrorIs(t, err, driver.ErrUnknownDriver)
	require.False(t, m.Bound())
	require.Nil(t, m.LastReading())
}

func TestEncryptedWithoutKey(t *testing.T) {
	raw := testutil.BuildFrame(t, testutil.FrameSpec{
		Manufacturer: "KAM",
		MeterID:      meterID,
		Version:      0x1B,
		DeviceType:   frame.DeviceColdWater,
		CI:           0x7A,
		AccessNumber: 1,
		Config:       0x0520, // mode 5, 2 encrypted blocks
		Payload:      make([]byte, 32),
	})
	m := newMeter("auto")
	_, err := m.ProcessTelegram(context.Background(), raw)
	require.ErrorIs(t, err, crypto.ErrKeyRequired)
}

func TestCallerTelegramNotMutated(t *testing.T) {
	raw := kamFrame(t, 5, 1234)
	tg, err := frame.Parse(raw)
	require.NoError(t, err)
	payloadBefore := append([]byte(nil), tg.Payload...)

	m := newMeter("auto")
	_, err = m.ProcessParsed(context.Background(), &tg)
	require.NoError(t, err)
	require.Equal(t, payloadBefore, tg.Payload)
}
