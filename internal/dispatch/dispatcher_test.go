package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"gitlab.com/d21d3q/wmbusd/internal/driver"
	_ "gitlab.com/d21d3q/wmbusd/internal/driver/generic"
	_ "gitlab.com/d21d3q/wmbusd/internal/driver/multical21"
	"gitlab.com/d21d3q/wmbusd/internal/frame"
	"gitlab.com/d21d3q/wmbusd/internal/meter"
	"gitlab.com/d21d3q/wmbusd/internal/testutil"
)

func kamFrame(t *testing.T, id string, access byte, volume int) []byte {
	t.Helper()
	payload := testutil.Record(nil, 0x0C, 0x13, testutil.BCD(volume, 4)...)
	return testutil.BuildFrame(t, testutil.FrameSpec{
		Manufacturer: "KAM",
		MeterID:      id,
		Version:      0x1B,
		DeviceType:   frame.DeviceColdWater,
		CI:           0x7A,
		AccessNumber: access,
		Payload:      payload,
	})
}

func TestDispatchToConfiguredMeter(t *testing.T) {
	d := New(nil)
	_, err := d.AddMeter(meter.Identity{Name: "kitchen", ID: "12345678", Driver: "auto"})
	require.NoError(t, err)

	m, reading, err := d.ProcessTelegram(context.Background(), kamFrame(t, "12345678", 1, 1500))
	require.NoError(t, err)
	require.Equal(t, "kitchen", m.Identity().Name)
	require.Equal(t, 1.5, reading.Fields()["total_m3"])
}

func TestDispatchUnknownMeter(t *testing.T) {
	d := New(nil)
	_, _, err := d.ProcessTelegram(context.Background(), kamFrame(t, "12345678", 1, 1500))
	require.ErrorIs(t, err, ErrUnknownMeter)
}

func TestDispatchCrcMismatch(t *testing.T) {
	d := New(nil)
	_, err := d.AddMeter(meter.Identity{Name: "kitchen", ID: "12345678"})
	require.NoError(t, err)

	raw := testutil.WithBlockCRCs(t, kamFrame(t, "12345678", 1, 1500))
	raw[2] ^= 0x40
	_, _, err = d.ProcessTelegram(context.Background(), raw)
	require.ErrorIs(t, err, meter.ErrCrcMismatch)
}

func TestDuplicateMeterRejected(t *testing.T) {
	d := New(nil)
	_, err := d.AddMeter(meter.Identity{Name: "a", ID: "12345678"})
	require.NoError(t, err)
	_, err = d.AddMeter(meter.Identity{Name: "b", ID: "12345678"})
	require.ErrorIs(t, err, ErrDuplicateMeter)
	require.Len(t, d.Meters(), 1)
}

func TestMeterIDCaseInsensitive(t *testing.T) {
	d := New(nil)
	_, err := d.AddMeter(meter.Identity{Name: "kitchen", ID: "12abcdef"})
	require.NoError(t, err)

	_, _, err = d.ProcessTelegram(context.Background(), kamFrame(t, "12ABCDEF", 1, 100))
	require.NoError(t, err)
}

func TestAnalyzeTelegram(t *testing.T) {
	d := New(nil)
	a, err := d.AnalyzeTelegram(context.Background(), kamFrame(t, "12345678", 9, 42))
	require.NoError(t, err)
	require.Equal(t, "KAM", a.Manufacturer)
	require.Equal(t, "12345678", a.MeterID)
	require.Equal(t, byte(0x1B), a.Version)
	require.False(t, a.Encrypted)
	require.NotEmpty(t, a.Candidates)

	names := make([]string, 0, len(a.Candidates))
	for _, c := range a.Candidates {
		names = append(names, c.Driver)
	}
	require.Contains(t, names, "multical21")
	require.Contains(t, names, "auto")
}

func TestIsolatedRegistry(t *testing.T) {
	d := New(driver.NewRegistry())
	_, err := d.AddMeter(meter.Identity{Name: "kitchen", ID: "12345678"})
	require.NoError(t, err)

	_, _, err = d.ProcessTelegram(context.Background(), kamFrame(t, "12345678", 1, 100))
	require.ErrorIs(t, err, driver.ErrNoMatch)
}
