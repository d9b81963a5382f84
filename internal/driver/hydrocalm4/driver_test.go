package hydrocalm4

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"gitlab.com/d21d3q/wmbusd/internal/driver"
	"gitlab.com/d21d3q/wmbusd/internal/frame"
	"gitlab.com/d21d3q/wmbusd/internal/testutil"
)

func buildTelegram(t *testing.T, payload []byte) *frame.Telegram {
	t.Helper()
	raw := testutil.BuildFrame(t, testutil.FrameSpec{
		Manufacturer: "BMT",
		MeterID:      "87654321",
		Version:      0x13,
		DeviceType:   frame.DeviceHeatCooling,
		CI:           0x7A,
		AccessNumber: 0x07,
		Payload:      payload,
	})
	tg, err := frame.Parse(raw)
	require.NoError(t, err)
	return &tg
}

func fieldsOf(records []driver.DataRecord) map[string]any {
	r := driver.Reading{Records: records}
	return r.Fields()
}

func TestDecode(t *testing.T) {
	var payload []byte
	payload = testutil.Record(payload, 0x04, 0x6D, testutil.TypeF(2023, 6, 1, 12, 0)...)
	payload = testutil.Record(payload, 0x0C, 0x06, testutil.BCD(1500, 4)...) // heating kWh
	// Cooling energy, tariff 1.
	payload = append(payload, 0x8C, 0x10, 0x06)
	payload = append(payload, testutil.BCD(320, 4)...)
	payload = testutil.Record(payload, 0x0C, 0x13, testutil.BCD(88123, 4)...) // heating m3
	// C1 pulse input volume, subunit 1.
	payload = append(payload, 0x8C, 0x40, 0x13)
	payload = append(payload, testutil.BCD(42, 4)...)
	payload = testutil.Record(payload, 0x0A, 0x5A, testutil.BCD(451, 2)...) // 45.1 C
	payload = testutil.Record(payload, 0x0A, 0x5E, testutil.BCD(322, 2)...) // 32.2 C

	records, err := Driver{}.Decode(context.Background(), buildTelegram(t, payload))
	require.NoError(t, err)

	fields := fieldsOf(records)
	require.Equal(t, "2023-06-01 12:00", fields["device_datetime"])
	require.Equal(t, 1500.0, fields["total_heating_kwh"])
	require.Equal(t, 320.0, fields["total_cooling_kwh"])
	require.Equal(t, 88.123, fields["total_heating_m3"])
	require.Equal(t, 0.042, fields["c1_volume_m3"])
	require.Equal(t, 45.1, fields["supply_temperature_c"])
	require.Equal(t, 32.2, fields["return_temperature_c"])
	require.Equal(t, "heat/cooling load", fields["media"])
}

func TestDecodeEnergyMJNormalized(t *testing.T) {
	// VIF 0x0B: energy in MJ (10^3 J scale); 3600 MJ = 1000 kWh.
	payload := testutil.Record(nil, 0x04, 0x0B, testutil.UintLE(3_600_000, 4)...)
	records, err := Driver{}.Decode(context.Background(), buildTelegram(t, payload))
	require.NoError(t, err)
	require.Equal(t, 1000.0, fieldsOf(records)["total_heating_kwh"])
}

func TestRegistration(t *testing.T) {
	tg := buildTelegram(t, nil)
	drv, err := driver.Default().Find(tg)
	require.NoError(t, err)
	require.Equal(t, "hydrocalm4", drv.Name())
}
