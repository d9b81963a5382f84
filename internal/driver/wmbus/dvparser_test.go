package wmbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gitlab.com/d21d3q/wmbusd/internal/testutil"
)

func TestParseRecords(t *testing.T) {
	var payload []byte
	payload = testutil.Record(payload, 0x0C, 0x13, testutil.BCD(66380, 4)...)          // total volume
	payload = testutil.Record(payload, 0x04, 0x6D, testutil.TypeF(2022, 10, 30, 8, 39)...) // datetime
	payload = testutil.Record(payload, 0x02, 0x5B, testutil.UintLE(215, 2)...)         // flow temp 21.5 C
	payload = append(payload, 0x2F, 0x2F)                                              // idle filler

	records, mfct, err := ParseRecords(payload)
	require.NoError(t, err)
	require.Empty(t, mfct)
	require.Len(t, records, 3)

	require.Equal(t, byte(0x0C), records[0].DIF)
	require.Equal(t, 0x13, records[0].VIF)
	v, err := DecodeNumeric(records[0])
	require.NoError(t, err)
	require.Equal(t, 66380.0, v)

	ts, err := DecodeTypeF(records[1].Data)
	require.NoError(t, err)
	require.Equal(t, time.Date(2022, 10, 30, 8, 39, 0, 0, time.UTC), ts)

	temp, err := DecodeNumeric(records[2])
	require.NoError(t, err)
	require.Equal(t, 215.0, temp)
}

func TestParseRecordsManufacturerTail(t *testing.T) {
	var payload []byte
	payload = testutil.Record(payload, 0x0C, 0x13, testutil.BCD(12, 4)...)
	payload = append(payload, 0x0F, 0xDE, 0xAD, 0xBE, 0xEF)

	records, mfct, err := ParseRecords(payload)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, mfct)
}

func TestParseRecordsDIFE(t *testing.T) {
	// Storage 1 (historic value) via a DIFE chain: DIF ext bit + DIFE 0x00
	// with storage bits.
	payload := []byte{0xCC, 0x08, 0x13}
	payload = append(payload, testutil.BCD(55, 4)...)

	records, _, err := ParseRecords(payload)
	require.NoError(t, err)
	require.Len(t, records, 1)
	// DIF 0xCC: storage LSB 1; DIFE 0x08: storage |= 1 << 4... bits: 8>>0&0xF=8 -> storage 1 | 8<<1 = 17.
	require.Equal(t, 17, records[0].Storage)
	require.Equal(t, 0x13, records[0].VIF)
}

func TestParseRecordsTariffSubunit(t *testing.T) {
	// DIFE 0x50: tariff bits 0b01, subunit bit 1.
	payload := []byte{0x84, 0x50, 0x06}
	payload = append(payload, testutil.UintLE(1000, 4)...)

	records, _, err := ParseRecords(payload)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 1, records[0].Tariff)
	require.Equal(t, 1, records[0].Subunit)
	require.Equal(t, 0x06, records[0].VIF)
}

func TestParseRecordsUnknownVIFDoesNotAbort(t *testing.T) {
	var payload []byte
	payload = append(payload, 0x02, 0xFD, 0x17) // extension table, VIFE 0x17
	payload = append(payload, testutil.UintLE(0, 2)...)
	payload = testutil.Record(payload, 0x0C, 0x13, testutil.BCD(7, 4)...)

	records, _, err := ParseRecords(payload)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.True(t, records[0].Unknown)
	require.Equal(t, -1, records[0].VIF)
	require.Equal(t, []byte{0xFD, 0x17}, records[0].RawVIF)
	require.False(t, records[1].Unknown)
}

func TestParseRecordsSelectionForReadout(t *testing.T) {
	// DIF 0x08 (selection for readout) carries no data; the volume
	// record behind it must still come through.
	var payload []byte
	payload = append(payload, 0x08, 0x13)
	payload = testutil.Record(payload, 0x0C, 0x13, testutil.BCD(1234, 4)...)

	records, _, err := ParseRecords(payload)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.True(t, records[0].Unknown)
	require.Equal(t, -1, records[0].VIF)
	require.Empty(t, records[0].Data)

	require.False(t, records[1].Unknown)
	v, err := DecodeNumeric(records[1])
	require.NoError(t, err)
	require.Equal(t, 1234.0, v)
}

func TestParseRecordsNoDataKeepsAlignment(t *testing.T) {
	// DIF 0x00 still owns a VIF byte; skipping only the DIF would make
	// the parser read that VIF as the next record's DIF.
	var payload []byte
	payload = append(payload, 0x00, 0x13)
	payload = testutil.Record(payload, 0x02, 0x5B, testutil.UintLE(215, 2)...)

	records, _, err := ParseRecords(payload)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.True(t, records[0].Unknown)
	require.Equal(t, []byte{0x13}, records[0].RawVIF)

	require.Equal(t, 0x5B, records[1].VIF)
	v, err := DecodeNumeric(records[1])
	require.NoError(t, err)
	require.Equal(t, 215.0, v)
}

func TestParseRecordsLVAR(t *testing.T) {
	payload := []byte{0x0D, 0x78, 0x04, 'A', '1', 'B', '2'}
	records, _, err := ParseRecords(payload)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, []byte("A1B2"), records[0].Data)
}

func TestParseRecordsTruncated(t *testing.T) {
	payload := []byte{0x0C, 0x13, 0x01} // BCD8 needs 4 data bytes
	_, _, err := ParseRecords(payload)
	require.Error(t, err)
}

func TestDecodeNumericSigned(t *testing.T) {
	rec := Record{DIF: 0x02, Data: []byte{0xFE, 0xFF}} // -2 as int16
	v, err := DecodeNumeric(rec)
	require.NoError(t, err)
	require.Equal(t, -2.0, v)
}

func TestDecodeBCDInvalid(t *testing.T) {
	_, err := DecodeBCD([]byte{0x1A})
	require.Error(t, err)
}

func TestQuantityForVIF(t *testing.T) {
	cases := []struct {
		vif   int
		name  string
		scale float64
	}{
		{0x13, "volume_m3", 1e-3},
		{0x06, "energy_kwh", 1},
		{0x2E, "power_kw", 1},
		{0x3B, "flow_m3h", 1e-3},
		{0x5B, "flow_temperature_c", 1},
		{0x5A, "flow_temperature_c", 1e-1},
		{0x5D, "return_temperature_c", 1e-2},
		{0x63, "temperature_diff_k", 1},
		{0x67, "external_temperature_c", 1},
	}
	for _, tc := range cases {
		q, ok := QuantityForVIF(tc.vif)
		require.True(t, ok, "vif 0x%02X", tc.vif)
		require.Equal(t, tc.name, q.Name, "vif 0x%02X", tc.vif)
		require.InEpsilon(t, tc.scale, q.Scale, 1e-12, "vif 0x%02X", tc.vif)
	}
	_, ok := QuantityForVIF(VIFDateTime)
	require.False(t, ok)
	_, ok = QuantityForVIF(-1)
	require.False(t, ok)
}

func TestRoundTo(t *testing.T) {
	require.Equal(t, 1.234, RoundTo(1.23449, 3))
}
