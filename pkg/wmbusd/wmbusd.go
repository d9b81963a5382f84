// Package wmbusd is the public one-shot decoding surface: feed it a
// hex telegram, get back the driver, header summary and decoded
// fields.
package wmbusd

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"gitlab.com/d21d3q/wmbusd/internal/crc"
	"gitlab.com/d21d3q/wmbusd/internal/crypto"
	"gitlab.com/d21d3q/wmbusd/internal/driver"
	_ "gitlab.com/d21d3q/wmbusd/internal/driver/generic"    // register driver
	_ "gitlab.com/d21d3q/wmbusd/internal/driver/hydrocalm4" // register driver
	_ "gitlab.com/d21d3q/wmbusd/internal/driver/multical21" // register driver
	_ "gitlab.com/d21d3q/wmbusd/internal/driver/qwater"     // register driver
	"gitlab.com/d21d3q/wmbusd/internal/frame"
)

// Result captures the outcome of AnalyzeHex.
type Result struct {
	Driver     string
	RawHex     string
	ByteCount  int
	Telegram   *frame.Telegram
	Reading    *driver.Reading
	Fields     map[string]any
	Candidates []driver.Candidate
}

// String renders a JSON representation of the result.
func (r Result) String() string {
	summary := map[string]any{
		"driver":     r.Driver,
		"byte_count": r.ByteCount,
		"raw_hex":    r.RawHex,
	}
	if r.Telegram != nil {
		summary["meter_id"] = r.Telegram.MeterIDString()
		summary["manufacturer"] = r.Telegram.ManufacturerCode()
		summary["device_type"] = frame.DeviceTypeName(r.Telegram.DeviceType)
		summary["version"] = fmt.Sprintf("0x%02X", r.Telegram.Version)
		summary["ci"] = fmt.Sprintf("0x%02X", r.Telegram.CI)
	}
	if len(r.Fields) > 0 {
		summary["fields"] = r.Fields
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Sprintf("driver: %s bytes:%d raw:%s (marshal error: %v)", r.Driver, r.ByteCount, r.RawHex, err)
	}
	return string(data)
}

// AnalyzeHex parses the telegram, selects a driver from the default
// registry and returns the decoded fields.
func AnalyzeHex(ctx context.Context, raw string) (Result, error) {
	return AnalyzeHexWithOptions(ctx, raw, AnalyzeOptions{})
}

// AnalyzeHexWithOptions parses the telegram with custom options. A
// telegram that needs a key which was not supplied still yields a
// partial result with the header fields filled in.
func AnalyzeHexWithOptions(ctx context.Context, raw string, opts AnalyzeOptions) (Result, error) {
	key, err := opts.key()
	if err != nil {
		return Result{}, err
	}
	data, err := decodeHex(raw)
	if err != nil {
		return Result{}, err
	}
	if crc.HasBlockCRC(data) {
		if !crc.Validate(data) {
			return Result{}, fmt.Errorf("block crc mismatch")
		}
		if data, err = crc.Strip(data); err != nil {
			return Result{}, err
		}
	}
	telegram, err := frame.Parse(data)
	if err != nil {
		return Result{}, err
	}

	registry := opts.registry()
	result := Result{
		Driver:     "unknown",
		RawHex:     strings.ToUpper(stripSeparators(raw)),
		ByteCount:  len(data),
		Telegram:   &telegram,
		Candidates: registry.Analyze(&telegram),
	}

	drv, err := registry.Find(&telegram)
	if err != nil {
		return result, nil
	}
	result.Driver = drv.Name()

	if err := crypto.Decrypt(&telegram, key); err != nil {
		if errors.Is(err, crypto.ErrKeyRequired) {
			result.Fields = headerFields(&telegram)
			result.Fields["encryption"] = err.Error()
			return result, nil
		}
		return result, err
	}

	records, err := drv.Decode(ctx, &telegram)
	if err != nil {
		result.Fields = headerFields(&telegram)
		result.Fields["error"] = err.Error()
		return result, nil
	}
	result.Reading = &driver.Reading{
		MeterID:      telegram.MeterIDString(),
		AccessNumber: telegram.AccessNumber,
		DecodedAt:    time.Now().UTC(),
		Records:      records,
	}
	result.Fields = result.Reading.Fields()
	return result, nil
}

func headerFields(t *frame.Telegram) map[string]any {
	return map[string]any{
		"id":           t.MeterIDString(),
		"manufacturer": t.ManufacturerCode(),
		"device_type":  frame.DeviceTypeName(t.DeviceType),
		"version":      fmt.Sprintf("0x%02X", t.Version),
	}
}

func decodeHex(input string) ([]byte, error) {
	clean := stripSeparators(input)
	if strings.HasPrefix(strings.ToUpper(clean), "0X") {
		clean = clean[2:]
	}
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("hex telegram must contain an even number of digits, got %d", len(clean))
	}
	decoded := make([]byte, len(clean)/2)
	if _, err := hex.Decode(decoded, []byte(clean)); err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return decoded, nil
}

func stripSeparators(s string) string {
	builder := strings.Builder{}
	builder.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) || r == '|' || r == '_' {
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}
