package wmbusd

import (
	"context"
	"fmt"

	"gitlab.com/d21d3q/wmbusd/internal/driver"
)

// FieldDiff is one field present in either of two compared telegrams.
// Delta is filled when both values are numeric.
type FieldDiff struct {
	Description string
	Unit        string
	SubIndex    int
	First       any
	Second      any
	Delta       float64
	HasDelta    bool
}

// Comparison reports how two telegrams of one meter differ. Records
// are matched by description, unit and sub-index; unparsed records are
// left out.
type Comparison struct {
	SameMeter   bool
	SameHeader  bool
	HeaderDiffs map[string][2]string
	// CanCompare is false when either telegram could not be decoded
	// (still encrypted, or no driver claimed it).
	CanCompare   bool
	Same         []FieldDiff
	Changed      []FieldDiff
	OnlyInFirst  []FieldDiff
	OnlyInSecond []FieldDiff
}

// CompareHex decodes two hex telegrams and reports their header and
// field differences.
func CompareHex(ctx context.Context, firstHex, secondHex string, opts AnalyzeOptions) (*Comparison, error) {
	first, err := AnalyzeHexWithOptions(ctx, firstHex, opts)
	if err != nil {
		return nil, fmt.Errorf("first telegram: %w", err)
	}
	second, err := AnalyzeHexWithOptions(ctx, secondHex, opts)
	if err != nil {
		return nil, fmt.Errorf("second telegram: %w", err)
	}

	cmp := &Comparison{HeaderDiffs: map[string][2]string{}}
	a, b := first.Telegram, second.Telegram
	cmp.SameMeter = a.MeterIDString() == b.MeterIDString()
	if !cmp.SameMeter {
		cmp.HeaderDiffs["meter_id"] = [2]string{a.MeterIDString(), b.MeterIDString()}
	}
	if a.ManufacturerCode() != b.ManufacturerCode() {
		cmp.HeaderDiffs["manufacturer"] = [2]string{a.ManufacturerCode(), b.ManufacturerCode()}
	}
	if a.Version != b.Version {
		cmp.HeaderDiffs["version"] = [2]string{
			fmt.Sprintf("0x%02X", a.Version), fmt.Sprintf("0x%02X", b.Version)}
	}
	if a.DeviceType != b.DeviceType {
		cmp.HeaderDiffs["device_type"] = [2]string{
			fmt.Sprintf("0x%02X", a.DeviceType), fmt.Sprintf("0x%02X", b.DeviceType)}
	}
	if a.Encrypted() != b.Encrypted() {
		cmp.HeaderDiffs["encrypted"] = [2]string{
			fmt.Sprintf("%t", a.Encrypted()), fmt.Sprintf("%t", b.Encrypted())}
	}
	cmp.SameHeader = len(cmp.HeaderDiffs) == 0

	if first.Reading == nil || second.Reading == nil {
		return cmp, nil
	}
	cmp.CanCompare = true
	compareRecords(cmp, first.Reading.Records, second.Reading.Records)
	return cmp, nil
}

type recordKey struct {
	description string
	unit        string
	subIndex    int
}

func compareRecords(cmp *Comparison, first, second []driver.DataRecord) {
	index := make(map[recordKey]driver.DataRecord, len(second))
	for _, rec := range second {
		if rec.Unparsed {
			continue
		}
		index[recordKey{rec.Description, rec.Unit, rec.SubIndex}] = rec
	}
	matched := make(map[recordKey]bool, len(first))

	for _, rec := range first {
		if rec.Unparsed {
			continue
		}
		key := recordKey{rec.Description, rec.Unit, rec.SubIndex}
		other, ok := index[key]
		if !ok {
			cmp.OnlyInFirst = append(cmp.OnlyInFirst, diffOf(rec, nil))
			continue
		}
		matched[key] = true
		d := diffOf(rec, &other)
		if rec.Value == other.Value {
			cmp.Same = append(cmp.Same, d)
		} else {
			cmp.Changed = append(cmp.Changed, d)
		}
	}
	for _, rec := range second {
		if rec.Unparsed {
			continue
		}
		if !matched[recordKey{rec.Description, rec.Unit, rec.SubIndex}] {
			cmp.OnlyInSecond = append(cmp.OnlyInSecond, FieldDiff{
				Description: rec.Description,
				Unit:        rec.Unit,
				SubIndex:    rec.SubIndex,
				Second:      rec.Value,
			})
		}
	}
}

func diffOf(first driver.DataRecord, second *driver.DataRecord) FieldDiff {
	d := FieldDiff{
		Description: first.Description,
		Unit:        first.Unit,
		SubIndex:    first.SubIndex,
		First:       first.Value,
	}
	if second == nil {
		return d
	}
	d.Second = second.Value
	va, aok := first.Value.(float64)
	vb, bok := second.Value.(float64)
	if aok && bok {
		d.Delta = vb - va
		d.HasDelta = true
	}
	return d
}
