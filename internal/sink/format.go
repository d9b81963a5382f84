package sink

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gitlab.com/d21d3q/wmbusd/internal/driver"
	"gitlab.com/d21d3q/wmbusd/internal/meter"
)

// Output formats.
const (
	FormatJSON   = "json"
	FormatFields = "fields"
	FormatHR     = "hr"
)

// Renderer turns a reading into one output line.
type Renderer struct {
	Format    string
	Fields    []string // fields format: which keys, in order
	Separator string
}

// Render formats a reading. The produced line never contains key
// material; only the flattened field map plus name, id, driver and
// timestamp.
func (r Renderer) Render(id meter.Identity, reading *driver.Reading) (string, error) {
	m := fieldMap(id, reading)
	switch r.Format {
	case FormatFields:
		return r.renderFields(m), nil
	case FormatHR:
		return renderHR(id, m), nil
	case FormatJSON, "":
		out, err := json.Marshal(m)
		if err != nil {
			return "", fmt.Errorf("render json: %w", err)
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("unknown output format %q", r.Format)
	}
}

func fieldMap(id meter.Identity, reading *driver.Reading) map[string]any {
	m := reading.Fields()
	m["name"] = id.Name
	m["id"] = id.ID
	if id.Driver != "" {
		m["driver"] = id.Driver
	}
	m["timestamp"] = reading.DecodedAt.Format("2006-01-02T15:04:05Z")
	return m
}

func (r Renderer) renderFields(m map[string]any) string {
	sep := r.Separator
	if sep == "" {
		sep = ";"
	}
	keys := r.Fields
	if len(keys) == 0 {
		keys = sortedKeys(m)
	}
	values := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok {
			values = append(values, fmt.Sprintf("%v", v))
		} else {
			values = append(values, "")
		}
	}
	return strings.Join(values, sep)
}

func renderHR(id meter.Identity, m map[string]any) string {
	var b strings.Builder
	b.WriteString(id.Name)
	b.WriteByte('\t')
	b.WriteString(id.ID)
	for _, k := range sortedKeys(m) {
		switch k {
		case "name", "id", "driver", "timestamp":
			continue
		}
		fmt.Fprintf(&b, "\t%s=%v", k, m[k])
	}
	if ts, ok := m["timestamp"]; ok {
		fmt.Fprintf(&b, "\t%v", ts)
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
