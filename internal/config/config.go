// Package config loads and validates the daemon configuration file.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the YAML file layout. Zero values fall back to the
// documented defaults via ApplyDefaults.
type Config struct {
	LogLevel     string `yaml:"loglevel"`
	LogTelegrams bool   `yaml:"logtelegrams"`
	Format       string `yaml:"format"` // json, fields, hr

	Fields    []string `yaml:"fields"`
	Separator string   `yaml:"separator"`

	MeterFiles *MeterFiles `yaml:"meterfiles"`
	Shell      string      `yaml:"shell"`
	MQTT       *MQTT       `yaml:"mqtt"`

	Meters []Meter `yaml:"meters"`
}

// MeterFiles configures the per-meter file sink.
type MeterFiles struct {
	Dir       string `yaml:"dir"`
	Action    string `yaml:"action"`    // overwrite, append
	Naming    string `yaml:"naming"`    // name, id, name-id
	Timestamp string `yaml:"timestamp"` // never, day, hour, minute
}

// MQTT configures the broker sink.
type MQTT struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
	QoS      byte   `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
}

// Meter is one configured meter entry. Key stays a hex string here;
// ParseKeyHex converts it at wiring time so the raw bytes never pass
// through the config layer's logs.
type Meter struct {
	Name   string `yaml:"name"`
	ID     string `yaml:"id"`
	Driver string `yaml:"driver"`
	Key    string `yaml:"key"`
}

var (
	meterIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}$`)
	namePattern    = regexp.MustCompile(`^[0-9A-Za-z_.-]+$`)
)

// Load reads, parses and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Format == "" {
		c.Format = "json"
	}
	if c.Separator == "" {
		c.Separator = ";"
	}
	if c.MeterFiles != nil {
		if c.MeterFiles.Action == "" {
			c.MeterFiles.Action = "overwrite"
		}
		if c.MeterFiles.Naming == "" {
			c.MeterFiles.Naming = "name"
		}
		if c.MeterFiles.Timestamp == "" {
			c.MeterFiles.Timestamp = "day"
		}
	}
	if c.MQTT != nil {
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = "wmbusd"
		}
		if c.MQTT.Prefix == "" {
			c.MQTT.Prefix = "wmbusd"
		}
	}
	for i := range c.Meters {
		if c.Meters[i].Driver == "" {
			c.Meters[i].Driver = "auto"
		}
	}
}

// Validate checks option values and every meter entry.
func (c *Config) Validate() error {
	switch c.Format {
	case "json", "fields", "hr":
	default:
		return fmt.Errorf("invalid format %q (json, fields or hr)", c.Format)
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid loglevel %q", c.LogLevel)
	}
	if mf := c.MeterFiles; mf != nil {
		if mf.Dir == "" {
			return fmt.Errorf("meterfiles requires dir")
		}
		switch mf.Action {
		case "overwrite", "append":
		default:
			return fmt.Errorf("invalid meterfiles action %q", mf.Action)
		}
		switch mf.Naming {
		case "name", "id", "name-id":
		default:
			return fmt.Errorf("invalid meterfiles naming %q", mf.Naming)
		}
		switch mf.Timestamp {
		case "never", "day", "hour", "minute":
		default:
			return fmt.Errorf("invalid meterfiles timestamp %q", mf.Timestamp)
		}
	}
	if c.MQTT != nil {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt requires broker")
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("invalid mqtt qos %d", c.MQTT.QoS)
		}
	}
	seen := make(map[string]string, len(c.Meters))
	for i, m := range c.Meters {
		if m.Name == "" || !namePattern.MatchString(m.Name) {
			return fmt.Errorf("meter %d: invalid name %q", i, m.Name)
		}
		if !meterIDPattern.MatchString(m.ID) {
			return fmt.Errorf("meter %q: id must be 8 hex digits, got %q", m.Name, m.ID)
		}
		id := strings.ToUpper(m.ID)
		if prev, dup := seen[id]; dup {
			return fmt.Errorf("meter %q: id %s already used by %q", m.Name, id, prev)
		}
		seen[id] = m.Name
		if m.Key != "" {
			if _, err := ParseKeyHex(m.Key); err != nil {
				return fmt.Errorf("meter %q: %w", m.Name, err)
			}
		}
	}
	return nil
}

// ParseKeyHex converts a 32-digit hex key to its 16 bytes. The error
// never echoes the key material.
func ParseKeyHex(s string) ([]byte, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	key, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("key is not valid hex")
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("key must be 16 bytes, got %d", len(key))
	}
	return key, nil
}
