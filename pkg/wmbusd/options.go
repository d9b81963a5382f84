package wmbusd

import (
	"gitlab.com/d21d3q/wmbusd/internal/config"
	"gitlab.com/d21d3q/wmbusd/internal/driver"
)

// AnalyzeOptions configures one-shot decoding.
type AnalyzeOptions struct {
	// KeyHex is the 32-digit AES key, empty for plaintext telegrams.
	KeyHex string
	// Registry overrides the default driver registry, mostly for tests.
	Registry *driver.Registry
}

func (opts AnalyzeOptions) key() ([]byte, error) {
	if opts.KeyHex == "" {
		return nil, nil
	}
	return config.ParseKeyHex(opts.KeyHex)
}

func (opts AnalyzeOptions) registry() *driver.Registry {
	if opts.Registry != nil {
		return opts.Registry
	}
	return driver.Default()
}
