package driver

import (
	"errors"
	"fmt"
	"sync"

	"gitlab.com/d21d3q/wmbusd/internal/frame"
)

var (
	// ErrNoMatch reports a header no registered driver claims.
	ErrNoMatch = errors.New("no driver matches telegram header")
	// ErrAmbiguous reports two or more drivers with identical exact
	// claims for one header. This is a configuration error; it is never
	// silently resolved because a wrong pick mis-decodes billing data.
	ErrAmbiguous = errors.New("ambiguous driver match")
	// ErrUnknownDriver reports a configured driver name that was never
	// registered.
	ErrUnknownDriver = errors.New("unknown driver name")
)

// Registry holds drivers in registration order and selects them by
// header claim. Lookups take a read lock so concurrent receivers can
// share one registry; registration is expected at startup.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

type entry struct {
	desc   Descriptor
	driver Driver
}

// Candidate is one Analyze result: a driver whose claim matches a
// header, with the claim that matched.
type Candidate struct {
	Driver     string
	Descriptor Descriptor
	Exact      bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a driver claim. Duplicate exact claims are accepted
// here and reported by Find, so a misconfiguration surfaces on the
// telegram it would have damaged.
func (r *Registry) Register(desc Descriptor, drv Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{desc: desc, driver: drv})
}

// Find selects the driver for a telegram header. Exact claims are
// preferred over wildcard claims; more than one matching exact claim is
// ErrAmbiguous. Among wildcards, manufacturer-pinned claims outrank
// any-manufacturer claims, then registration order decides. The result
// is deterministic for a given registry and header.
func (r *Registry) Find(t *frame.Telegram) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var exact, pinned, loose []entry
	for _, e := range r.entries {
		if !e.desc.Matches(t) {
			continue
		}
		switch {
		case e.desc.Exact():
			exact = append(exact, e)
		case !e.desc.AnyManufacturer:
			pinned = append(pinned, e)
		default:
			loose = append(loose, e)
		}
	}
	switch {
	case len(exact) > 1:
		return nil, fmt.Errorf("%w: %s and %s both claim %s device 0x%02X version 0x%02X",
			ErrAmbiguous, exact[0].driver.Name(), exact[1].driver.Name(),
			t.ManufacturerCode(), t.DeviceType, t.Version)
	case len(exact) == 1:
		return exact[0].driver, nil
	case len(pinned) > 0:
		return pinned[0].driver, nil
	case len(loose) > 0:
		return loose[0].driver, nil
	}
	return nil, fmt.Errorf("%w: manufacturer %s device 0x%02X version 0x%02X",
		ErrNoMatch, t.ManufacturerCode(), t.DeviceType, t.Version)
}

// FindByName returns the first registered driver with the given name.
func (r *Registry) FindByName(name string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.driver.Name() == name {
			return e.driver, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
}

// Analyze lists every driver claiming the header, in registration
// order, without decoding anything. Diagnostic use only.
func (r *Registry) Analyze(t *frame.Telegram) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Candidate
	for _, e := range r.entries {
		if e.desc.Matches(t) {
			out = append(out, Candidate{
				Driver:     e.driver.Name(),
				Descriptor: e.desc,
				Exact:      e.desc.Exact(),
			})
		}
	}
	return out
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry driver packages register
// into from init().
func Default() *Registry {
	return defaultRegistry
}

// Register adds a driver claim to the default registry.
func Register(desc Descriptor, drv Driver) {
	defaultRegistry.Register(desc, drv)
}
