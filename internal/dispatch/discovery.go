package dispatch

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gitlab.com/d21d3q/wmbusd/internal/driver"
	"gitlab.com/d21d3q/wmbusd/internal/frame"
	"gitlab.com/d21d3q/wmbusd/internal/meter"
)

// DiscoveredMeter aggregates what passive listening reveals about one
// unconfigured meter.
type DiscoveredMeter struct {
	ID            string
	Manufacturer  string
	DeviceType    string
	Version       byte
	Encrypted     bool
	Driver        string
	TelegramCount int
	FirstSeen     time.Time
	LastSeen      time.Time
	// Interval is the smoothed spacing between telegrams in seconds,
	// zero until a second telegram arrives.
	Interval float64
}

// Discovery collects headers of telegrams no configured meter claims,
// keyed by meter id. It never decodes payloads and never holds keys.
type Discovery struct {
	mu     sync.Mutex
	reg    *driver.Registry
	meters map[string]*DiscoveredMeter
	now    func() time.Time
	log    *logrus.Entry
}

// NewDiscovery returns an empty collector; nil means the default
// registry.
func NewDiscovery(registry *driver.Registry) *Discovery {
	if registry == nil {
		registry = driver.Default()
	}
	return &Discovery{
		reg:    registry,
		meters: make(map[string]*DiscoveredMeter),
		now:    time.Now,
		log:    logrus.WithField("component", "discovery"),
	}
}

// Observe records one telegram header. The first sighting of an id is
// logged; later ones only update the statistics.
func (c *Discovery) Observe(t *frame.Telegram) {
	id := t.MeterIDString()
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	dm, ok := c.meters[id]
	if !ok {
		dm = &DiscoveredMeter{ID: id, FirstSeen: now}
		c.meters[id] = dm
		c.log.WithFields(logrus.Fields{
			"id":           id,
			"manufacturer": t.ManufacturerCode(),
			"device_type":  frame.DeviceTypeName(t.DeviceType),
		}).Info("new meter discovered")
	}
	if dm.TelegramCount > 0 {
		gap := now.Sub(dm.LastSeen).Seconds()
		if dm.Interval == 0 {
			dm.Interval = gap
		} else {
			dm.Interval = dm.Interval*0.8 + gap*0.2
		}
	}
	dm.Manufacturer = t.ManufacturerCode()
	dm.DeviceType = frame.DeviceTypeName(t.DeviceType)
	dm.Version = t.Version
	dm.Encrypted = t.Encrypted()
	dm.LastSeen = now
	dm.TelegramCount++
	if drv, err := c.reg.Find(t); err == nil {
		dm.Driver = drv.Name()
	}
}

// Meters returns a snapshot sorted by meter id.
func (c *Discovery) Meters() []DiscoveredMeter {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DiscoveredMeter, 0, len(c.meters))
	for _, dm := range c.meters {
		out = append(out, *dm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByDeviceType returns telegram counts summed per device type name.
func (c *Discovery) ByDeviceType() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.meters))
	for _, dm := range c.meters {
		out[dm.DeviceType] += dm.TelegramCount
	}
	return out
}

// Suggested turns the collected meters into configuration identities:
// name derived from the device type and id, driver from the registry
// claim. Keys cannot be discovered and stay empty.
func (c *Discovery) Suggested() []meter.Identity {
	discovered := c.Meters()
	out := make([]meter.Identity, 0, len(discovered))
	for _, dm := range discovered {
		name := strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
				return r
			default:
				return '_'
			}
		}, strings.ToLower(dm.DeviceType))
		out = append(out, meter.Identity{
			Name:   name + "_" + strings.ToLower(dm.ID),
			ID:     dm.ID,
			Driver: dm.Driver,
		})
	}
	return out
}
