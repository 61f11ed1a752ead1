// Package catalog loads the static drink catalog: one entry per physical
// station slot, mapping the slot to a drink and its actuation parameters.
// The catalog seeds the retained config channel; operators can still override
// a station's config at runtime through the bus.
package catalog

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"brewfleet/backend/libs/protocol"
)

// Entry is one catalog row. DurationMs of zero means "use the Hot/Cold
// default configured on the controller".
type Entry struct {
	Slot       int    `yaml:"slot"`
	CoffeeID   string `yaml:"coffeeId"`
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Pin        int    `yaml:"pin"`
	DurationMs int64  `yaml:"durationMs"`
	Image      string `yaml:"image"`
	Roast      string `yaml:"roast"`
	Detail     string `yaml:"detail"`
}

// Catalog is the loaded, validated catalog.
type Catalog struct {
	entries []Entry
}

// StationID derives the stable station identity from a numeric slot.
func StationID(slot int) string {
	return "station" + strconv.Itoa(slot)
}

// Load reads and validates a YAML catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Drinks []Entry `yaml:"drinks"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: decode yaml: %w", err)
	}

	seen := make(map[int]bool, len(doc.Drinks))
	for i, e := range doc.Drinks {
		if e.Slot <= 0 {
			return nil, fmt.Errorf("catalog: entry %d: slot must be positive", i)
		}
		if seen[e.Slot] {
			return nil, fmt.Errorf("catalog: duplicate slot %d", e.Slot)
		}
		seen[e.Slot] = true
		if e.CoffeeID == "" {
			return nil, fmt.Errorf("catalog: slot %d: coffeeId is required", e.Slot)
		}
		if e.Pin <= 0 {
			return nil, fmt.Errorf("catalog: slot %d: pin is required", e.Slot)
		}
	}

	return &Catalog{entries: doc.Drinks}, nil
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Configs builds the full per-station actuation-config table. Entries with no
// explicit duration get the Hot or Cold default.
func (c *Catalog) Configs(hotMs, coldMs int64) []protocol.StationConfig {
	out := make([]protocol.StationConfig, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.config(hotMs, coldMs))
	}
	return out
}

// ForStation returns the config for one station id, if the catalog has a
// matching slot.
func (c *Catalog) ForStation(stationID string, hotMs, coldMs int64) (protocol.StationConfig, bool) {
	for _, e := range c.entries {
		if StationID(e.Slot) == stationID {
			return e.config(hotMs, coldMs), true
		}
	}
	return protocol.StationConfig{}, false
}

func (e Entry) config(hotMs, coldMs int64) protocol.StationConfig {
	brew := protocol.BrewHot
	if strings.EqualFold(e.Type, string(protocol.BrewCold)) {
		brew = protocol.BrewCold
	}

	duration := e.DurationMs
	if duration <= 0 {
		if brew == protocol.BrewCold {
			duration = coldMs
		} else {
			duration = hotMs
		}
	}

	return protocol.StationConfig{
		StationID:   StationID(e.Slot),
		CoffeeID:    e.CoffeeID,
		DisplayName: e.Name,
		Type:        brew,
		Pin:         e.Pin,
		DurationMs:  duration,
		Image:       e.Image,
		Roast:       e.Roast,
		Detail:      e.Detail,
	}
}
