package drivers

import (
	"fmt"

	"github.com/pulsegrid/fusion/internal/model"
)

// Registry of drivers keyed by connector category. Populated from driver
// package init(); cmd/fusion blank-imports the drivers it ships.
var registry = map[model.ConnectorCategory]Driver{}

// Register adds a driver for its category. Duplicate registration is a
// wiring bug and panics at startup.
func Register(d Driver) {
	cat := d.Category()
	if _, exists := registry[cat]; exists {
		panic(fmt.Sprintf("drivers: duplicate registration for category %q", cat))
	}
	registry[cat] = d
}

// ForCategory returns the driver for a connector category.
func ForCategory(cat model.ConnectorCategory) (Driver, error) {
	d, ok := registry[cat]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
	}
	return d, nil
}

// Categories lists the registered categories, for config validation.
func Categories() []model.ConnectorCategory {
	out := make([]model.ConnectorCategory, 0, len(registry))
	for cat := range registry {
		out = append(out, cat)
	}
	return out
}
