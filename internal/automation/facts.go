package automation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulsegrid/fusion/internal/data"
)

// Facts is the flat fact table an automation run evaluates and templates
// against. Keys are dotted paths (event.type, device.name,
// area.armedState, event.payload.displayState). An entity the trigger
// could not resolve simply contributes no facts; leaves referencing a
// missing fact evaluate false.
type Facts map[string]interface{}

func (f Facts) addEvent(e *data.Event) {
	f["event.id"] = e.EventID.String()
	f["event.category"] = string(e.Category)
	f["event.type"] = string(e.Type)
	f["event.subtype"] = e.Subtype
	// Raw enum ids under distinct names so templates can pick either
	// form; category/type double as their own display strings.
	f["event.categoryId"] = string(e.Category)
	f["event.typeId"] = string(e.Type)
	f["event.subtypeId"] = e.Subtype
	f["event.deviceId"] = e.DeviceExternalID
	f["event.occurredAt"] = e.OccurredAt.UTC().Format(time.RFC3339Nano)
	// Payload scalars are exposed one level deep; nested structures stay
	// addressable as whole values.
	for k, v := range e.Payload {
		f["event.payload."+k] = v
	}
	// Well-known payload fields surface as top-level event facts.
	aliasPayload := map[string]string{
		"displayState":      "event.displayState",
		"originalEventType": "event.originalEventType",
		"buttonNumber":      "event.buttonNumber",
		"pressType":         "event.buttonPressType",
	}
	for src, dst := range aliasPayload {
		if v, ok := e.Payload[src]; ok {
			f[dst] = v
		}
	}
}

func (f Facts) addDevice(d *data.Device) {
	if d == nil {
		return
	}
	f["device.id"] = d.ID.String()
	f["device.externalId"] = d.ExternalID
	f["device.name"] = d.Name
	f["device.type"] = string(d.Type)
	f["device.subtype"] = d.Subtype
}

func (f Facts) addArea(a *data.Area) {
	if a == nil {
		return
	}
	f["area.id"] = a.ID.String()
	f["area.name"] = a.Name
	f["area.armedState"] = string(a.ArmedState)
}

func (f Facts) addLocation(l *data.Location) {
	if l == nil {
		return
	}
	f["location.id"] = l.ID.String()
	f["location.name"] = l.Name
}

func (f Facts) addConnector(c *data.Connector) {
	if c == nil {
		return
	}
	f["connector.id"] = c.ID.String()
	f["connector.name"] = c.Name
	f["connector.category"] = string(c.Category)
}

func (f Facts) addSchedule(firedAt time.Time) {
	f["schedule.firedAt"] = firedAt.UTC().Format(time.RFC3339)
}

// lookup returns the fact value for a dotted path.
func (f Facts) lookup(path string) (interface{}, bool) {
	v, ok := f[path]
	return v, ok
}

// eventTime recovers the trigger event's instant, so vendor-timeline
// actions stamp the moment the event happened rather than the moment
// the action ran. Scheduled runs have no event and fall back to now.
func (f Facts) eventTime() time.Time {
	if s, ok := f["event.occurredAt"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

// render returns the template form of a fact value: scalars as plain
// strings, everything else as compact JSON.
func renderValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return fmt.Sprintf("%t", t)
	case float64:
		// JSON numbers decode to float64; print integers without the
		// trailing zero.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
