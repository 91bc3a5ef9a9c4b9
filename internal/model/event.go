package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventCategory is the closed top-level classification of a
// standardized event.
type EventCategory string

const (
	CategoryStateChange EventCategory = "STATE_CHANGE"
	CategoryAccess      EventCategory = "ACCESS"
	CategoryAnalytics   EventCategory = "ANALYTICS"
	CategoryDiagnostic  EventCategory = "DIAGNOSTIC"
	CategoryButton      EventCategory = "BUTTON"
	CategoryBattery     EventCategory = "BATTERY"
	CategoryStatus      EventCategory = "STATUS"
)

// EventType narrows the category. Vendor report types map onto these
// in the driver mapping tables; anything unmapped yields no event.
type EventType string

const (
	TypeStateChanged        EventType = "STATE_CHANGED"
	TypeAccessGranted       EventType = "ACCESS_GRANTED"
	TypeAccessDenied        EventType = "ACCESS_DENIED"
	TypeObjectDetected      EventType = "OBJECT_DETECTED"
	TypeAnalyticsEvent      EventType = "ANALYTICS_EVENT"
	TypeButtonPressed       EventType = "BUTTON_PRESSED"
	TypeBatteryLevelChanged EventType = "BATTERY_LEVEL_CHANGED"
	TypeTamper              EventType = "TAMPER"
	TypeDeviceOnline        EventType = "DEVICE_ONLINE"
	TypeDeviceOffline       EventType = "DEVICE_OFFLINE"
)

// Display renders the enum id as a human title ("STATE_CHANGE" becomes
// "State Change") for template output.
func (c EventCategory) Display() string { return humanizeEnum(string(c)) }

func (t EventType) Display() string { return humanizeEnum(string(t)) }

func humanizeEnum(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// StandardizedEvent is the canonical envelope every vendor frame is
// normalized into before it reaches storage, fan-out or automations.
type StandardizedEvent struct {
	EventID        uuid.UUID     `json:"event_id"`
	OrganizationID uuid.UUID     `json:"organization_id"`
	ConnectorID    uuid.UUID     `json:"connector_id"`
	DeviceID       string        `json:"device_id,omitempty"` // vendor external id, empty for connector-level events
	Category       EventCategory `json:"category"`
	Type           EventType     `json:"type"`
	Subtype        string        `json:"subtype,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`

	Payload map[string]interface{} `json:"payload,omitempty"`

	// DeviceInfo carries vendor-supplied hints used when the pipeline
	// auto-registers a device it has not seen before.
	DeviceInfo *EventDeviceInfo `json:"device_info,omitempty"`
}

type EventDeviceInfo struct {
	Name    string     `json:"name,omitempty"`
	Type    DeviceType `json:"type,omitempty"`
	Subtype string     `json:"subtype,omitempty"`
}

// DisplayState extracts the normalized display state from the payload,
// if the event carries one.
func (e *StandardizedEvent) DisplayState() (DisplayState, bool) {
	raw, ok := e.Payload["displayState"]
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case DisplayState:
		return v, true
	case string:
		return DisplayState(v), true
	default:
		return "", false
	}
}

var eventIDNamespace = uuid.MustParse("a1e3f6b8-9c47-4de2-8b11-52e4c0a7d9f3")

// DeterministicEventID derives a stable UUID from the vendor's own event
// identity so redelivered frames collapse onto a single row.
func DeterministicEventID(connectorID uuid.UUID, vendorEventID string) uuid.UUID {
	return uuid.NewSHA1(eventIDNamespace, []byte(connectorID.String()+"|"+vendorEventID))
}
