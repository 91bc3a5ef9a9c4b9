package mqtthub

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/drivers"
	"github.com/pulsegrid/fusion/internal/model"
)

// rawFrame is the hub's report payload. Unknown fields are ignored; the
// vendor adds keys without notice.
type rawFrame struct {
	Event    string                 `json:"event"`
	Time     int64                  `json:"time"` // epoch ms
	MsgID    string                 `json:"msgid"`
	DeviceID string                 `json:"deviceId"`
	Data     map[string]interface{} `json:"data"`
}

type eventMapping struct {
	category   model.EventCategory
	eventType  model.EventType
	deviceType model.DeviceType
	// states maps the vendor's data.state string onto the closed
	// display-state vocabulary. Unmapped values keep only rawStateValue.
	states map[string]model.DisplayState
}

// eventTable is the vendor report type mapping. Extending the integration
// to a new report type means adding a row here.
var eventTable = map[string]eventMapping{
	"contact.report": {
		category: model.CategoryStateChange, eventType: model.TypeStateChanged, deviceType: model.DeviceDoorSensor,
		states: map[string]model.DisplayState{"open": model.StateOpen, "closed": model.StateClosed},
	},
	"motion.report": {
		category: model.CategoryStateChange, eventType: model.TypeStateChanged, deviceType: model.DeviceMotionSensor,
		states: map[string]model.DisplayState{"active": model.StateMotionDetected, "motion": model.StateMotionDetected, "inactive": model.StateNoMotion, "clear": model.StateNoMotion},
	},
	"leak.report": {
		category: model.CategoryStateChange, eventType: model.TypeStateChanged, deviceType: model.DeviceLeakSensor,
		states: map[string]model.DisplayState{"leak": model.StateLeakDetected, "wet": model.StateLeakDetected, "dry": model.StateDry},
	},
	"vibration.report": {
		category: model.CategoryStateChange, eventType: model.TypeStateChanged, deviceType: model.DeviceVibrationSensor,
		states: map[string]model.DisplayState{"active": model.StateVibrationDetected, "vibration": model.StateVibrationDetected, "inactive": model.StateNoVibration, "still": model.StateNoVibration},
	},
	"button.report": {
		category: model.CategoryButton, eventType: model.TypeButtonPressed, deviceType: model.DeviceButton,
		states: map[string]model.DisplayState{"pressed": model.StatePressed},
	},
	"switch.report": {
		category: model.CategoryStateChange, eventType: model.TypeStateChanged, deviceType: model.DeviceSwitch,
		states: map[string]model.DisplayState{"on": model.StateOn, "off": model.StateOff},
	},
	"lock.report": {
		category: model.CategoryStateChange, eventType: model.TypeStateChanged, deviceType: model.DeviceLock,
		states: map[string]model.DisplayState{"locked": model.StateLocked, "unlocked": model.StateUnlocked, "jammed": model.StateJammed},
	},
	"smoke.alert": {
		category: model.CategoryStateChange, eventType: model.TypeStateChanged, deviceType: model.DeviceSmokeDetector,
		states: map[string]model.DisplayState{"alarm": model.StateSmokeDetected, "smoke": model.StateSmokeDetected, "clear": model.StateClear},
	},
	"co.alert": {
		category: model.CategoryStateChange, eventType: model.TypeStateChanged, deviceType: model.DeviceCODetector,
		states: map[string]model.DisplayState{"alarm": model.StateCODetected, "co": model.StateCODetected, "clear": model.StateClear},
	},
	"power.report": {
		category: model.CategoryStateChange, eventType: model.TypeStateChanged, deviceType: model.DeviceOutlet,
		states: map[string]model.DisplayState{"on": model.StateOn, "off": model.StateOff},
	},
	"battery.report": {
		category: model.CategoryBattery, eventType: model.TypeBatteryLevelChanged, deviceType: model.DeviceUnknown,
	},
	"tamper.alert": {
		category: model.CategoryDiagnostic, eventType: model.TypeTamper, deviceType: model.DeviceUnknown,
		states: map[string]model.DisplayState{"alarm": model.StateTriggered, "clear": model.StateClear},
	},
	"hub.online": {
		category: model.CategoryStatus, eventType: model.TypeDeviceOnline, deviceType: model.DeviceHub,
		states: map[string]model.DisplayState{"": model.StateOnline},
	},
	"hub.offline": {
		category: model.CategoryStatus, eventType: model.TypeDeviceOffline, deviceType: model.DeviceHub,
		states: map[string]model.DisplayState{"": model.StateOffline},
	},
}

// Parse normalizes one hub report frame. Unknown report types yield zero
// events; only undecodable JSON is an error.
func (d *Driver) Parse(ref drivers.ConnectorRef, frame drivers.Frame) ([]model.StandardizedEvent, error) {
	var raw rawFrame
	if err := json.Unmarshal(frame.Data, &raw); err != nil {
		return nil, fmt.Errorf("mqtt-hub frame: %w", err)
	}
	if raw.Event == "" {
		return nil, nil
	}

	mapping, ok := eventTable[raw.Event]
	if !ok {
		return nil, nil
	}

	ts := frame.ReceivedAt
	if raw.Time > 0 {
		ts = time.UnixMilli(raw.Time).UTC()
	}

	eventID := uuid.New()
	if raw.MsgID != "" {
		eventID = model.DeterministicEventID(ref.ID, raw.MsgID)
	}

	payload := map[string]interface{}{
		"originalEventType": raw.Event,
	}

	rawState, _ := raw.Data["state"].(string)
	if rawState != "" {
		payload["rawStateValue"] = rawState
	}
	if mapping.states != nil {
		if ds, ok := mapping.states[strings.ToLower(rawState)]; ok {
			payload["displayState"] = string(ds)
		}
	}

	if mapping.eventType == model.TypeButtonPressed {
		if n, ok := numberField(raw.Data, "button"); ok {
			payload["buttonNumber"] = n
		}
		if press, ok := raw.Data["pressType"].(string); ok && press != "" {
			payload["pressType"] = press
		}
	}
	// Battery readings piggyback on any report type.
	if lvl, ok := numberField(raw.Data, "battery"); ok {
		payload["batteryPercentage"] = normalizeBattery(lvl)
	}

	ev := model.StandardizedEvent{
		EventID:        eventID,
		OrganizationID: ref.OrganizationID,
		ConnectorID:    ref.ID,
		DeviceID:       raw.DeviceID,
		Category:       mapping.category,
		Type:           mapping.eventType,
		Timestamp:      ts,
		Payload:        payload,
	}
	if mapping.deviceType != model.DeviceUnknown && raw.DeviceID != "" {
		ev.DeviceInfo = &model.EventDeviceInfo{Type: mapping.deviceType}
	}
	return []model.StandardizedEvent{ev}, nil
}

func numberField(data map[string]interface{}, key string) (int, bool) {
	v, ok := data[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// normalizeBattery converts the vendor's 0-4 scale to a percentage. Some
// device firmwares already report 0-100; values above 4 pass through.
func normalizeBattery(level int) int {
	if level > 4 {
		if level > 100 {
			return 100
		}
		return level
	}
	if level < 0 {
		return 0
	}
	return level * 25
}
