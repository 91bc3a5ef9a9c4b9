package videovms

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/drivers"
	"github.com/pulsegrid/fusion/internal/model"
)

// wsEvent is one frame off the VMS event stream.
type wsEvent struct {
	Type       string                 `json:"type"`
	EventID    string                 `json:"eventId"`
	EventType  string                 `json:"eventType"`
	CameraID   string                 `json:"cameraId"`
	Timestamp  int64                  `json:"timestamp"` // epoch ms
	ObjectType string                 `json:"objectType"`
	Confidence *float64               `json:"confidence"`
	BestShot   *bestShot              `json:"bestShot"`
	Attributes map[string]interface{} `json:"attributes"`
}

type bestShot struct {
	TrackID string `json:"trackId"`
}

// Parse normalizes one VMS stream frame. Non-event frames (heartbeats,
// acks) and unknown event types yield zero events.
func (d *Driver) Parse(ref drivers.ConnectorRef, frame drivers.Frame) ([]model.StandardizedEvent, error) {
	var raw wsEvent
	if err := json.Unmarshal(frame.Data, &raw); err != nil {
		return nil, fmt.Errorf("video-vms frame: %w", err)
	}
	if raw.Type != "event" {
		return nil, nil
	}

	ts := frame.ReceivedAt
	if raw.Timestamp > 0 {
		ts = time.UnixMilli(raw.Timestamp).UTC()
	}

	eventID := uuid.New()
	if raw.EventID != "" {
		eventID = model.DeterministicEventID(ref.ID, raw.EventID)
	}

	payload := map[string]interface{}{
		"originalEventType": raw.EventType,
	}
	if raw.Confidence != nil {
		payload["confidence"] = *raw.Confidence
	}
	if raw.BestShot != nil && raw.BestShot.TrackID != "" {
		// Flat key so downstream can build thumbnail links without
		// digging into the vendor structure.
		payload["cameraExternalId"] = raw.CameraID
		payload["objectTrackId"] = raw.BestShot.TrackID
	}
	for k, v := range raw.Attributes {
		payload[k] = v
	}

	ev := model.StandardizedEvent{
		EventID:        eventID,
		OrganizationID: ref.OrganizationID,
		ConnectorID:    ref.ID,
		DeviceID:       raw.CameraID,
		Timestamp:      ts,
		Payload:        payload,
		DeviceInfo:     &model.EventDeviceInfo{Type: model.DeviceCamera},
	}

	switch raw.EventType {
	case "objectDetected":
		ev.Category = model.CategoryAnalytics
		ev.Type = model.TypeObjectDetected
		ev.Subtype = raw.ObjectType
		if raw.ObjectType != "" {
			payload["detectionType"] = raw.ObjectType
		}
	case "analyticsEvent":
		ev.Category = model.CategoryAnalytics
		ev.Type = model.TypeAnalyticsEvent
		ev.Subtype = raw.ObjectType
	case "cameraOnline":
		ev.Category = model.CategoryStatus
		ev.Type = model.TypeDeviceOnline
		payload["displayState"] = string(model.StateOnline)
	case "cameraOffline":
		ev.Category = model.CategoryStatus
		ev.Type = model.TypeDeviceOffline
		payload["displayState"] = string(model.StateOffline)
	default:
		return nil, nil
	}

	return []model.StandardizedEvent{ev}, nil
}
