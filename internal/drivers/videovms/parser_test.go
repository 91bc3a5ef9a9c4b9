package videovms

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/drivers"
	"github.com/pulsegrid/fusion/internal/model"
)

func parseOne(t *testing.T, raw string) model.StandardizedEvent {
	t.Helper()
	d := &Driver{}
	ref := drivers.ConnectorRef{ID: uuid.New(), OrganizationID: uuid.New()}
	events, err := d.Parse(ref, drivers.Frame{Data: json.RawMessage(raw), ReceivedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	return events[0]
}

func TestParse_ObjectDetected(t *testing.T) {
	ev := parseOne(t, `{
		"type":"event","eventId":"e-1","eventType":"objectDetected",
		"cameraId":"cam-3","timestamp":1756200000000,"objectType":"person",
		"confidence":0.91,"bestShot":{"trackId":"trk-5"}
	}`)

	if ev.Category != model.CategoryAnalytics || ev.Type != model.TypeObjectDetected {
		t.Errorf("wrong mapping: %s/%s", ev.Category, ev.Type)
	}
	if ev.Subtype != "person" {
		t.Errorf("subtype = %q", ev.Subtype)
	}
	if ev.Payload["cameraExternalId"] != "cam-3" {
		t.Errorf("cameraExternalId = %v", ev.Payload["cameraExternalId"])
	}
	if ev.Payload["objectTrackId"] != "trk-5" {
		t.Errorf("objectTrackId = %v", ev.Payload["objectTrackId"])
	}
	if ev.Payload["confidence"] != 0.91 {
		t.Errorf("confidence = %v", ev.Payload["confidence"])
	}
	if ev.DeviceInfo == nil || ev.DeviceInfo.Type != model.DeviceCamera {
		t.Error("expected camera device info")
	}
}

func TestParse_HeartbeatDropped(t *testing.T) {
	d := &Driver{}
	events, err := d.Parse(drivers.ConnectorRef{ID: uuid.New()}, drivers.Frame{Data: json.RawMessage(`{"type":"ping"}`)})
	if err != nil {
		t.Fatalf("heartbeat should not error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected 0 events, got %d", len(events))
	}
}

func TestParse_CameraConnectivity(t *testing.T) {
	ev := parseOne(t, `{"type":"event","eventId":"e-2","eventType":"cameraOffline","cameraId":"cam-1"}`)
	if ev.Category != model.CategoryStatus || ev.Type != model.TypeDeviceOffline {
		t.Errorf("wrong mapping: %s/%s", ev.Category, ev.Type)
	}
	if ev.Payload["displayState"] != string(model.StateOffline) {
		t.Errorf("displayState = %v", ev.Payload["displayState"])
	}
}

func TestParse_UnknownEventTypeDropped(t *testing.T) {
	d := &Driver{}
	events, err := d.Parse(drivers.ConnectorRef{ID: uuid.New()}, drivers.Frame{
		Data: json.RawMessage(`{"type":"event","eventType":"licensePlateRead","cameraId":"cam-1"}`),
	})
	if err != nil {
		t.Fatalf("unknown event type should not error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected 0 events, got %d", len(events))
	}
}

func TestParse_DeterministicEventID(t *testing.T) {
	d := &Driver{}
	ref := drivers.ConnectorRef{ID: uuid.New()}
	frame := drivers.Frame{Data: json.RawMessage(`{"type":"event","eventId":"e-9","eventType":"analyticsEvent","cameraId":"cam-2"}`)}

	a, _ := d.Parse(ref, frame)
	b, _ := d.Parse(ref, frame)
	if a[0].EventID != b[0].EventID {
		t.Error("same vendor eventId should yield the same event id")
	}
}
