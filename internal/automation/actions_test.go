package automation_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/drivers"
	"github.com/pulsegrid/fusion/internal/model"
)

// sinkDriver is a registry-backed driver whose command client records
// every outbound call.
type sinkDriver struct {
	client *sinkCommandClient
}

const sinkCategory model.ConnectorCategory = "command-sink"

var registerSink sync.Once
var sharedSink = &sinkDriver{client: &sinkCommandClient{}}

func sinkForTest() *sinkDriver {
	registerSink.Do(func() { drivers.Register(sharedSink) })
	return sharedSink
}

type sinkConfig struct{}

func (sinkConfig) Validate() error                     { return nil }
func (sinkConfig) Credentials() *drivers.Credentials   { return nil }
func (sinkConfig) SetCredentials(*drivers.Credentials) {}
func (sinkConfig) SessionKey(id uuid.UUID) string      { return "command-sink:" + id.String() }

func (d *sinkDriver) Category() model.ConnectorCategory { return sinkCategory }

func (d *sinkDriver) DecodeConfig(json.RawMessage) (drivers.Config, error) {
	return sinkConfig{}, nil
}

func (d *sinkDriver) Parse(drivers.ConnectorRef, drivers.Frame) ([]model.StandardizedEvent, error) {
	return nil, nil
}

func (d *sinkDriver) Connect(context.Context, drivers.ConnectorRef, drivers.Config) (drivers.Session, error) {
	return nil, drivers.ErrNotSupported
}

func (d *sinkDriver) Commands(drivers.ConnectorRef, drivers.Config) (drivers.CommandClient, error) {
	return d.client, nil
}

func (d *sinkDriver) RefreshCredentials(context.Context, drivers.Config) (*drivers.Credentials, error) {
	return nil, drivers.ErrNotSupported
}

type bookmarkCall struct {
	CameraRef string
	Req       drivers.BookmarkRequest
}

type sinkCommandClient struct {
	mu        sync.Mutex
	events    []drivers.CreateEventRequest
	bookmarks []bookmarkCall
}

func (c *sinkCommandClient) SetState(context.Context, string, model.ActionableState) error {
	return nil
}

func (c *sinkCommandClient) CreateEvent(_ context.Context, req drivers.CreateEventRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, req)
	return nil
}

func (c *sinkCommandClient) CreateBookmark(_ context.Context, cameraRef string, req drivers.BookmarkRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bookmarks = append(c.bookmarks, bookmarkCall{cameraRef, req})
	return nil
}

func (c *sinkCommandClient) FetchThumbnail(context.Context, string, drivers.ThumbnailParams) ([]byte, string, error) {
	return nil, "", drivers.ErrNotSupported
}

func (c *sinkCommandClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
	c.bookmarks = nil
}

// fakeCreds hands out configs for the sink driver's category.
type fakeCreds struct {
	conn *data.Connector
}

func (f *fakeCreds) GetConfig(context.Context, uuid.UUID) (*data.Connector, drivers.Config, error) {
	return f.conn, sinkConfig{}, nil
}

func (f *fakeCreds) EnsureFresh(context.Context, uuid.UUID) (drivers.Config, error) {
	return sinkConfig{}, nil
}

// Bookmarks land on the vendor timeline at the moment the triggering
// event happened, not at execution time.
func TestExecute_BookmarkUsesEventTimestamp(t *testing.T) {
	driver := sinkForTest()
	driver.client.reset()

	orgID := uuid.New()
	targetID := uuid.New()
	camID := uuid.New()

	gw := newFakeGateway()
	gw.cameras = []uuid.UUID{camID}
	gw.device = &data.Device{ID: camID, OrganizationID: orgID, ExternalID: "cam-ext-1", Type: model.DeviceCamera}
	gw.automations = []data.Automation{{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Enabled:        true,
		Config: model.AutomationConfig{
			Trigger: model.Trigger{Kind: model.TriggerEvent},
			Actions: []model.Action{{
				Type:               model.ActionCreateBookmark,
				TargetConnectorID:  &targetID,
				NameTemplate:       "Door opened",
				DurationMsTemplate: "3000",
				TagsTemplate:       "door, intrusion",
			}},
		},
	}}

	creds := &fakeCreds{conn: &data.Connector{ID: targetID, OrganizationID: orgID, Category: sinkCategory}}
	engine := newTestEngineWithCreds(gw, creds)

	occurred := time.UnixMilli(1700000000000).UTC()
	device := &data.Device{ID: uuid.New(), OrganizationID: orgID, Name: "Back Door", Type: model.DeviceDoorSensor}
	event := &data.Event{
		EventID:        uuid.New(),
		OrganizationID: orgID,
		ConnectorID:    uuid.New(),
		Category:       model.CategoryStateChange,
		Type:           model.TypeStateChanged,
		OccurredAt:     occurred,
		Payload:        map[string]interface{}{"displayState": "OPEN"},
	}
	engine.HandleEvent(context.Background(), event, device)

	final := waitFinalized(t, gw)
	if final.Status != model.ExecutionSuccess {
		t.Fatalf("status = %s, want %s", final.Status, model.ExecutionSuccess)
	}

	driver.client.mu.Lock()
	defer driver.client.mu.Unlock()
	if len(driver.client.bookmarks) != 1 {
		t.Fatalf("got %d bookmarks, want 1", len(driver.client.bookmarks))
	}
	bm := driver.client.bookmarks[0]
	if bm.CameraRef != "cam-ext-1" {
		t.Errorf("camera ref = %q", bm.CameraRef)
	}
	if !bm.Req.StartTime.Equal(occurred) {
		t.Errorf("start time = %v, want event time %v", bm.Req.StartTime, occurred)
	}
	if bm.Req.DurationMs != 3000 {
		t.Errorf("duration = %d, want 3000", bm.Req.DurationMs)
	}
	if len(bm.Req.Tags) != 2 || bm.Req.Tags[0] != "door" || bm.Req.Tags[1] != "intrusion" {
		t.Errorf("tags = %v", bm.Req.Tags)
	}
}

func TestExecute_CreatedEventUsesEventTimestamp(t *testing.T) {
	driver := sinkForTest()
	driver.client.reset()

	orgID := uuid.New()
	targetID := uuid.New()

	gw := newFakeGateway()
	gw.automations = []data.Automation{{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Enabled:        true,
		Config: model.AutomationConfig{
			Trigger: model.Trigger{Kind: model.TriggerEvent},
			Actions: []model.Action{{
				Type:              model.ActionCreateEvent,
				TargetConnectorID: &targetID,
				CaptionTemplate:   "{{ event.type }}",
			}},
		},
	}}

	creds := &fakeCreds{conn: &data.Connector{ID: targetID, OrganizationID: orgID, Category: sinkCategory}}
	engine := newTestEngineWithCreds(gw, creds)

	occurred := time.UnixMilli(1700000003000).UTC()
	engine.HandleEvent(context.Background(), &data.Event{
		EventID:        uuid.New(),
		OrganizationID: orgID,
		ConnectorID:    uuid.New(),
		Category:       model.CategoryStateChange,
		Type:           model.TypeStateChanged,
		OccurredAt:     occurred,
	}, nil)

	final := waitFinalized(t, gw)
	if final.Status != model.ExecutionSuccess {
		t.Fatalf("status = %s, want %s", final.Status, model.ExecutionSuccess)
	}

	driver.client.mu.Lock()
	defer driver.client.mu.Unlock()
	if len(driver.client.events) != 1 {
		t.Fatalf("got %d created events, want 1", len(driver.client.events))
	}
	if got := driver.client.events[0].Timestamp; !got.Equal(occurred) {
		t.Errorf("timestamp = %v, want event time %v", got, occurred)
	}
}

// A stored config that no longer validates (here: createEvent without a
// target connector) must abort before any execution row is written.
func TestExecute_InvalidStoredConfigAborts(t *testing.T) {
	orgID := uuid.New()
	gw := newFakeGateway()
	gw.automations = []data.Automation{{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Enabled:        true,
		Config: model.AutomationConfig{
			Trigger: model.Trigger{Kind: model.TriggerEvent},
			Actions: []model.Action{{
				Type:            model.ActionCreateEvent,
				CaptionTemplate: "orphaned",
				// TargetConnectorID deliberately absent
			}},
		},
	}}

	engine := newTestEngine(gw)
	engine.HandleEvent(context.Background(), motionEvent(orgID), nil)

	time.Sleep(100 * time.Millisecond)
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.executions) != 0 {
		t.Error("invalid config must not create execution records")
	}
	if len(gw.actionRows) != 0 {
		t.Error("invalid config must not create action records")
	}
}
