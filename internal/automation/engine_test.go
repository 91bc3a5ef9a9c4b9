package automation_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pulsegrid/fusion/internal/automation"
	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/model"
)

// fakeGateway records the execution accounting the engine writes.
type fakeGateway struct {
	mu          sync.Mutex
	automations []data.Automation
	org         *data.Organization
	connector   *data.Connector
	event       *data.Event
	device      *data.Device
	cameras     []uuid.UUID

	executions  []*data.AutomationExecution
	finalized   []finalizeCall
	actionRows  []*data.ActionExecution
	finalizedCh chan struct{}
}

type finalizeCall struct {
	Status     model.ExecutionStatus
	Successful int
	Failed     int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{finalizedCh: make(chan struct{}, 8)}
}

func (g *fakeGateway) Organization(context.Context) (*data.Organization, error) {
	if g.org != nil {
		return g.org, nil
	}
	return &data.Organization{}, nil
}

func (g *fakeGateway) EnabledAutomations(context.Context) ([]data.Automation, error) {
	return g.automations, nil
}

func (g *fakeGateway) MarkAutomationFired(context.Context, uuid.UUID, time.Time) (bool, error) {
	return true, nil
}

func (g *fakeGateway) Event(ctx context.Context, id uuid.UUID) (*data.Event, error) {
	if g.event == nil {
		return nil, data.ErrRecordNotFound
	}
	return g.event, nil
}

func (g *fakeGateway) Connector(context.Context, uuid.UUID) (*data.Connector, error) {
	if g.connector == nil {
		return nil, data.ErrRecordNotFound
	}
	return g.connector, nil
}

func (g *fakeGateway) Device(context.Context, uuid.UUID) (*data.Device, error) {
	if g.device == nil {
		return nil, data.ErrRecordNotFound
	}
	return g.device, nil
}

func (g *fakeGateway) DeviceCameras(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return g.cameras, nil
}

func (g *fakeGateway) Area(context.Context, uuid.UUID) (*data.Area, error) {
	return nil, data.ErrRecordNotFound
}

func (g *fakeGateway) Areas(context.Context) ([]data.Area, error) { return nil, nil }

func (g *fakeGateway) AreasByLocation(context.Context, uuid.UUID) ([]data.Area, error) {
	return nil, nil
}

func (g *fakeGateway) Location(context.Context, uuid.UUID) (*data.Location, error) {
	return nil, data.ErrRecordNotFound
}

func (g *fakeGateway) CreateExecution(_ context.Context, e *data.AutomationExecution) error {
	e.ID = uuid.New()
	g.mu.Lock()
	g.executions = append(g.executions, e)
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) FinalizeExecution(_ context.Context, _ uuid.UUID, status model.ExecutionStatus, successful, failed int, _ int64) error {
	g.mu.Lock()
	g.finalized = append(g.finalized, finalizeCall{status, successful, failed})
	g.mu.Unlock()
	g.finalizedCh <- struct{}{}
	return nil
}

func (g *fakeGateway) CreateActionExecution(_ context.Context, a *data.ActionExecution) error {
	a.ID = uuid.New()
	g.mu.Lock()
	g.actionRows = append(g.actionRows, a)
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) FinishActionExecution(context.Context, uuid.UUID, model.ActionStatus, string, int64) error {
	return nil
}

func newTestEngine(gw *fakeGateway) *automation.Engine {
	return newTestEngineWithCreds(gw, nil)
}

func newTestEngineWithCreds(gw *fakeGateway, creds automation.CredentialSource) *automation.Engine {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return automation.NewEngine(
		func(uuid.UUID) automation.Gateway { return gw },
		creds, nil, nil,
		automation.Config{
			MaxConcurrentPerOrg: 4,
			CacheTTL:            time.Minute,
			HTTPTimeout:         2 * time.Second,
			CommandTimeout:      2 * time.Second,
			ScheduleGrace:       5 * time.Minute,
		}, logger)
}

func motionEvent(orgID uuid.UUID) *data.Event {
	return &data.Event{
		EventID:        uuid.New(),
		OrganizationID: orgID,
		ConnectorID:    uuid.New(),
		Category:       model.CategoryStateChange,
		Type:           model.TypeStateChanged,
		OccurredAt:     time.Now().UTC(),
		Payload:        map[string]interface{}{"displayState": "MOTION_DETECTED"},
	}
}

func httpAutomation(orgID uuid.UUID, urls ...string) data.Automation {
	actions := make([]model.Action, 0, len(urls))
	for _, u := range urls {
		actions = append(actions, model.Action{Type: model.ActionSendHTTP, URLTemplate: u, Method: "POST"})
	}
	return data.Automation{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Enabled:        true,
		Config: model.AutomationConfig{
			Trigger: model.Trigger{
				Kind:       model.TriggerEvent,
				Conditions: &model.RuleNode{Fact: "event.type", Operator: model.OpEq, Value: "STATE_CHANGED"},
			},
			Actions: actions,
		},
	}
}

func waitFinalized(t *testing.T, gw *fakeGateway) finalizeCall {
	t.Helper()
	select {
	case <-gw.finalizedCh:
	case <-time.After(5 * time.Second):
		t.Fatal("execution never finalized")
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.finalized[len(gw.finalized)-1]
}

func TestHandleEvent_RunsMatchingAutomation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	orgID := uuid.New()
	gw := newFakeGateway()
	gw.automations = []data.Automation{httpAutomation(orgID, srv.URL+"/hook")}

	engine := newTestEngine(gw)
	engine.HandleEvent(context.Background(), motionEvent(orgID), nil)

	final := waitFinalized(t, gw)
	if final.Status != model.ExecutionSuccess {
		t.Errorf("status = %s, want %s", final.Status, model.ExecutionSuccess)
	}
	if final.Successful != 1 || final.Failed != 0 {
		t.Errorf("accounting = %d/%d", final.Successful, final.Failed)
	}
}

func TestHandleEvent_ConditionsMismatchSkips(t *testing.T) {
	orgID := uuid.New()
	gw := newFakeGateway()
	auto := httpAutomation(orgID, "http://unused.invalid")
	auto.Config.Trigger.Conditions = &model.RuleNode{
		Fact: "event.type", Operator: model.OpEq, Value: "ACCESS_GRANTED",
	}
	gw.automations = []data.Automation{auto}

	engine := newTestEngine(gw)
	engine.HandleEvent(context.Background(), motionEvent(orgID), nil)

	time.Sleep(50 * time.Millisecond)
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.executions) != 0 {
		t.Error("unmatched trigger conditions should have skipped the automation")
	}
}

func TestExecute_PartialFailureAccounting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	orgID := uuid.New()
	gw := newFakeGateway()
	gw.automations = []data.Automation{httpAutomation(orgID, srv.URL+"/ok", srv.URL+"/bad")}

	engine := newTestEngine(gw)
	engine.HandleEvent(context.Background(), motionEvent(orgID), nil)

	final := waitFinalized(t, gw)
	if final.Status != model.ExecutionPartialFailure {
		t.Errorf("status = %s, want %s", final.Status, model.ExecutionPartialFailure)
	}
	if final.Successful != 1 || final.Failed != 1 {
		t.Errorf("accounting = %d/%d, want 1/1", final.Successful, final.Failed)
	}
}

func TestExecute_AllFailed(t *testing.T) {
	orgID := uuid.New()
	gw := newFakeGateway()
	// Unroutable URL: the action must fail, not hang.
	gw.automations = []data.Automation{httpAutomation(orgID, "http://127.0.0.1:1/nope")}

	engine := newTestEngine(gw)
	engine.HandleEvent(context.Background(), motionEvent(orgID), nil)

	final := waitFinalized(t, gw)
	if final.Status != model.ExecutionFailure {
		t.Errorf("status = %s, want %s", final.Status, model.ExecutionFailure)
	}
}

func TestRuleFailureSkipsAutomation(t *testing.T) {
	orgID := uuid.New()
	gw := newFakeGateway()
	auto := httpAutomation(orgID, "http://unused.invalid")
	// in with a scalar value is structurally broken.
	auto.Config.Trigger.Conditions = &model.RuleNode{Fact: "event.type", Operator: model.OpIn, Value: "STATE_CHANGED"}
	gw.automations = []data.Automation{auto}

	engine := newTestEngine(gw)
	engine.HandleEvent(context.Background(), motionEvent(orgID), nil)

	time.Sleep(50 * time.Millisecond)
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.executions) != 0 {
		t.Error("a broken rule must skip the automation, not run it")
	}
}

func TestDryRun(t *testing.T) {
	orgID := uuid.New()
	gw := newFakeGateway()
	gw.event = motionEvent(orgID)

	engine := newTestEngine(gw)
	cfg := &model.AutomationConfig{
		Trigger: model.Trigger{Kind: model.TriggerEvent},
		Actions: []model.Action{{
			Type:            model.ActionSendPush,
			TitleTemplate:   "Alert: {{ event.type }}",
			MessageTemplate: "state {{ event.payload.displayState }}",
		}},
	}

	result, err := engine.DryRun(context.Background(), orgID, cfg, gw.event.EventID)
	if err != nil {
		t.Fatalf("DryRun failed: %v", err)
	}
	if !result.Matched {
		t.Error("expected match")
	}
	if len(result.ResolvedActions) != 1 {
		t.Fatalf("resolved actions = %d", len(result.ResolvedActions))
	}
	rendered := result.ResolvedActions[0].Rendered
	if rendered["title"] != "Alert: STATE_CHANGED" {
		t.Errorf("title = %q", rendered["title"])
	}
	if rendered["message"] != "state MOTION_DETECTED" {
		t.Errorf("message = %q", rendered["message"])
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.executions) != 0 {
		t.Error("DryRun must not record executions")
	}
}

type fakePusher struct {
	mu    sync.Mutex
	sends []pushCall
}

type pushCall struct {
	Key, Title, Message string
	Priority            int
}

func (p *fakePusher) Send(key, title, message string, priority int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends = append(p.sends, pushCall{key, title, message, priority})
	return nil
}

func TestHandleEvent_ContactOpenPushFlow(t *testing.T) {
	orgID := uuid.New()
	gw := newFakeGateway()
	gw.org = &data.Organization{
		ID: orgID,
		Settings: data.OrgSettings{Pushover: &data.PushoverSettings{
			GroupKey: "group-key",
			UserKeys: map[string]string{"night-shift": "user-key-7"},
		}},
	}

	gw.automations = []data.Automation{{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Enabled:        true,
		Config: model.AutomationConfig{
			Trigger: model.Trigger{
				Kind: model.TriggerEvent,
				Conditions: &model.RuleNode{All: []model.RuleNode{
					{Fact: "event.type", Operator: model.OpEq, Value: "STATE_CHANGED"},
					{Fact: "event.displayState", Operator: model.OpEq, Value: "OPEN"},
					{Fact: "device.type", Operator: model.OpEq, Value: "DoorSensor"},
				}},
			},
			Actions: []model.Action{{
				Type:                  model.ActionSendPush,
				TitleTemplate:         "{{ device.name }} opened",
				MessageTemplate:       "Contact {{ event.displayState }} at {{ device.name }}",
				TargetUserKeyTemplate: "night-shift",
				Priority:              1,
			}},
		},
	}}

	pusher := &fakePusher{}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	engine := automation.NewEngine(
		func(uuid.UUID) automation.Gateway { return gw },
		nil, nil, pusher,
		automation.Config{MaxConcurrentPerOrg: 4, CacheTTL: time.Minute, HTTPTimeout: time.Second, CommandTimeout: time.Second},
		logger)

	device := &data.Device{ID: uuid.New(), OrganizationID: orgID, Name: "Back Door", Type: model.DeviceDoorSensor}
	event := &data.Event{
		EventID:        uuid.New(),
		OrganizationID: orgID,
		ConnectorID:    uuid.New(),
		Category:       model.CategoryStateChange,
		Type:           model.TypeStateChanged,
		OccurredAt:     time.Now().UTC(),
		Payload:        map[string]interface{}{"displayState": "OPEN"},
	}
	engine.HandleEvent(context.Background(), event, device)

	final := waitFinalized(t, gw)
	if final.Status != model.ExecutionSuccess {
		t.Fatalf("status = %s, want %s", final.Status, model.ExecutionSuccess)
	}

	pusher.mu.Lock()
	defer pusher.mu.Unlock()
	if len(pusher.sends) != 1 {
		t.Fatalf("got %d push deliveries, want 1", len(pusher.sends))
	}
	sent := pusher.sends[0]
	if sent.Key != "user-key-7" {
		t.Errorf("delivered to key %q, want the named recipient's key", sent.Key)
	}
	if sent.Title != "Back Door opened" {
		t.Errorf("title = %q", sent.Title)
	}
	if sent.Message != "Contact OPEN at Back Door" {
		t.Errorf("message = %q", sent.Message)
	}
	if sent.Priority != 1 {
		t.Errorf("priority = %d, want 1", sent.Priority)
	}
}
