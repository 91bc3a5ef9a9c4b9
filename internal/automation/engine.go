package automation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/drivers"
	"github.com/pulsegrid/fusion/internal/metrics"
	"github.com/pulsegrid/fusion/internal/model"
)

// Gateway is the slice of the org gateway the engine reads and writes.
// *gateway.Gateway satisfies it.
type Gateway interface {
	Organization(ctx context.Context) (*data.Organization, error)
	EnabledAutomations(ctx context.Context) ([]data.Automation, error)
	MarkAutomationFired(ctx context.Context, id uuid.UUID, firedAt time.Time) (bool, error)

	Event(ctx context.Context, eventID uuid.UUID) (*data.Event, error)
	Connector(ctx context.Context, id uuid.UUID) (*data.Connector, error)
	Device(ctx context.Context, id uuid.UUID) (*data.Device, error)
	DeviceCameras(ctx context.Context, deviceID uuid.UUID) ([]uuid.UUID, error)
	Area(ctx context.Context, id uuid.UUID) (*data.Area, error)
	Areas(ctx context.Context) ([]data.Area, error)
	AreasByLocation(ctx context.Context, locationID uuid.UUID) ([]data.Area, error)
	Location(ctx context.Context, id uuid.UUID) (*data.Location, error)

	CreateExecution(ctx context.Context, e *data.AutomationExecution) error
	FinalizeExecution(ctx context.Context, id uuid.UUID, status model.ExecutionStatus, successful, failed int, durationMs int64) error
	CreateActionExecution(ctx context.Context, a *data.ActionExecution) error
	FinishActionExecution(ctx context.Context, id uuid.UUID, status model.ActionStatus, errMsg string, durationMs int64) error
}

// CredentialSource provides connector configs with live tokens for
// outbound commands. *credentials.Store satisfies it.
type CredentialSource interface {
	GetConfig(ctx context.Context, connectorID uuid.UUID) (*data.Connector, drivers.Config, error)
	EnsureFresh(ctx context.Context, connectorID uuid.UUID) (drivers.Config, error)
}

// Armer is the arming surface the armArea/disarmArea actions need.
// *arming.Service satisfies it.
type Armer interface {
	Arm(ctx context.Context, orgID, areaID uuid.UUID, mode model.ArmedState, reason model.ArmedStateReason) error
	Disarm(ctx context.Context, orgID, areaID uuid.UUID, reason model.ArmedStateReason) error
}

// Pusher delivers push notifications. *notify.Sender satisfies it.
type Pusher interface {
	Send(recipientKey, title, message string, priority int) error
}

// Config carries the engine tunables.
type Config struct {
	MaxConcurrentPerOrg int
	CacheTTL            time.Duration
	HTTPTimeout         time.Duration
	CommandTimeout      time.Duration
	ScheduleGrace       time.Duration
}

// Engine evaluates automations against incoming events and the schedule
// clock, and runs their actions with full execution accounting.
type Engine struct {
	gatewayFor func(uuid.UUID) Gateway
	creds      CredentialSource
	armer      Armer
	pusher     Pusher
	httpClient *http.Client
	cfg        Config
	logger     *logrus.Logger

	mu    sync.Mutex
	cache map[uuid.UUID]cacheEntry
	sems  map[uuid.UUID]chan struct{}
}

type cacheEntry struct {
	automations []data.Automation
	loadedAt    time.Time
}

func NewEngine(gatewayFor func(uuid.UUID) Gateway, creds CredentialSource, armer Armer, pusher Pusher, cfg Config, logger *logrus.Logger) *Engine {
	return &Engine{
		gatewayFor: gatewayFor,
		creds:      creds,
		armer:      armer,
		pusher:     pusher,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		cfg:        cfg,
		logger:     logger,
		cache:      make(map[uuid.UUID]cacheEntry),
		sems:       make(map[uuid.UUID]chan struct{}),
	}
}

// InvalidateOrg drops the cached automation list after an API write so
// edits take effect on the next event, not a minute later.
func (e *Engine) InvalidateOrg(orgID uuid.UUID) {
	e.mu.Lock()
	delete(e.cache, orgID)
	e.mu.Unlock()
}

func (e *Engine) enabledAutomations(ctx context.Context, orgID uuid.UUID) ([]data.Automation, error) {
	e.mu.Lock()
	entry, ok := e.cache[orgID]
	e.mu.Unlock()
	if ok && time.Since(entry.loadedAt) < e.cfg.CacheTTL {
		return entry.automations, nil
	}

	autos, err := e.gatewayFor(orgID).EnabledAutomations(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.cache[orgID] = cacheEntry{automations: autos, loadedAt: time.Now()}
	e.mu.Unlock()
	return autos, nil
}

func (e *Engine) sem(orgID uuid.UUID) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sems[orgID]
	if !ok {
		s = make(chan struct{}, e.cfg.MaxConcurrentPerOrg)
		e.sems[orgID] = s
	}
	return s
}

// HandleEvent matches the event against every enabled event-triggered
// automation of its org and runs the matches. Called synchronously from
// the pipeline; individual runs go to goroutines behind the per-org cap.
func (e *Engine) HandleEvent(ctx context.Context, event *data.Event, device *data.Device) {
	autos, err := e.enabledAutomations(ctx, event.OrganizationID)
	if err != nil {
		e.logger.WithError(err).WithField("org_id", event.OrganizationID).
			Error("loading automations failed")
		return
	}
	if len(autos) == 0 {
		return
	}

	facts, err := e.buildEventFacts(ctx, event, device)
	if err != nil {
		e.logger.WithError(err).WithField("event_id", event.EventID).
			Warn("building facts failed")
		return
	}

	for i := range autos {
		auto := autos[i]
		if auto.Config.Trigger.Kind != model.TriggerEvent {
			continue
		}

		matched, err := Evaluate(auto.Config.Trigger.Conditions, facts)
		if err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"automation_id": auto.ID,
				"event_id":      event.EventID,
			}).Warn("rule evaluation failed, skipping automation")
			continue
		}
		if !matched {
			continue
		}

		e.launch(&auto, facts, &event.EventID)
	}
}

// launch runs one automation behind the org's concurrency cap. A full
// cap rejects the run outright; queueing would let a burst replay stale
// actions long after the triggering condition passed.
func (e *Engine) launch(auto *data.Automation, facts Facts, triggerEventID *uuid.UUID) {
	sem := e.sem(auto.OrganizationID)
	select {
	case sem <- struct{}{}:
	default:
		metrics.AutomationRejected.Inc()
		e.logger.WithFields(logrus.Fields{
			"automation_id": auto.ID,
			"org_id":        auto.OrganizationID,
		}).Warn("automation rejected: org concurrency cap reached")
		return
	}

	go func() {
		defer func() { <-sem }()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		e.execute(ctx, auto, facts, triggerEventID)
	}()
}

// execute runs the action list with per-action accounting. Failures are
// recorded and never short-circuit the remaining actions.
func (e *Engine) execute(ctx context.Context, auto *data.Automation, facts Facts, triggerEventID *uuid.UUID) {
	gw := e.gatewayFor(auto.OrganizationID)
	started := time.Now()
	log := e.logger.WithFields(logrus.Fields{
		"automation_id": auto.ID,
		"org_id":        auto.OrganizationID,
	})

	// A stored config predating a validation rule, or hand-edited in the
	// database, must not reach the executors. Abort without records.
	if err := auto.Config.Validate(); err != nil {
		log.WithError(err).Warn("automation config invalid, skipping run")
		return
	}

	exec := &data.AutomationExecution{
		AutomationID:   auto.ID,
		OrganizationID: auto.OrganizationID,
		TriggerEventID: triggerEventID,
		TriggerContext: map[string]interface{}(facts),
		Status:         model.ExecutionRunning,
		TotalActions:   len(auto.Config.Actions),
	}
	if err := gw.CreateExecution(ctx, exec); err != nil {
		log.WithError(err).Error("recording execution failed, aborting run")
		return
	}

	successful, failed := 0, 0
	for i := range auto.Config.Actions {
		action := &auto.Config.Actions[i]
		status, errMsg := e.runAction(ctx, gw, auto, action, i, exec.ID, facts)
		switch status {
		case model.ActionStatusSuccess, model.ActionStatusSkipped:
			successful++
		case model.ActionStatusFailure:
			failed++
			log.WithField("action_index", i).WithField("action_type", action.Type).
				WithField("error", errMsg).Warn("automation action failed")
		}
		metrics.AutomationActions.WithLabelValues(string(action.Type), string(status)).Inc()
	}

	status := model.ExecutionSuccess
	switch {
	case failed == len(auto.Config.Actions):
		status = model.ExecutionFailure
	case failed > 0:
		status = model.ExecutionPartialFailure
	}
	durationMs := time.Since(started).Milliseconds()

	if err := gw.FinalizeExecution(ctx, exec.ID, status, successful, failed, durationMs); err != nil {
		log.WithError(err).Error("finalizing execution failed")
	}
	metrics.AutomationExecutions.WithLabelValues(string(status)).Inc()
	log.WithFields(logrus.Fields{
		"status":      status,
		"duration_ms": durationMs,
	}).Info("automation executed")
}

// runAction wraps one executor call with its accounting row.
func (e *Engine) runAction(ctx context.Context, gw Gateway, auto *data.Automation, action *model.Action, index int, executionID uuid.UUID, facts Facts) (model.ActionStatus, string) {
	row := &data.ActionExecution{
		ExecutionID: executionID,
		ActionIndex: index,
		ActionType:  action.Type,
		Status:      model.ActionStatusRunning,
	}
	if err := gw.CreateActionExecution(ctx, row); err != nil {
		e.logger.WithError(err).Warn("recording action execution failed")
	}

	started := time.Now()
	status, errMsg := e.dispatch(ctx, gw, auto, action, facts)
	durationMs := time.Since(started).Milliseconds()

	if row.ID != uuid.Nil {
		if err := gw.FinishActionExecution(ctx, row.ID, status, errMsg, durationMs); err != nil {
			e.logger.WithError(err).Warn("finishing action execution failed")
		}
	}
	return status, errMsg
}

func (e *Engine) dispatch(ctx context.Context, gw Gateway, auto *data.Automation, action *model.Action, facts Facts) (model.ActionStatus, string) {
	var err error
	status := model.ActionStatusSuccess

	switch action.Type {
	case model.ActionCreateEvent:
		err = e.execCreateEvent(ctx, gw, action, facts)
	case model.ActionCreateBookmark:
		status, err = e.execCreateBookmark(ctx, gw, action, facts)
	case model.ActionSendHTTP:
		err = e.execSendHTTP(ctx, action, facts)
	case model.ActionSetDeviceState:
		err = e.execSetDeviceState(ctx, gw, action)
	case model.ActionSendPush:
		err = e.execSendPush(ctx, gw, action, facts)
	case model.ActionArmArea, model.ActionDisarmArea:
		err = e.execArming(ctx, gw, auto, action)
	default:
		err = errors.New("unknown action type")
	}

	if err != nil {
		return model.ActionStatusFailure, err.Error()
	}
	return status, ""
}

// buildEventFacts resolves the entities around an event into the fact
// table. Lookups that fail leave their facts out rather than failing the
// run; only a broken gateway read of the event itself is fatal.
func (e *Engine) buildEventFacts(ctx context.Context, event *data.Event, device *data.Device) (Facts, error) {
	gw := e.gatewayFor(event.OrganizationID)
	facts := make(Facts)
	facts.addEvent(event)
	facts.addDevice(device)

	if conn, err := gw.Connector(ctx, event.ConnectorID); err == nil {
		facts.addConnector(conn)
	}

	if device != nil && device.AreaID != nil {
		area, err := gw.Area(ctx, *device.AreaID)
		if err == nil {
			facts.addArea(area)
			if area.LocationID != nil {
				if loc, err := gw.Location(ctx, *area.LocationID); err == nil {
					facts.addLocation(loc)
				}
			}
		}
	}
	return facts, nil
}

// DryRunResult is what an automation /test call reports: whether the
// sample event matches and how each action's templates resolve.
type DryRunResult struct {
	Matched         bool             `json:"matched"`
	Facts           Facts            `json:"facts"`
	ResolvedActions []ResolvedAction `json:"resolvedActions,omitempty"`
}

type ResolvedAction struct {
	Type     model.ActionType  `json:"type"`
	Rendered map[string]string `json:"rendered,omitempty"`
}

// DryRun evaluates an automation config against a stored event without
// executing anything. Template rendering runs even on non-matches so
// operators can debug both halves of a rule.
func (e *Engine) DryRun(ctx context.Context, orgID uuid.UUID, cfg *model.AutomationConfig, eventID uuid.UUID) (*DryRunResult, error) {
	gw := e.gatewayFor(orgID)
	event, err := gw.Event(ctx, eventID)
	if err != nil {
		return nil, err
	}

	var device *data.Device
	if event.DeviceID != nil {
		device, _ = gw.Device(ctx, *event.DeviceID)
	}

	facts, err := e.buildEventFacts(ctx, event, device)
	if err != nil {
		return nil, err
	}

	result := &DryRunResult{Facts: facts}
	if cfg.Trigger.Kind == model.TriggerEvent {
		matched, err := Evaluate(cfg.Trigger.Conditions, facts)
		if err != nil {
			return nil, err
		}
		result.Matched = matched
	}

	for i := range cfg.Actions {
		a := &cfg.Actions[i]
		resolved := ResolvedAction{Type: a.Type, Rendered: map[string]string{}}
		for name, tmpl := range map[string]string{
			"source":        a.SourceTemplate,
			"caption":       a.CaptionTemplate,
			"description":   a.DescriptionTemplate,
			"name":          a.NameTemplate,
			"durationMs":    a.DurationMsTemplate,
			"url":           a.URLTemplate,
			"body":          a.BodyTemplate,
			"title":         a.TitleTemplate,
			"message":       a.MessageTemplate,
			"targetUserKey": a.TargetUserKeyTemplate,
		} {
			if tmpl != "" {
				resolved.Rendered[name] = Render(tmpl, facts)
			}
		}
		result.ResolvedActions = append(result.ResolvedActions, resolved)
	}
	return result, nil
}

// commandClient builds a live command client for a target connector.
func (e *Engine) commandClient(ctx context.Context, connectorID uuid.UUID) (drivers.CommandClient, *data.Connector, error) {
	conn, _, err := e.creds.GetConfig(ctx, connectorID)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := e.creds.EnsureFresh(ctx, connectorID)
	if err != nil {
		return nil, nil, err
	}
	driver, err := drivers.ForCategory(conn.Category)
	if err != nil {
		return nil, nil, err
	}
	ref := drivers.ConnectorRef{ID: conn.ID, OrganizationID: conn.OrganizationID, Name: conn.Name}
	client, err := driver.Commands(ref, cfg)
	if err != nil {
		return nil, nil, err
	}
	return client, conn, nil
}
