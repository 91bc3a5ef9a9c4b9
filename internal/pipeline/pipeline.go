package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/metrics"
	"github.com/pulsegrid/fusion/internal/model"
)

// processTimeout bounds the handling of a single event end to end.
const processTimeout = 15 * time.Second

// OrgData is the slice of the org gateway the pipeline touches.
// *gateway.Gateway satisfies it.
type OrgData interface {
	DeviceByExternalID(ctx context.Context, connectorID uuid.UUID, externalID string) (*data.Device, error)
	CreateDevice(ctx context.Context, d *data.Device) error
	TouchDevice(ctx context.Context, id uuid.UUID, seen model.StandardizedEvent) error
	InsertEvent(ctx context.Context, e *data.Event) (bool, error)
	Area(ctx context.Context, id uuid.UUID) (*data.Area, error)
}

// Engine receives every persisted event for rule evaluation.
type Engine interface {
	HandleEvent(ctx context.Context, e *data.Event, device *data.Device)
}

// Armer transitions an armed area to TRIGGERED on intrusion events.
type Armer interface {
	Trigger(ctx context.Context, orgID, areaID uuid.UUID) error
}

// Config carries the pipeline tunables.
type Config struct {
	QueueSize    int
	DedupMaxKeys int
	DedupWindow  time.Duration
}

// Pipeline takes standardized events off connector sessions and runs
// them through dedup, persistence, device liveness, state caching,
// fan-out and automation dispatch. One inlet per connector keeps
// per-connector ordering; connectors never block each other.
type Pipeline struct {
	gatewayFor func(uuid.UUID) OrgData
	dedup      *Dedup
	states     *StateCache // nil disables the cache
	hub        *Hub
	publisher  *Publisher // nil disables bus mirroring
	engine     Engine     // nil disables automation dispatch
	armer      Armer      // nil disables the intrusion hook
	cfg        Config
	logger     *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	inlets map[uuid.UUID]chan envelope
	closed bool
}

type envelope struct {
	conn  data.Connector
	event model.StandardizedEvent
}

func New(gatewayFor func(uuid.UUID) OrgData, hub *Hub, cfg Config, logger *logrus.Logger) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		gatewayFor: gatewayFor,
		dedup:      NewDedup(cfg.DedupMaxKeys, cfg.DedupWindow),
		hub:        hub,
		cfg:        cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		inlets:     make(map[uuid.UUID]chan envelope),
	}
}

// WithStateCache attaches the Redis display-state cache.
func (p *Pipeline) WithStateCache(c *StateCache) *Pipeline { p.states = c; return p }

// WithPublisher attaches the NATS event mirror.
func (p *Pipeline) WithPublisher(pub *Publisher) *Pipeline { p.publisher = pub; return p }

// WithEngine attaches the automation engine.
func (p *Pipeline) WithEngine(e Engine) *Pipeline { p.engine = e; return p }

// WithArmer attaches the armed-area intrusion hook.
func (p *Pipeline) WithArmer(a Armer) *Pipeline { p.armer = a; return p }

// Submit hands a batch of events to the connector's inlet without ever
// blocking the session worker. On overflow the oldest queued event is
// dropped to make room.
func (p *Pipeline) Submit(conn *data.Connector, events []model.StandardizedEvent) {
	ch := p.inlet(conn.ID)
	if ch == nil {
		metrics.EventsDropped.WithLabelValues("shutdown").Add(float64(len(events)))
		return
	}

	for _, e := range events {
		env := envelope{conn: *conn, event: e}
		select {
		case ch <- env:
			continue
		default:
		}
		// Queue full: evict the oldest and retry once. The session
		// worker is the only producer, so the retry cannot race
		// another Submit for this connector.
		select {
		case <-ch:
			metrics.EventsDropped.WithLabelValues("queue_full").Inc()
			p.logger.WithField("connector_id", conn.ID).Warn("inlet full, dropping oldest event")
		default:
		}
		select {
		case ch <- env:
		default:
			metrics.EventsDropped.WithLabelValues("queue_full").Inc()
		}
	}
}

func (p *Pipeline) inlet(connectorID uuid.UUID) chan envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	ch, ok := p.inlets[connectorID]
	if !ok {
		ch = make(chan envelope, p.cfg.QueueSize)
		p.inlets[connectorID] = ch
		p.wg.Add(1)
		go p.consume(ch)
	}
	return ch
}

func (p *Pipeline) consume(ch chan envelope) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case env := <-ch:
			p.process(env)
		}
	}
}

// Shutdown stops the consumers. Queued events still in inlets are
// abandoned; the dedup window makes redelivery after restart harmless.
func (p *Pipeline) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}

func (p *Pipeline) process(env envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	e := env.event
	log := p.logger.WithFields(logrus.Fields{
		"event_id":     e.EventID,
		"connector_id": e.ConnectorID,
		"org_id":       e.OrganizationID,
		"type":         e.Type,
	})

	metrics.EventsIngested.WithLabelValues(string(e.Category)).Inc()

	idKey := e.EventID.String()
	cKey := contentKey(&e, p.cfg.DedupWindow)
	if p.dedup.Contains(idKey) || p.dedup.Contains(cKey) {
		metrics.EventsDeduplicated.Inc()
		return
	}

	gw := p.gatewayFor(e.OrganizationID)

	device := p.resolveDevice(ctx, gw, &env, log)

	row := &data.Event{
		EventID:          e.EventID,
		OrganizationID:   e.OrganizationID,
		ConnectorID:      e.ConnectorID,
		DeviceExternalID: e.DeviceID,
		Category:         e.Category,
		Type:             e.Type,
		Subtype:          e.Subtype,
		OccurredAt:       e.Timestamp,
		Payload:          e.Payload,
		DeviceInfo:       e.DeviceInfo,
		IngestedAt:       time.Now().UTC(),
	}
	if device != nil {
		row.DeviceID = &device.ID
	}

	inserted, err := gw.InsertEvent(ctx, row)
	switch {
	case err != nil:
		// Storage hiccups must not stall the stream; liveness and
		// fan-out still proceed. The dedup keys stay unrecorded so a
		// broker redelivery gets another shot at persisting the row.
		log.WithError(err).Error("event insert failed")
	case !inserted:
		p.dedup.Record(idKey)
		p.dedup.Record(cKey)
		metrics.EventsDeduplicated.Inc()
		return
	default:
		p.dedup.Record(idKey)
		p.dedup.Record(cKey)
	}

	if device != nil {
		if err := gw.TouchDevice(ctx, device.ID, e); err != nil {
			log.WithError(err).Warn("device liveness update failed")
		}
	}

	if state, ok := e.DisplayState(); ok && p.states != nil && e.DeviceID != "" {
		if err := p.states.Set(ctx, e.OrganizationID, e.DeviceID, state); err != nil {
			log.WithError(err).Warn("state cache write failed")
		}
	}

	p.hub.Broadcast(row)

	if p.publisher != nil {
		if err := p.publisher.Publish(row); err != nil {
			log.WithError(err).Warn("bus publish failed")
		}
	}

	if p.engine != nil {
		p.engine.HandleEvent(ctx, row, device)
	}

	p.maybeTrigger(ctx, gw, device, &e, log)
}

// resolveDevice looks up the event's device, auto-registering one the
// first time a connector reports an unknown external id.
func (p *Pipeline) resolveDevice(ctx context.Context, gw OrgData, env *envelope, log *logrus.Entry) *data.Device {
	e := &env.event
	if e.DeviceID == "" {
		return nil
	}

	device, err := gw.DeviceByExternalID(ctx, e.ConnectorID, e.DeviceID)
	if err == nil {
		return device
	}
	if !errors.Is(err, data.ErrRecordNotFound) {
		log.WithError(err).Warn("device lookup failed")
		return nil
	}

	d := &data.Device{
		ConnectorID:    e.ConnectorID,
		OrganizationID: e.OrganizationID,
		ExternalID:     e.DeviceID,
		Name:           e.DeviceID,
		Type:           model.InferDeviceType(e.Type),
	}
	if info := e.DeviceInfo; info != nil {
		if info.Name != "" {
			d.Name = info.Name
		}
		if info.Type != "" {
			d.Type = info.Type
		}
		d.Subtype = info.Subtype
	}

	if err := gw.CreateDevice(ctx, d); err != nil {
		// Likely a concurrent registration; re-read and move on.
		if existing, rerr := gw.DeviceByExternalID(ctx, e.ConnectorID, e.DeviceID); rerr == nil {
			return existing
		}
		log.WithError(err).Warn("device auto-registration failed")
		return nil
	}
	log.WithFields(logrus.Fields{"device_id": d.ID, "device_type": d.Type}).
		Info("auto-registered device")
	return d
}

// intrusionStates are the display states that set off an armed area.
var intrusionStates = map[model.DisplayState]struct{}{
	model.StateOpen:              {},
	model.StateMotionDetected:    {},
	model.StateVibrationDetected: {},
}

// maybeTrigger flips an armed area to TRIGGERED when an intrusion-type
// event arrives from one of its devices.
func (p *Pipeline) maybeTrigger(ctx context.Context, gw OrgData, device *data.Device, e *model.StandardizedEvent, log *logrus.Entry) {
	if p.armer == nil || device == nil || device.AreaID == nil {
		return
	}
	state, ok := e.DisplayState()
	if !ok {
		return
	}
	if _, intrusion := intrusionStates[state]; !intrusion {
		return
	}

	area, err := gw.Area(ctx, *device.AreaID)
	if err != nil {
		log.WithError(err).Warn("area lookup failed for trigger check")
		return
	}
	if !area.ArmedState.Armed() {
		return
	}

	if err := p.armer.Trigger(ctx, e.OrganizationID, area.ID); err != nil {
		log.WithError(err).WithField("area_id", area.ID).Error("area trigger failed")
		return
	}
	log.WithField("area_id", area.ID).Warn("armed area triggered by event")
}
