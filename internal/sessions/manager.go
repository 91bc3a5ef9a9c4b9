package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/drivers"
	"github.com/pulsegrid/fusion/internal/model"
)

// CredentialStore is the slice of the credential layer workers need.
// *credentials.Store satisfies it.
type CredentialStore interface {
	GetConfig(ctx context.Context, connectorID uuid.UUID) (*data.Connector, drivers.Config, error)
	EnsureFresh(ctx context.Context, connectorID uuid.UUID) (drivers.Config, error)
	ForceRefresh(ctx context.Context, connectorID uuid.UUID) (drivers.Config, error)
}

// Sink receives parsed events from live sessions. *pipeline.Pipeline
// satisfies it.
type Sink interface {
	Submit(conn *data.Connector, events []model.StandardizedEvent)
}

// Config carries the session tunables.
type Config struct {
	ConnectTimeout  time.Duration
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	ShutdownTimeout time.Duration
}

// SessionInfo is a point-in-time snapshot of one connector session.
type SessionInfo struct {
	ConnectorID    uuid.UUID               `json:"connectorId"`
	OrganizationID uuid.UUID               `json:"organizationId"`
	Category       model.ConnectorCategory `json:"category"`
	Name           string                  `json:"name"`
	State          model.SessionState      `json:"state"`
	LastError      string                  `json:"lastError,omitempty"`
}

// Manager owns the set of live connector sessions. One worker per
// enabled connector; a secondary index by physical session key stops two
// connectors from fighting over the same upstream account.
type Manager struct {
	connectors data.ConnectorModel
	creds      CredentialStore
	sink       Sink
	cfg        Config
	logger     *logrus.Logger

	mu      sync.Mutex
	workers map[uuid.UUID]*worker
	byKey   map[string]uuid.UUID
}

func NewManager(connectors data.ConnectorModel, creds CredentialStore, sink Sink, cfg Config, logger *logrus.Logger) *Manager {
	return &Manager{
		connectors: connectors,
		creds:      creds,
		sink:       sink,
		cfg:        cfg,
		logger:     logger,
		workers:    make(map[uuid.UUID]*worker),
		byKey:      make(map[string]uuid.UUID),
	}
}

// InitializeAll boots a worker for every connector flagged events_enabled.
// A connector that fails to start is logged and skipped so one bad config
// cannot hold the rest of the fleet down.
func (m *Manager) InitializeAll(ctx context.Context) error {
	conns, err := m.connectors.ListEventsEnabled(ctx)
	if err != nil {
		return fmt.Errorf("listing enabled connectors: %w", err)
	}

	for i := range conns {
		conn := conns[i]
		if _, err := m.startWorker(&conn); err != nil {
			m.logger.WithError(err).WithField("connector_id", conn.ID).
				Error("skipping connector at startup")
		}
	}
	m.logger.WithField("count", len(conns)).Info("session manager initialized")
	return nil
}

// Enable marks the connector events-enabled, starts its worker, and
// blocks until the first connect attempt resolves. A failed first
// attempt is reported to the caller but the worker keeps retrying in the
// background; only an auth rejection parks it.
func (m *Manager) Enable(ctx context.Context, connectorID uuid.UUID) error {
	conn, _, err := m.creds.GetConfig(ctx, connectorID)
	if err != nil {
		return err
	}
	if err := m.connectors.SetEventsEnabled(ctx, connectorID, true); err != nil {
		return fmt.Errorf("persisting events_enabled: %w", err)
	}
	conn.EventsEnabled = true

	w, err := m.startWorker(conn)
	if err != nil {
		return err
	}

	select {
	case err := <-w.firstOutcome:
		if err != nil {
			return fmt.Errorf("session connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disable persists the flag, tears the worker down, and waits for it to
// drain. Disabling an unknown or already-stopped connector is a no-op
// beyond the persisted flag.
func (m *Manager) Disable(ctx context.Context, connectorID uuid.UUID) error {
	if err := m.connectors.SetEventsEnabled(ctx, connectorID, false); err != nil {
		return fmt.Errorf("persisting events_enabled: %w", err)
	}
	m.stopWorker(connectorID)
	return nil
}

// Reconnect asks a live worker to drop its transport and dial again.
func (m *Manager) Reconnect(connectorID uuid.UUID) error {
	m.mu.Lock()
	w, ok := m.workers[connectorID]
	m.mu.Unlock()
	if !ok {
		return data.ErrRecordNotFound
	}
	select {
	case w.ctrl <- opReconnect:
	default:
		// control queue full means a reconnect is already pending
	}
	return nil
}

// ReconnectAll nudges every live worker, typically after a config reload.
func (m *Manager) ReconnectAll() {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Reconnect(id)
	}
	m.logger.WithField("count", len(ids)).Info("reconnect requested for all sessions")
}

// Status reports one connector's session state.
func (m *Manager) Status(connectorID uuid.UUID) (SessionInfo, error) {
	m.mu.Lock()
	w, ok := m.workers[connectorID]
	m.mu.Unlock()
	if !ok {
		return SessionInfo{}, data.ErrRecordNotFound
	}
	return w.info(), nil
}

// Snapshot reports every live session, newest state included.
func (m *Manager) Snapshot() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SessionInfo, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w.info())
	}
	return out
}

// Shutdown stops every worker, bounded by the configured drain timeout.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	workers := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[uuid.UUID]*worker)
	m.byKey = make(map[string]uuid.UUID)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, w := range workers {
			wg.Add(1)
			go func(w *worker) {
				defer wg.Done()
				w.stop()
			}(w)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("all sessions drained")
	case <-time.After(m.cfg.ShutdownTimeout):
		m.logger.Warn("session drain timed out, abandoning workers")
	}
}

// startWorker resolves the driver and session key, evicts any previous
// owner of the same key, and launches the worker goroutine.
func (m *Manager) startWorker(conn *data.Connector) (*worker, error) {
	driver, err := drivers.ForCategory(conn.Category)
	if err != nil {
		return nil, err
	}
	cfg, err := driver.DecodeConfig(conn.Cfg)
	if err != nil {
		return nil, fmt.Errorf("decoding connector config: %w", err)
	}
	key := cfg.SessionKey(conn.ID)

	m.mu.Lock()
	if prev, ok := m.workers[conn.ID]; ok {
		// re-enable of a live connector restarts its session
		delete(m.byKey, keyOf(m.byKey, conn.ID))
		delete(m.workers, conn.ID)
		m.mu.Unlock()
		prev.stop()
		m.mu.Lock()
	}
	if ownerID, taken := m.byKey[key]; taken && ownerID != conn.ID {
		owner, owned := m.workers[ownerID]
		if owned {
			// Rebind: the newest config wins the physical session; the
			// displaced connector is parked until explicitly re-enabled.
			m.logger.WithFields(logrus.Fields{
				"session_key":  key,
				"evicted":      ownerID,
				"connector_id": conn.ID,
			}).Warn("session key rebound to new connector")
			delete(m.workers, ownerID)
			delete(m.byKey, key)
			m.mu.Unlock()
			owner.stop()
			m.mu.Lock()
		} else {
			delete(m.byKey, key)
		}
	}

	w := newWorker(*conn, driver, m.creds, m.sink, m.cfg, m.logger)
	m.workers[conn.ID] = w
	m.byKey[key] = conn.ID
	m.mu.Unlock()

	w.start()
	return w, nil
}

func (m *Manager) stopWorker(connectorID uuid.UUID) {
	m.mu.Lock()
	w, ok := m.workers[connectorID]
	if ok {
		delete(m.workers, connectorID)
		delete(m.byKey, keyOf(m.byKey, connectorID))
	}
	m.mu.Unlock()
	if ok {
		w.stop()
	}
}

func keyOf(byKey map[string]uuid.UUID, connectorID uuid.UUID) string {
	for k, id := range byKey {
		if id == connectorID {
			return k
		}
	}
	return ""
}

func (w *worker) info() SessionInfo {
	state, lastErr := w.status()
	return SessionInfo{
		ConnectorID:    w.conn.ID,
		OrganizationID: w.conn.OrganizationID,
		Category:       w.conn.Category,
		Name:           w.conn.Name,
		State:          state,
		LastError:      lastErr,
	}
}
