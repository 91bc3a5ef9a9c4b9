package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pulsegrid/fusion/internal/crypto"
	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/drivers"
	"github.com/pulsegrid/fusion/internal/metrics"
)

// expirySkew is how long before nominal expiry a token already counts as
// expired, so sessions never race the vendor's clock.
const expirySkew = 60 * time.Second

// connectorStore is the slice of the connector model the credential
// store needs. data.ConnectorModel satisfies it.
type connectorStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*data.Connector, error)
	UpdateCfg(ctx context.Context, id uuid.UUID, cfg json.RawMessage) error
}

// Store owns connector credentials: it unseals them on read, refreshes
// rotating tokens under a per-connector mutex, and seals them on write.
type Store struct {
	connectors connectorStore
	keyring    *crypto.Keyring // nil in dev mode: credentials stored plaintext
	logger     *logrus.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewStore(connectors connectorStore, keyring *crypto.Keyring, logger *logrus.Logger) *Store {
	if keyring == nil {
		logger.Warn("credential keyring not configured, connector credentials stored in plaintext")
	}
	return &Store{
		connectors: connectors,
		keyring:    keyring,
		logger:     logger,
		locks:      make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *Store) lockFor(connectorID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[connectorID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[connectorID] = l
	}
	return l
}

// GetConfig loads and decodes a connector's config with credentials
// unsealed.
func (s *Store) GetConfig(ctx context.Context, connectorID uuid.UUID) (*data.Connector, drivers.Config, error) {
	conn, err := s.connectors.GetByID(ctx, connectorID)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := s.decode(conn)
	if err != nil {
		return nil, nil, err
	}
	return conn, cfg, nil
}

// EnsureFresh returns a config whose token (if the category rotates
// tokens) is valid for at least the expiry skew, refreshing if needed.
// Refreshes are single-flight per connector: concurrent callers
// serialize on the connector mutex and the second caller re-checks
// freshness instead of hitting the vendor again.
func (s *Store) EnsureFresh(ctx context.Context, connectorID uuid.UUID) (drivers.Config, error) {
	return s.freshen(ctx, connectorID, false)
}

// ForceRefresh refreshes unconditionally. Session workers call it after
// an authentication rejection, where the stored expiry is evidently a
// lie.
func (s *Store) ForceRefresh(ctx context.Context, connectorID uuid.UUID) (drivers.Config, error) {
	return s.freshen(ctx, connectorID, true)
}

func (s *Store) freshen(ctx context.Context, connectorID uuid.UUID, force bool) (drivers.Config, error) {
	lock := s.lockFor(connectorID)
	lock.Lock()
	defer lock.Unlock()

	conn, cfg, err := s.GetConfig(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	creds := cfg.Credentials()
	if creds == nil {
		// Static-credential category; nothing to refresh.
		return cfg, nil
	}
	if !force && fresh(creds) {
		return cfg, nil
	}

	driver, err := drivers.ForCategory(conn.Category)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"connector_id": connectorID,
		"org_id":       conn.OrganizationID,
	})

	next, err := driver.RefreshCredentials(ctx, cfg)
	if err != nil {
		if errors.Is(err, drivers.ErrNotSupported) {
			return cfg, nil
		}
		if errors.Is(err, drivers.ErrAuth) {
			metrics.TokenRefreshes.WithLabelValues("auth_rejected").Inc()
			log.WithError(err).Error("credential refresh rejected by vendor")
		} else {
			metrics.TokenRefreshes.WithLabelValues("error").Inc()
			log.WithError(err).Warn("credential refresh failed")
		}
		return nil, err
	}
	metrics.TokenRefreshes.WithLabelValues("success").Inc()

	cfg.SetCredentials(next)

	// Persist before returning so a restart does not resurrect the old
	// refresh token. A write failure is logged but the new token is
	// still handed out: the session stays functional and the next boot
	// simply refreshes again.
	if err := s.SaveConfig(ctx, connectorID, cfg); err != nil {
		log.WithError(err).Error("failed to persist rotated credentials")
	} else {
		log.WithField("expires_at", next.TokenExpiresAt).Info("rotated connector credentials")
	}
	return cfg, nil
}

// SaveConfig seals the credentials subtree and writes the config back.
func (s *Store) SaveConfig(ctx context.Context, connectorID uuid.UUID, cfg drivers.Config) error {
	raw, err := s.encode(connectorID, cfg)
	if err != nil {
		return err
	}
	return s.connectors.UpdateCfg(ctx, connectorID, raw)
}

func fresh(creds *drivers.Credentials) bool {
	if creds.AccessToken == "" || creds.TokenExpiresAt.IsZero() {
		return false
	}
	return time.Until(creds.TokenExpiresAt) > expirySkew
}

// storedConfig is the persisted envelope: the driver config either with
// plaintext credentials (dev mode) or with the subtree sealed.
type storedConfig map[string]json.RawMessage

const (
	credentialsKey = "credentials"
	sealedKey      = "sealedCredentials"
)

func (s *Store) decode(conn *data.Connector) (drivers.Config, error) {
	driver, err := drivers.ForCategory(conn.Category)
	if err != nil {
		return nil, err
	}

	raw := conn.Cfg
	if s.keyring != nil {
		if raw, err = s.unsealCfg(conn.ID, conn.Cfg); err != nil {
			return nil, fmt.Errorf("connector %s: %w", conn.ID, err)
		}
	}
	return driver.DecodeConfig(raw)
}

func (s *Store) encode(connectorID uuid.UUID, cfg drivers.Config) (json.RawMessage, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	if s.keyring == nil {
		return raw, nil
	}
	return s.sealCfg(connectorID, raw)
}

// sealCfg replaces the credentials subtree with an AES-GCM envelope. The
// AAD binds the blob to its connector so envelopes cannot be swapped
// between rows.
func (s *Store) sealCfg(connectorID uuid.UUID, raw json.RawMessage) (json.RawMessage, error) {
	var m storedConfig
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	plain, ok := m[credentialsKey]
	if !ok || string(plain) == "null" {
		return raw, nil
	}

	blob, err := s.keyring.Seal(plain, sealAAD(connectorID))
	if err != nil {
		return nil, fmt.Errorf("seal credentials: %w", err)
	}
	sealed, err := json.Marshal(blob)
	if err != nil {
		return nil, err
	}
	delete(m, credentialsKey)
	m[sealedKey] = sealed
	return json.Marshal(m)
}

func (s *Store) unsealCfg(connectorID uuid.UUID, raw json.RawMessage) (json.RawMessage, error) {
	var m storedConfig
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	sealed, ok := m[sealedKey]
	if !ok {
		// Row written before sealing was enabled; next save seals it.
		return raw, nil
	}

	var blob crypto.SealedBlob
	if err := json.Unmarshal(sealed, &blob); err != nil {
		return nil, fmt.Errorf("decode credential envelope: %w", err)
	}
	plain, err := s.keyring.Open(&blob, sealAAD(connectorID))
	if err != nil {
		return nil, fmt.Errorf("unseal credentials: %w", err)
	}
	delete(m, sealedKey)
	m[credentialsKey] = plain
	return json.Marshal(m)
}

func sealAAD(connectorID uuid.UUID) []byte {
	return []byte("connector|" + connectorID.String())
}
