package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/model"
)

// Connector is one upstream integration instance owned by an org. Cfg is
// the category-specific JSON config including the (sealed) credentials
// subtree.
type Connector struct {
	ID             uuid.UUID               `json:"id"`
	OrganizationID uuid.UUID               `json:"organization_id"`
	Category       model.ConnectorCategory `json:"category"`
	Name           string                  `json:"name"`
	Cfg            json.RawMessage         `json:"cfg,omitempty"`
	EventsEnabled  bool                    `json:"events_enabled"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

type ConnectorModel struct {
	DB DBTX
}

func (m ConnectorModel) Create(ctx context.Context, c *Connector) error {
	query := `
		INSERT INTO connectors (organization_id, category, name, cfg, events_enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return m.DB.QueryRowContext(ctx, query,
		c.OrganizationID, c.Category, c.Name, []byte(c.Cfg), c.EventsEnabled,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (m ConnectorModel) GetByID(ctx context.Context, id uuid.UUID) (*Connector, error) {
	query := `
		SELECT id, organization_id, category, name, cfg, events_enabled, created_at, updated_at
		FROM connectors
		WHERE id = $1`

	var c Connector
	var cfg []byte
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.OrganizationID, &c.Category, &c.Name, &cfg,
		&c.EventsEnabled, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	c.Cfg = cfg
	return &c, nil
}

func (m ConnectorModel) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]Connector, error) {
	query := `
		SELECT id, organization_id, category, name, cfg, events_enabled, created_at, updated_at
		FROM connectors
		WHERE organization_id = $1
		ORDER BY created_at`

	rows, err := m.DB.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanConnectors(rows)
}

// ListEventsEnabled returns every connector the session manager should
// run, across all orgs. Boot path only.
func (m ConnectorModel) ListEventsEnabled(ctx context.Context) ([]Connector, error) {
	query := `
		SELECT id, organization_id, category, name, cfg, events_enabled, created_at, updated_at
		FROM connectors
		WHERE events_enabled = TRUE
		ORDER BY created_at`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanConnectors(rows)
}

func scanConnectors(rows *sql.Rows) ([]Connector, error) {
	var out []Connector
	for rows.Next() {
		var c Connector
		var cfg []byte
		if err := rows.Scan(
			&c.ID, &c.OrganizationID, &c.Category, &c.Name, &cfg,
			&c.EventsEnabled, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		c.Cfg = cfg
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCfg replaces the whole config blob. Credential write-back goes
// through here under the connector's refresh mutex.
func (m ConnectorModel) UpdateCfg(ctx context.Context, id uuid.UUID, cfg json.RawMessage) error {
	query := `
		UPDATE connectors
		SET cfg = $1, updated_at = NOW()
		WHERE id = $2`

	res, err := m.DB.ExecContext(ctx, query, []byte(cfg), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m ConnectorModel) SetEventsEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	query := `
		UPDATE connectors
		SET events_enabled = $1, updated_at = NOW()
		WHERE id = $2`

	res, err := m.DB.ExecContext(ctx, query, enabled, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m ConnectorModel) Rename(ctx context.Context, id uuid.UUID, name string) error {
	query := `
		UPDATE connectors
		SET name = $1, updated_at = NOW()
		WHERE id = $2`

	res, err := m.DB.ExecContext(ctx, query, name, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Delete removes the connector; devices and events cascade via FK.
func (m ConnectorModel) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM connectors WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}
