package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/pulsegrid/fusion/internal/model"
)

type Automation struct {
	ID              uuid.UUID              `json:"id"`
	OrganizationID  uuid.UUID              `json:"organization_id"`
	Name            string                 `json:"name"`
	Enabled         bool                   `json:"enabled"`
	LocationScopeID *uuid.UUID             `json:"location_scope_id,omitempty"`
	Tags            []string               `json:"tags"`
	Config          model.AutomationConfig `json:"config"`
	LastFiredAt     *time.Time             `json:"last_fired_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

type AutomationModel struct {
	DB DBTX
}

const automationColumns = `
	id, organization_id, name, enabled, location_scope_id, tags, config, last_fired_at, created_at, updated_at`

func (m AutomationModel) Create(ctx context.Context, a *Automation) error {
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO automations (organization_id, name, enabled, location_scope_id, tags, config)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	return m.DB.QueryRowContext(ctx, query,
		a.OrganizationID, a.Name, a.Enabled, a.LocationScopeID, pq.Array(a.Tags), cfg,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (m AutomationModel) GetByID(ctx context.Context, id uuid.UUID) (*Automation, error) {
	query := `SELECT` + automationColumns + ` FROM automations WHERE id = $1`
	a, err := scanAutomation(m.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (m AutomationModel) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]Automation, error) {
	query := `SELECT` + automationColumns + ` FROM automations WHERE organization_id = $1 ORDER BY name, id`
	return m.list(ctx, query, orgID)
}

// ListEnabledByOrg feeds the engine's per-org rule cache.
func (m AutomationModel) ListEnabledByOrg(ctx context.Context, orgID uuid.UUID) ([]Automation, error) {
	query := `SELECT` + automationColumns + `
		FROM automations
		WHERE organization_id = $1 AND enabled = TRUE
		ORDER BY id`
	return m.list(ctx, query, orgID)
}

// ListScheduledEnabled returns enabled SCHEDULED-trigger automations
// across all orgs. Only the schedule daemon calls this.
func (m AutomationModel) ListScheduledEnabled(ctx context.Context) ([]Automation, error) {
	query := `SELECT` + automationColumns + `
		FROM automations
		WHERE enabled = TRUE AND config->'trigger'->>'kind' = 'SCHEDULED'
		ORDER BY id`
	return m.list(ctx, query)
}

func (m AutomationModel) list(ctx context.Context, query string, args ...any) ([]Automation, error) {
	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (m AutomationModel) Update(ctx context.Context, a *Automation) error {
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return err
	}

	query := `
		UPDATE automations
		SET name = $1, enabled = $2, location_scope_id = $3, tags = $4, config = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at`

	err = m.DB.QueryRowContext(ctx, query,
		a.Name, a.Enabled, a.LocationScopeID, pq.Array(a.Tags), cfg, a.ID,
	).Scan(&a.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return err
}

// MarkFired claims a scheduled occurrence. Returns false when another
// tick already advanced last_fired_at to or past firedAt.
func (m AutomationModel) MarkFired(ctx context.Context, id uuid.UUID, firedAt time.Time) (bool, error) {
	query := `
		UPDATE automations
		SET last_fired_at = $1, updated_at = NOW()
		WHERE id = $2 AND (last_fired_at IS NULL OR last_fired_at < $1)`

	res, err := m.DB.ExecContext(ctx, query, firedAt, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (m AutomationModel) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM automations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func scanAutomation(row rowScanner) (*Automation, error) {
	var a Automation
	var scopeID uuid.NullUUID
	var lastFired sql.NullTime
	var tags []string
	var cfg []byte

	err := row.Scan(
		&a.ID, &a.OrganizationID, &a.Name, &a.Enabled, &scopeID,
		pq.Array(&tags), &cfg, &lastFired, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if scopeID.Valid {
		v := scopeID.UUID
		a.LocationScopeID = &v
	}
	if lastFired.Valid {
		t := lastFired.Time
		a.LastFiredAt = &t
	}
	a.Tags = tags
	if err := json.Unmarshal(cfg, &a.Config); err != nil {
		return nil, err
	}
	return &a, nil
}
