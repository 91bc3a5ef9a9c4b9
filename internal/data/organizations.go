package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PushoverSettings is the per-org push notification configuration.
// GroupKey receives broadcasts; UserKeys maps operator names to
// individual delivery keys.
type PushoverSettings struct {
	GroupKey string            `json:"groupKey,omitempty"`
	UserKeys map[string]string `json:"userKeys,omitempty"`
}

type OrgSettings struct {
	Pushover *PushoverSettings `json:"pushover,omitempty"`
}

type Organization struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	Settings  OrgSettings `json:"settings"`
	CreatedAt time.Time   `json:"created_at"`
}

type OrganizationModel struct {
	DB DBTX
}

func (m OrganizationModel) Create(ctx context.Context, o *Organization) error {
	settings, err := json.Marshal(o.Settings)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO organizations (name, settings)
		VALUES ($1, $2)
		RETURNING id, created_at`

	return m.DB.QueryRowContext(ctx, query, o.Name, settings).Scan(&o.ID, &o.CreatedAt)
}

func (m OrganizationModel) GetByID(ctx context.Context, id uuid.UUID) (*Organization, error) {
	query := `
		SELECT id, name, settings, created_at
		FROM organizations
		WHERE id = $1`

	var o Organization
	var settings []byte
	err := m.DB.QueryRowContext(ctx, query, id).Scan(&o.ID, &o.Name, &settings, &o.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &o.Settings); err != nil {
			return nil, err
		}
	}
	return &o, nil
}

func (m OrganizationModel) UpdateSettings(ctx context.Context, id uuid.UUID, settings OrgSettings) error {
	blob, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	query := `UPDATE organizations SET settings = $1 WHERE id = $2`
	res, err := m.DB.ExecContext(ctx, query, blob, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}
