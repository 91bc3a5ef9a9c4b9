package data

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLog records operator-initiated mutations: connector lifecycle,
// arming commands, automation writes. Inbound vendor events are not
// audited; they land in the events table.
type AuditLog struct {
	ID             uuid.UUID              `json:"id"`
	OrganizationID uuid.UUID              `json:"organization_id"`
	Actor          string                 `json:"actor,omitempty"`
	Action         string                 `json:"action"`
	EntityType     string                 `json:"entity_type"`
	EntityID       string                 `json:"entity_id"`
	Detail         map[string]interface{} `json:"detail,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

type AuditModel struct {
	DB DBTX
}

func (m AuditModel) Insert(ctx context.Context, l *AuditLog) error {
	detail, err := json.Marshal(l.Detail)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_logs (organization_id, actor, action, entity_type, entity_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	return m.DB.QueryRowContext(ctx, query,
		l.OrganizationID, l.Actor, l.Action, l.EntityType, l.EntityID, detail,
	).Scan(&l.ID, &l.CreatedAt)
}

func (m AuditModel) ListByOrg(ctx context.Context, orgID uuid.UUID, limit int) ([]AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, organization_id, actor, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := m.DB.QueryContext(ctx, query, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditLog
	for rows.Next() {
		var l AuditLog
		var detail []byte
		if err := rows.Scan(
			&l.ID, &l.OrganizationID, &l.Actor, &l.Action, &l.EntityType, &l.EntityID,
			&detail, &l.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &l.Detail); err != nil {
				return nil, err
			}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
