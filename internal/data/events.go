package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/model"
)

// Event is the persisted form of a StandardizedEvent. DeviceID is the
// internal device row when the pipeline could resolve one; the vendor
// external id is always kept.
type Event struct {
	EventID          uuid.UUID              `json:"event_id"`
	OrganizationID   uuid.UUID              `json:"organization_id"`
	ConnectorID      uuid.UUID              `json:"connector_id"`
	DeviceExternalID string                 `json:"device_external_id,omitempty"`
	DeviceID         *uuid.UUID             `json:"device_id,omitempty"`
	Category         model.EventCategory    `json:"category"`
	Type             model.EventType        `json:"type"`
	Subtype          string                 `json:"subtype,omitempty"`
	OccurredAt       time.Time              `json:"occurred_at"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
	DeviceInfo       *model.EventDeviceInfo `json:"device_info,omitempty"`
	IngestedAt       time.Time              `json:"ingested_at"`
}

type EventFilter struct {
	ConnectorID *uuid.UUID
	DeviceID    *uuid.UUID
	Category    model.EventCategory
	Type        model.EventType
	Since       *time.Time
	Until       *time.Time

	// Keyset cursor: strictly older than (AfterTime, AfterID).
	AfterTime *time.Time
	AfterID   *uuid.UUID

	Limit int
}

type EventModel struct {
	DB DBTX
}

// Insert persists an event idempotently. Returns false when the event id
// was already stored.
func (m EventModel) Insert(ctx context.Context, e *Event) (bool, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return false, err
	}
	var deviceInfo []byte
	if e.DeviceInfo != nil {
		if deviceInfo, err = json.Marshal(e.DeviceInfo); err != nil {
			return false, err
		}
	}

	query := `
		INSERT INTO events (
			event_id, organization_id, connector_id, device_external_id, device_id,
			category, type, subtype, occurred_at, payload, device_info
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id) DO NOTHING`

	res, err := m.DB.ExecContext(ctx, query,
		e.EventID, e.OrganizationID, e.ConnectorID, e.DeviceExternalID, e.DeviceID,
		e.Category, e.Type, e.Subtype, e.OccurredAt, payload, deviceInfo,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (m EventModel) GetByID(ctx context.Context, orgID, eventID uuid.UUID) (*Event, error) {
	query := `
		SELECT event_id, organization_id, connector_id, device_external_id, device_id,
		       category, type, subtype, occurred_at, payload, device_info, ingested_at
		FROM events
		WHERE organization_id = $1 AND event_id = $2`

	e, err := scanEvent(m.DB.QueryRowContext(ctx, query, orgID, eventID))
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// List pages events newest-first using a (occurred_at, event_id) keyset.
func (m EventModel) List(ctx context.Context, orgID uuid.UUID, f EventFilter) ([]Event, error) {
	query := `
		SELECT event_id, organization_id, connector_id, device_external_id, device_id,
		       category, type, subtype, occurred_at, payload, device_info, ingested_at
		FROM events
		WHERE organization_id = $1`
	args := []any{orgID}

	if f.ConnectorID != nil {
		args = append(args, *f.ConnectorID)
		query += fmt.Sprintf(" AND connector_id = $%d", len(args))
	}
	if f.DeviceID != nil {
		args = append(args, *f.DeviceID)
		query += fmt.Sprintf(" AND device_id = $%d", len(args))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if f.Until != nil {
		args = append(args, *f.Until)
		query += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
	}
	if f.AfterTime != nil && f.AfterID != nil {
		args = append(args, *f.AfterTime, *f.AfterID)
		query += fmt.Sprintf(" AND (occurred_at, event_id) < ($%d, $%d)", len(args)-1, len(args))
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, event_id DESC LIMIT $%d", len(args))

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var deviceID uuid.NullUUID
	var payload, deviceInfo []byte

	err := row.Scan(
		&e.EventID, &e.OrganizationID, &e.ConnectorID, &e.DeviceExternalID, &deviceID,
		&e.Category, &e.Type, &e.Subtype, &e.OccurredAt, &payload, &deviceInfo, &e.IngestedAt,
	)
	if err != nil {
		return nil, err
	}
	if deviceID.Valid {
		v := deviceID.UUID
		e.DeviceID = &v
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, err
		}
	}
	if len(deviceInfo) > 0 {
		if err := json.Unmarshal(deviceInfo, &e.DeviceInfo); err != nil {
			return nil, err
		}
	}
	return &e, nil
}
