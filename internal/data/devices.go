package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/pulsegrid/fusion/internal/model"
)

type Device struct {
	ID                uuid.UUID        `json:"id"`
	ConnectorID       uuid.UUID        `json:"connector_id"`
	OrganizationID    uuid.UUID        `json:"organization_id"`
	ExternalID        string           `json:"external_id"`
	Name              string           `json:"name"`
	Type              model.DeviceType `json:"type"`
	Subtype           string           `json:"subtype,omitempty"`
	BatteryPercentage *int             `json:"battery_percentage,omitempty"`
	LastSeen          *time.Time       `json:"last_seen,omitempty"`
	AreaID            *uuid.UUID       `json:"area_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

type DeviceFilter struct {
	ConnectorID *uuid.UUID
	Type        model.DeviceType
	AreaID      *uuid.UUID
}

type DeviceModel struct {
	DB DBTX
}

const deviceColumns = `
	d.id, d.connector_id, d.organization_id, d.external_id, d.name, d.type,
	d.subtype, d.battery_percentage, d.last_seen, ad.area_id, d.created_at, d.updated_at`

func (m DeviceModel) Create(ctx context.Context, d *Device) error {
	query := `
		INSERT INTO devices (connector_id, organization_id, external_id, name, type, subtype)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := m.DB.QueryRowContext(ctx, query,
		d.ConnectorID, d.OrganizationID, d.ExternalID, d.Name, d.Type, d.Subtype,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateRow
	}
	return err
}

func (m DeviceModel) GetByID(ctx context.Context, id uuid.UUID) (*Device, error) {
	query := `
		SELECT` + deviceColumns + `
		FROM devices d
		LEFT JOIN area_devices ad ON ad.device_id = d.id
		WHERE d.id = $1`

	return m.scanOne(m.DB.QueryRowContext(ctx, query, id))
}

func (m DeviceModel) GetByExternalID(ctx context.Context, connectorID uuid.UUID, externalID string) (*Device, error) {
	query := `
		SELECT` + deviceColumns + `
		FROM devices d
		LEFT JOIN area_devices ad ON ad.device_id = d.id
		WHERE d.connector_id = $1 AND d.external_id = $2`

	return m.scanOne(m.DB.QueryRowContext(ctx, query, connectorID, externalID))
}

func (m DeviceModel) ListByOrg(ctx context.Context, orgID uuid.UUID, f DeviceFilter) ([]Device, error) {
	query := `
		SELECT` + deviceColumns + `
		FROM devices d
		LEFT JOIN area_devices ad ON ad.device_id = d.id
		WHERE d.organization_id = $1`
	args := []any{orgID}

	if f.ConnectorID != nil {
		args = append(args, *f.ConnectorID)
		query += fmt.Sprintf(" AND d.connector_id = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		query += fmt.Sprintf(" AND d.type = $%d", len(args))
	}
	if f.AreaID != nil {
		args = append(args, *f.AreaID)
		query += fmt.Sprintf(" AND ad.area_id = $%d", len(args))
	}
	query += " ORDER BY d.name, d.id"

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// TouchLastSeen updates liveness fields from an inbound event. Battery is
// only written when the event carried a reading.
func (m DeviceModel) TouchLastSeen(ctx context.Context, id uuid.UUID, seen time.Time, battery *int) error {
	query := `
		UPDATE devices
		SET last_seen = GREATEST(COALESCE(last_seen, 'epoch'::timestamptz), $1),
		    battery_percentage = COALESCE($2, battery_percentage),
		    updated_at = NOW()
		WHERE id = $3`

	_, err := m.DB.ExecContext(ctx, query, seen, battery, id)
	return err
}

func (m DeviceModel) Update(ctx context.Context, d *Device) error {
	query := `
		UPDATE devices
		SET name = $1, type = $2, subtype = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at`

	err := m.DB.QueryRowContext(ctx, query, d.Name, d.Type, d.Subtype, d.ID).Scan(&d.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return err
}

// AssignArea moves the device into an area. A device belongs to at most
// one area, so the row is replaced.
func (m DeviceModel) AssignArea(ctx context.Context, deviceID, areaID uuid.UUID) error {
	query := `
		INSERT INTO area_devices (area_id, device_id)
		VALUES ($1, $2)
		ON CONFLICT (device_id) DO UPDATE SET area_id = EXCLUDED.area_id`

	_, err := m.DB.ExecContext(ctx, query, areaID, deviceID)
	return err
}

func (m DeviceModel) ClearArea(ctx context.Context, deviceID uuid.UUID) error {
	_, err := m.DB.ExecContext(ctx, `DELETE FROM area_devices WHERE device_id = $1`, deviceID)
	return err
}

// CameraIDs returns the camera devices associated with a device, used to
// attach video context to automation actions.
func (m DeviceModel) CameraIDs(ctx context.Context, deviceID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT camera_device_id
		FROM camera_associations
		WHERE device_id = $1
		ORDER BY camera_device_id`

	rows, err := m.DB.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ReplaceCameraAssociations swaps the full camera set for a device.
func (m DeviceModel) ReplaceCameraAssociations(ctx context.Context, deviceID uuid.UUID, cameraIDs []uuid.UUID) error {
	if _, err := m.DB.ExecContext(ctx, `DELETE FROM camera_associations WHERE device_id = $1`, deviceID); err != nil {
		return err
	}
	for _, camID := range cameraIDs {
		if _, err := m.DB.ExecContext(ctx,
			`INSERT INTO camera_associations (device_id, camera_device_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			deviceID, camID,
		); err != nil {
			return err
		}
	}
	return nil
}

func (m DeviceModel) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (m DeviceModel) scanOne(row rowScanner) (*Device, error) {
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	var battery sql.NullInt64
	var lastSeen sql.NullTime
	var areaID uuid.NullUUID

	err := row.Scan(
		&d.ID, &d.ConnectorID, &d.OrganizationID, &d.ExternalID, &d.Name, &d.Type,
		&d.Subtype, &battery, &lastSeen, &areaID, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if battery.Valid {
		v := int(battery.Int64)
		d.BatteryPercentage = &v
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		d.LastSeen = &t
	}
	if areaID.Valid {
		id := areaID.UUID
		d.AreaID = &id
	}
	return &d, nil
}
