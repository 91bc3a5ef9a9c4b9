package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Location is a physical site. Its time zone anchors every scheduled
// arming computation for the areas inside it.
type Location struct {
	ID                     uuid.UUID  `json:"id"`
	OrganizationID         uuid.UUID  `json:"organization_id"`
	Name                   string     `json:"name"`
	TimeZone               string     `json:"time_zone"`
	ActiveArmingScheduleID *uuid.UUID `json:"active_arming_schedule_id,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

type LocationModel struct {
	DB DBTX
}

func (m LocationModel) Create(ctx context.Context, l *Location) error {
	query := `
		INSERT INTO locations (organization_id, name, time_zone, active_arming_schedule_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	return m.DB.QueryRowContext(ctx, query,
		l.OrganizationID, l.Name, l.TimeZone, l.ActiveArmingScheduleID,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
}

func (m LocationModel) GetByID(ctx context.Context, id uuid.UUID) (*Location, error) {
	query := `
		SELECT id, organization_id, name, time_zone, active_arming_schedule_id, created_at, updated_at
		FROM locations
		WHERE id = $1`

	var l Location
	var schedID uuid.NullUUID
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&l.ID, &l.OrganizationID, &l.Name, &l.TimeZone, &schedID, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if schedID.Valid {
		v := schedID.UUID
		l.ActiveArmingScheduleID = &v
	}
	return &l, nil
}

func (m LocationModel) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]Location, error) {
	query := `
		SELECT id, organization_id, name, time_zone, active_arming_schedule_id, created_at, updated_at
		FROM locations
		WHERE organization_id = $1
		ORDER BY name, id`

	rows, err := m.DB.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		var l Location
		var schedID uuid.NullUUID
		if err := rows.Scan(
			&l.ID, &l.OrganizationID, &l.Name, &l.TimeZone, &schedID, &l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if schedID.Valid {
			v := schedID.UUID
			l.ActiveArmingScheduleID = &v
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (m LocationModel) Update(ctx context.Context, l *Location) error {
	query := `
		UPDATE locations
		SET name = $1, time_zone = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at`

	err := m.DB.QueryRowContext(ctx, query, l.Name, l.TimeZone, l.ID).Scan(&l.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return err
}

// SetDefaultSchedule sets or clears the location-wide arming schedule.
func (m LocationModel) SetDefaultSchedule(ctx context.Context, id uuid.UUID, scheduleID *uuid.UUID) error {
	query := `
		UPDATE locations
		SET active_arming_schedule_id = $1, updated_at = NOW()
		WHERE id = $2`

	res, err := m.DB.ExecContext(ctx, query, scheduleID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m LocationModel) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM locations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}
