package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/pulsegrid/fusion/internal/model"
)

type Area struct {
	ID                       uuid.UUID              `json:"id"`
	OrganizationID           uuid.UUID              `json:"organization_id"`
	LocationID               *uuid.UUID             `json:"location_id,omitempty"`
	Name                     string                 `json:"name"`
	ArmedState               model.ArmedState       `json:"armed_state"`
	OverrideArmingScheduleID *uuid.UUID             `json:"override_arming_schedule_id,omitempty"`
	LastChangeReason         model.ArmedStateReason `json:"last_armed_state_change_reason,omitempty"`
	NextScheduledArmTime     *time.Time             `json:"next_scheduled_arm_time,omitempty"`
	NextScheduledDisarmTime  *time.Time             `json:"next_scheduled_disarm_time,omitempty"`
	IsArmingSkippedUntil     *time.Time             `json:"is_arming_skipped_until,omitempty"`
	CreatedAt                time.Time              `json:"created_at"`
	UpdatedAt                time.Time              `json:"updated_at"`
}

// ArmingMeta carries the scheduling fields written alongside a state
// change. Zero value clears them, which is the default on any transition.
type ArmingMeta struct {
	NextArm    *time.Time
	NextDisarm *time.Time
	SkipUntil  *time.Time
}

type AreaModel struct {
	DB DBTX
}

const areaColumns = `
	id, organization_id, location_id, name, armed_state, override_arming_schedule_id,
	last_armed_state_change_reason, next_scheduled_arm_time, next_scheduled_disarm_time,
	is_arming_skipped_until, created_at, updated_at`

func (m AreaModel) Create(ctx context.Context, a *Area) error {
	if a.ArmedState == "" {
		a.ArmedState = model.Disarmed
	}
	query := `
		INSERT INTO areas (organization_id, location_id, name, armed_state, override_arming_schedule_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return m.DB.QueryRowContext(ctx, query,
		a.OrganizationID, a.LocationID, a.Name, a.ArmedState, a.OverrideArmingScheduleID,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (m AreaModel) GetByID(ctx context.Context, id uuid.UUID) (*Area, error) {
	query := `SELECT` + areaColumns + ` FROM areas WHERE id = $1`
	a, err := scanArea(m.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (m AreaModel) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]Area, error) {
	query := `SELECT` + areaColumns + ` FROM areas WHERE organization_id = $1 ORDER BY name, id`
	return m.list(ctx, query, orgID)
}

func (m AreaModel) ListByLocation(ctx context.Context, orgID, locationID uuid.UUID) ([]Area, error) {
	query := `SELECT` + areaColumns + `
		FROM areas
		WHERE organization_id = $1 AND location_id = $2
		ORDER BY name, id`
	return m.list(ctx, query, orgID, locationID)
}

func (m AreaModel) list(ctx context.Context, query string, args ...any) ([]Area, error) {
	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Area
	for rows.Next() {
		a, err := scanArea(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// SetArmedState transitions the area and records why. The scheduling
// fields are overwritten with meta: a transition clears them unless the
// caller supplies replacements.
func (m AreaModel) SetArmedState(ctx context.Context, id uuid.UUID, state model.ArmedState, reason model.ArmedStateReason, meta ArmingMeta) error {
	query := `
		UPDATE areas
		SET armed_state = $1,
		    last_armed_state_change_reason = $2,
		    next_scheduled_arm_time = $3,
		    next_scheduled_disarm_time = $4,
		    is_arming_skipped_until = $5,
		    updated_at = NOW()
		WHERE id = $6`

	res, err := m.DB.ExecContext(ctx, query, state, reason, meta.NextArm, meta.NextDisarm, meta.SkipUntil, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// SetScheduleTimes refreshes the next-instant markers without touching
// the armed state. Daemon bookkeeping path.
func (m AreaModel) SetScheduleTimes(ctx context.Context, id uuid.UUID, nextArm, nextDisarm *time.Time) error {
	query := `
		UPDATE areas
		SET next_scheduled_arm_time = $1, next_scheduled_disarm_time = $2, updated_at = NOW()
		WHERE id = $3`

	_, err := m.DB.ExecContext(ctx, query, nextArm, nextDisarm, id)
	return err
}

func (m AreaModel) SetSkipUntil(ctx context.Context, id uuid.UUID, until *time.Time) error {
	query := `
		UPDATE areas
		SET is_arming_skipped_until = $1, updated_at = NOW()
		WHERE id = $2`

	res, err := m.DB.ExecContext(ctx, query, until, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m AreaModel) SetOverrideSchedule(ctx context.Context, id uuid.UUID, scheduleID *uuid.UUID) error {
	query := `
		UPDATE areas
		SET override_arming_schedule_id = $1, updated_at = NOW()
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

func (m AreaModel) Update(ctx context.Context, a *Area) error {
	query := `
		UPDATE areas
		SET name = $1, location_id = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at`

	err := m.DB.QueryRowContext(ctx, query, a.Name, a.LocationID, a.ID).Scan(&a.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return err
}

func (m AreaModel) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM areas WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// AreaForDevice resolves the area a device sits in, if any.
func (m AreaModel) AreaForDevice(ctx context.Context, deviceID uuid.UUID) (*Area, error) {
	query := `
		SELECT` + areaColumns + `
		FROM areas
		WHERE id = (SELECT area_id FROM area_devices WHERE device_id = $1)`

	a, err := scanArea(m.DB.QueryRowContext(ctx, query, deviceID))
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// SchedulableArea is the daemon's working row: an area joined with its
// effective schedule and the location zone the clock times live in.
type SchedulableArea struct {
	Area     Area
	TimeZone string
	Schedule ArmingSchedule
}

// ListSchedulable returns every area that currently resolves an effective
// schedule (override first, then the location default). Spans all orgs;
// only the arming daemon calls this. The locations join is LEFT so an
// area with an override schedule but no location still schedules, in
// UTC for want of a better zone.
func (m AreaModel) ListSchedulable(ctx context.Context) ([]SchedulableArea, error) {
	query := `
		SELECT a.id, a.organization_id, a.location_id, a.name, a.armed_state,
		       a.override_arming_schedule_id, a.last_armed_state_change_reason,
		       a.next_scheduled_arm_time, a.next_scheduled_disarm_time,
		       a.is_arming_skipped_until, a.created_at, a.updated_at,
		       COALESCE(l.time_zone, 'UTC'),
		       s.id, s.organization_id, s.name, s.days_of_week, s.arm_time_local, s.disarm_time_local
		FROM areas a
		LEFT JOIN locations l ON l.id = a.location_id
		JOIN arming_schedules s ON s.id = COALESCE(a.override_arming_schedule_id, l.active_arming_schedule_id)
		ORDER BY a.id`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SchedulableArea
	for rows.Next() {
		var sa SchedulableArea
		var locID, overrideID uuid.NullUUID
		var reason sql.NullString
		var nextArm, nextDisarm, skipUntil sql.NullTime
		var days pq.Int64Array

		err := rows.Scan(
			&sa.Area.ID, &sa.Area.OrganizationID, &locID, &sa.Area.Name, &sa.Area.ArmedState,
			&overrideID, &reason, &nextArm, &nextDisarm, &skipUntil,
			&sa.Area.CreatedAt, &sa.Area.UpdatedAt,
			&sa.TimeZone,
			&sa.Schedule.ID, &sa.Schedule.OrganizationID, &sa.Schedule.Name,
			&days, &sa.Schedule.ArmTimeLocal, &sa.Schedule.DisarmTimeLocal,
		)
		if err != nil {
			return nil, err
		}
		applyNullables(&sa.Area, locID, overrideID, reason, nextArm, nextDisarm, skipUntil)
		sa.Schedule.DaysOfWeek = daysToInt(days)
		out = append(out, sa)
	}
	return out, rows.Err()
}

func scanArea(row rowScanner) (*Area, error) {
	var a Area
	var locID, overrideID uuid.NullUUID
	var reason sql.NullString
	var nextArm, nextDisarm, skipUntil sql.NullTime

	err := row.Scan(
		&a.ID, &a.OrganizationID, &locID, &a.Name, &a.ArmedState, &overrideID,
		&reason, &nextArm, &nextDisarm, &skipUntil, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	applyNullables(&a, locID, overrideID, reason, nextArm, nextDisarm, skipUntil)
	return &a, nil
}

func applyNullables(a *Area, locID, overrideID uuid.NullUUID, reason sql.NullString, nextArm, nextDisarm, skipUntil sql.NullTime) {
	if locID.Valid {
		v := locID.UUID
		a.LocationID = &v
	}
	if overrideID.Valid {
		v := overrideID.UUID
		a.OverrideArmingScheduleID = &v
	}
	if reason.Valid {
		a.LastChangeReason = model.ArmedStateReason(reason.String)
	}
	if nextArm.Valid {
		t := nextArm.Time
		a.NextScheduledArmTime = &t
	}
	if nextDisarm.Valid {
		t := nextDisarm.Time
		a.NextScheduledDisarmTime = &t
	}
	if skipUntil.Valid {
		t := skipUntil.Time
		a.IsArmingSkippedUntil = &t
	}
}
