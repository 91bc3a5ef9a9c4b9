package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ArmingSchedule describes weekly arm/disarm wall-clock times. Times are
// local to the owning location's zone; days use 0=Sunday.
type ArmingSchedule struct {
	ID              uuid.UUID `json:"id"`
	OrganizationID  uuid.UUID `json:"organization_id"`
	Name            string    `json:"name"`
	DaysOfWeek      []int     `json:"days_of_week"`
	ArmTimeLocal    string    `json:"arm_time_local"`    // "HH:MM"
	DisarmTimeLocal string    `json:"disarm_time_local"` // "HH:MM"
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ArmingScheduleModel struct {
	DB DBTX
}

func (m ArmingScheduleModel) Create(ctx context.Context, s *ArmingSchedule) error {
	query := `
		INSERT INTO arming_schedules (organization_id, name, days_of_week, arm_time_local, disarm_time_local)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return m.DB.QueryRowContext(ctx, query,
		s.OrganizationID, s.Name, pq.Array(daysToInt64(s.DaysOfWeek)), s.ArmTimeLocal, s.DisarmTimeLocal,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func (m ArmingScheduleModel) GetByID(ctx context.Context, id uuid.UUID) (*ArmingSchedule, error) {
	query := `
		SELECT id, organization_id, name, days_of_week, arm_time_local, disarm_time_local, created_at, updated_at
		FROM arming_schedules
		WHERE id = $1`

	var s ArmingSchedule
	var days pq.Int64Array
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.OrganizationID, &s.Name, &days, &s.ArmTimeLocal, &s.DisarmTimeLocal,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	s.DaysOfWeek = daysToInt(days)
	return &s, nil
}

func (m ArmingScheduleModel) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]ArmingSchedule, error) {
	query := `
		SELECT id, organization_id, name, days_of_week, arm_time_local, disarm_time_local, created_at, updated_at
		FROM arming_schedules
		WHERE organization_id = $1
		ORDER BY name, id`

	rows, err := m.DB.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArmingSchedule
	for rows.Next() {
		var s ArmingSchedule
		var days pq.Int64Array
		if err := rows.Scan(
			&s.ID, &s.OrganizationID, &s.Name, &days, &s.ArmTimeLocal, &s.DisarmTimeLocal,
			&s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		s.DaysOfWeek = daysToInt(days)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (m ArmingScheduleModel) Update(ctx context.Context, s *ArmingSchedule) error {
	query := `
		UPDATE arming_schedules
		SET name = $1, days_of_week = $2, arm_time_local = $3, disarm_time_local = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`

	err := m.DB.QueryRowContext(ctx, query,
		s.Name, pq.Array(daysToInt64(s.DaysOfWeek)), s.ArmTimeLocal, s.DisarmTimeLocal, s.ID,
	).Scan(&s.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return err
}

// Delete removes a schedule. Areas and locations referencing it fall back
// to no schedule via ON DELETE SET NULL.
func (m ArmingScheduleModel) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM arming_schedules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func daysToInt64(days []int) []int64 {
	out := make([]int64, len(days))
	for i, d := range days {
		out[i] = int64(d)
	}
	return out
}

func daysToInt(days []int64) []int {
	out := make([]int, len(days))
	for i, d := range days {
		out[i] = int(d)
	}
	return out
}
