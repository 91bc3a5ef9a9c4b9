package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/model"
)

var schedulableCols = []string{
	"id", "organization_id", "location_id", "name", "armed_state",
	"override_arming_schedule_id", "last_armed_state_change_reason",
	"next_scheduled_arm_time", "next_scheduled_disarm_time",
	"is_arming_skipped_until", "created_at", "updated_at",
	"time_zone",
	"s_id", "s_organization_id", "s_name", "days_of_week",
	"arm_time_local", "disarm_time_local",
}

// An area carrying an override schedule but no location row must still
// come back schedulable, falling back to UTC.
func TestListSchedulable_AreaWithoutLocation(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	areaID := uuid.New()
	orgID := uuid.New()
	schedID := uuid.New()
	now := time.Now().UTC()

	rows := sqlmock.NewRows(schedulableCols).AddRow(
		areaID, orgID, nil, "Vault", string(model.Disarmed),
		schedID, nil, nil, nil, nil, now, now,
		"UTC",
		schedID, orgID, "Nights", []byte("{1,2,3,4,5}"), "23:30", "07:00",
	)
	mock.ExpectQuery("LEFT JOIN locations").WillReturnRows(rows)

	m := data.AreaModel{DB: db}
	out, err := m.ListSchedulable(context.Background())
	if err != nil {
		t.Fatalf("ListSchedulable failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d areas, want 1", len(out))
	}
	sa := out[0]
	if sa.Area.ID != areaID {
		t.Errorf("area id = %s, want %s", sa.Area.ID, areaID)
	}
	if sa.Area.LocationID != nil {
		t.Errorf("location id = %v, want nil", sa.Area.LocationID)
	}
	if sa.TimeZone != "UTC" {
		t.Errorf("time zone = %q, want UTC fallback", sa.TimeZone)
	}
	if sa.Schedule.ID != schedID || sa.Schedule.ArmTimeLocal != "23:30" {
		t.Errorf("schedule = %+v", sa.Schedule)
	}
	if len(sa.Schedule.DaysOfWeek) != 5 {
		t.Errorf("days = %v", sa.Schedule.DaysOfWeek)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
