package arming

import (
	"testing"
	"time"

	"github.com/pulsegrid/fusion/internal/data"
)

func weekdaySchedule(arm, disarm string) *data.ArmingSchedule {
	return &data.ArmingSchedule{
		DaysOfWeek:      []int{0, 1, 2, 3, 4, 5, 6},
		ArmTimeLocal:    arm,
		DisarmTimeLocal: disarm,
	}
}

func TestNextInstants_SameDay(t *testing.T) {
	sched := weekdaySchedule("22:00", "07:00")
	// Wednesday 2026-08-26 12:00 UTC
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	arm, disarm, err := NextInstants(sched, "UTC", now)
	if err != nil {
		t.Fatalf("NextInstants failed: %v", err)
	}
	if want := time.Date(2026, 8, 26, 22, 0, 0, 0, time.UTC); !arm.Equal(want) {
		t.Errorf("arm = %v, want %v", arm, want)
	}
	// 07:00 already passed; disarm rolls to tomorrow.
	if want := time.Date(2026, 8, 27, 7, 0, 0, 0, time.UTC); !disarm.Equal(want) {
		t.Errorf("disarm = %v, want %v", disarm, want)
	}
}

func TestNextInstants_StrictlyAfterNow(t *testing.T) {
	sched := weekdaySchedule("12:00", "13:00")
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	arm, _, err := NextInstants(sched, "UTC", now)
	if err != nil {
		t.Fatalf("NextInstants failed: %v", err)
	}
	if !arm.After(now) {
		t.Errorf("an instant exactly at now must roll forward, got %v", arm)
	}
}

func TestNextInstants_RestrictedDays(t *testing.T) {
	sched := &data.ArmingSchedule{
		DaysOfWeek:      []int{1, 5}, // Monday, Friday
		ArmTimeLocal:    "08:00",
		DisarmTimeLocal: "18:00",
	}
	// Wednesday
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	arm, _, err := NextInstants(sched, "UTC", now)
	if err != nil {
		t.Fatalf("NextInstants failed: %v", err)
	}
	if want := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC); !arm.Equal(want) { // Friday
		t.Errorf("arm = %v, want %v", arm, want)
	}
}

func TestNextInstants_DSTSpringForward(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	sched := weekdaySchedule("09:00", "17:00")
	// Saturday 2026-03-07 20:00 local, the night before spring-forward.
	now := time.Date(2026, 3, 7, 20, 0, 0, 0, loc)

	arm, _, err := NextInstants(sched, "America/New_York", now)
	if err != nil {
		t.Fatalf("NextInstants failed: %v", err)
	}
	// Sunday 09:00 local is EDT, i.e. 13:00 UTC instead of 14:00.
	if arm.In(loc).Hour() != 9 {
		t.Errorf("wall-clock hour drifted across DST: %v", arm.In(loc))
	}
	if want := time.Date(2026, 3, 8, 13, 0, 0, 0, time.UTC); !arm.Equal(want) {
		t.Errorf("arm = %v (UTC), want %v", arm, want)
	}
}

func TestNextInstants_BadZone(t *testing.T) {
	if _, _, err := NextInstants(weekdaySchedule("08:00", "18:00"), "Not/AZone", time.Now()); err == nil {
		t.Error("unknown zone must error")
	}
}

func TestNextInstants_EmptyDays(t *testing.T) {
	sched := &data.ArmingSchedule{ArmTimeLocal: "08:00", DisarmTimeLocal: "18:00"}
	if _, _, err := NextInstants(sched, "UTC", time.Now()); err == nil {
		t.Error("empty day list must error")
	}
}
