package automation

import (
	"testing"
	"time"

	"github.com/pulsegrid/fusion/internal/model"
)

func TestLastOccurrence_SameDay(t *testing.T) {
	sched := &model.TriggerSchedule{
		DaysOfWeek: []int{1, 2, 3, 4, 5}, // weekdays
		TimeLocal:  "09:00",
		TimeZone:   "America/New_York",
	}
	loc, _ := time.LoadLocation("America/New_York")
	// Wednesday 2026-08-26 10:30 local
	now := time.Date(2026, 8, 26, 10, 30, 0, 0, loc)

	got, ok := lastOccurrence(sched, now)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	want := time.Date(2026, 8, 26, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("occurrence = %v, want %v", got, want)
	}
}

func TestLastOccurrence_BeforeTodaysTime(t *testing.T) {
	sched := &model.TriggerSchedule{
		DaysOfWeek: []int{0, 1, 2, 3, 4, 5, 6},
		TimeLocal:  "22:00",
		TimeZone:   "UTC",
	}
	now := time.Date(2026, 8, 26, 8, 0, 0, 0, time.UTC)

	got, ok := lastOccurrence(sched, now)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	want := time.Date(2026, 8, 25, 22, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("should fall back to yesterday: got %v, want %v", got, want)
	}
}

func TestLastOccurrence_SkipsUnlistedDays(t *testing.T) {
	sched := &model.TriggerSchedule{
		DaysOfWeek: []int{1}, // Mondays only
		TimeLocal:  "08:00",
		TimeZone:   "UTC",
	}
	// Wednesday
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	got, ok := lastOccurrence(sched, now)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	want := time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC) // Monday
	if !got.Equal(want) {
		t.Errorf("occurrence = %v, want %v", got, want)
	}
}

func TestLastOccurrence_DSTSpringForward(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	sched := &model.TriggerSchedule{
		DaysOfWeek: []int{0, 1, 2, 3, 4, 5, 6},
		TimeLocal:  "08:00",
		TimeZone:   "America/New_York",
	}
	// The day after the 2026 spring-forward (March 8). Wall time 08:00
	// must still resolve to 08:00 local despite the offset change.
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, loc)

	got, ok := lastOccurrence(sched, now)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if got.In(loc).Hour() != 8 {
		t.Errorf("wall-clock hour drifted across DST: %v", got.In(loc))
	}
}

func TestLastOccurrence_BadZone(t *testing.T) {
	sched := &model.TriggerSchedule{DaysOfWeek: []int{1}, TimeLocal: "08:00", TimeZone: "Not/AZone"}
	if _, ok := lastOccurrence(sched, time.Now()); ok {
		t.Error("unknown zone must report no occurrence")
	}
}
