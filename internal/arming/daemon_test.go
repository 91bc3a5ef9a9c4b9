package arming_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pulsegrid/fusion/internal/arming"
	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/model"
)

// fakeLister resolves each area's effective schedule the way the store
// does: override first, then the location default.
type fakeLister struct {
	store      *fakeStore
	timeZone   string
	locDefault data.ArmingSchedule
	override   *data.ArmingSchedule
}

func (l *fakeLister) ListSchedulable(context.Context) ([]data.SchedulableArea, error) {
	var out []data.SchedulableArea
	for _, a := range l.store.areas {
		sched := l.locDefault
		if a.OverrideArmingScheduleID != nil && l.override != nil && *a.OverrideArmingScheduleID == l.override.ID {
			sched = *l.override
		}
		out = append(out, data.SchedulableArea{Area: *a, TimeZone: l.timeZone, Schedule: sched})
	}
	return out, nil
}

func newDaemon(store *fakeStore, lister *fakeLister) *arming.Daemon {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	svc := arming.NewService(func(uuid.UUID) arming.Store { return store }, logger)
	return arming.NewDaemon(svc, lister, time.Minute, logger)
}

func allDays() []int { return []int{0, 1, 2, 3, 4, 5, 6} }

// 2024-03-15T03:30Z is Thursday 23:30 in New York (EDT). The area's
// override schedule arms at 23:30 local; the location default would not
// arm until 21:00 the next evening, so an arm on this tick proves the
// override won.
func TestDaemon_OverrideScheduleArmsOnTick(t *testing.T) {
	overrideID := uuid.New()
	a := area(model.Disarmed)
	a.OverrideArmingScheduleID = &overrideID

	store := newFakeStore(a)
	lister := &fakeLister{
		store:      store,
		timeZone:   "America/New_York",
		locDefault: data.ArmingSchedule{ID: uuid.New(), DaysOfWeek: allDays(), ArmTimeLocal: "21:00", DisarmTimeLocal: "06:00"},
		override:   &data.ArmingSchedule{ID: overrideID, DaysOfWeek: allDays(), ArmTimeLocal: "23:30", DisarmTimeLocal: "07:00"},
	}
	d := newDaemon(store, lister)

	// First pass seeds the next-instant markers without arming.
	d.Tick(time.Date(2024, 3, 15, 3, 0, 0, 0, time.UTC))
	if len(store.stateWrites) != 0 {
		t.Fatalf("seeding tick wrote state: %+v", store.stateWrites)
	}
	if a.NextScheduledArmTime == nil {
		t.Fatal("seeding tick did not set the arm marker")
	}
	wantArm := time.Date(2024, 3, 15, 3, 30, 0, 0, time.UTC)
	if !a.NextScheduledArmTime.Equal(wantArm) {
		t.Fatalf("arm marker = %v, want %v (override schedule)", a.NextScheduledArmTime, wantArm)
	}

	d.Tick(time.Date(2024, 3, 15, 3, 30, 0, 0, time.UTC))
	if len(store.stateWrites) != 1 {
		t.Fatalf("stateWrites = %+v, want one arm", store.stateWrites)
	}
	w := store.stateWrites[0]
	if w.State != model.ArmedAway {
		t.Errorf("armed state = %s, want %s", w.State, model.ArmedAway)
	}
	if w.Reason != model.ReasonSchedule {
		t.Errorf("reason = %s, want %s", w.Reason, model.ReasonSchedule)
	}
	if a.ArmedState != model.ArmedAway {
		t.Errorf("area state = %s after tick", a.ArmedState)
	}
}

func TestDaemon_SkipUntilSuppressesOneArm(t *testing.T) {
	a := area(model.Disarmed)
	store := newFakeStore(a)
	lister := &fakeLister{
		store:      store,
		timeZone:   "America/New_York",
		locDefault: data.ArmingSchedule{ID: uuid.New(), DaysOfWeek: allDays(), ArmTimeLocal: "23:30", DisarmTimeLocal: "07:00"},
	}
	d := newDaemon(store, lister)

	d.Tick(time.Date(2024, 3, 15, 3, 0, 0, 0, time.UTC))

	skipUntil := time.Date(2024, 3, 15, 3, 31, 0, 0, time.UTC)
	a.IsArmingSkippedUntil = &skipUntil

	d.Tick(time.Date(2024, 3, 15, 3, 30, 0, 0, time.UTC))
	if a.ArmedState != model.Disarmed {
		t.Fatalf("skipped arm still armed the area: %s", a.ArmedState)
	}
	if a.IsArmingSkippedUntil != nil {
		t.Error("skip marker was not consumed")
	}
	if a.NextScheduledArmTime == nil || !a.NextScheduledArmTime.After(skipUntil) {
		t.Error("arm marker was not advanced past the skipped instant")
	}
}

func TestDaemon_TriggeredAreaIsLeftAlone(t *testing.T) {
	a := area(model.Triggered)
	store := newFakeStore(a)
	lister := &fakeLister{
		store:      store,
		timeZone:   "America/New_York",
		locDefault: data.ArmingSchedule{ID: uuid.New(), DaysOfWeek: allDays(), ArmTimeLocal: "23:30", DisarmTimeLocal: "07:00"},
	}
	d := newDaemon(store, lister)

	d.Tick(time.Date(2024, 3, 15, 3, 0, 0, 0, time.UTC))
	d.Tick(time.Date(2024, 3, 15, 3, 30, 0, 0, time.UTC))

	if len(store.stateWrites) != 0 {
		t.Fatalf("triggered area received state writes: %+v", store.stateWrites)
	}
	if a.ArmedState != model.Triggered {
		t.Errorf("area state = %s, want TRIGGERED untouched", a.ArmedState)
	}
}
