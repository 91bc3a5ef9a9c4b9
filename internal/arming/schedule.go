package arming

import (
	"fmt"
	"time"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/model"
)

// NextInstants resolves the schedule's next arm and disarm instants after
// now, in UTC. Wall times are constructed in the location's zone, so DST
// transitions shift the instant rather than the local clock time.
func NextInstants(s *data.ArmingSchedule, tzName string, now time.Time) (nextArm, nextDisarm time.Time, err error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("location zone %q: %w", tzName, err)
	}

	nextArm, err = nextOccurrence(s.DaysOfWeek, s.ArmTimeLocal, loc, now)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("arm time: %w", err)
	}
	nextDisarm, err = nextOccurrence(s.DaysOfWeek, s.DisarmTimeLocal, loc, now)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("disarm time: %w", err)
	}
	return nextArm.UTC(), nextDisarm.UTC(), nil
}

// nextOccurrence finds the first instant strictly after now whose local
// wall clock and weekday match.
func nextOccurrence(daysOfWeek []int, clock string, loc *time.Location, now time.Time) (time.Time, error) {
	hour, minute, err := model.ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	if len(daysOfWeek) == 0 {
		return time.Time{}, fmt.Errorf("schedule has no days")
	}

	days := make(map[time.Weekday]struct{}, len(daysOfWeek))
	for _, d := range daysOfWeek {
		days[time.Weekday(d)] = struct{}{}
	}

	local := now.In(loc)
	for ahead := 0; ahead < 8; ahead++ {
		day := local.AddDate(0, 0, ahead)
		if _, ok := days[day.Weekday()]; !ok {
			continue
		}
		candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
		if candidate.After(now) {
			return candidate, nil
		}
	}
	return time.Time{}, fmt.Errorf("no occurrence within a week")
}
