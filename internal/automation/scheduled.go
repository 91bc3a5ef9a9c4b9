package automation

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/model"
)

// ScheduledSource lists scheduled automations across all orgs.
// data.AutomationModel satisfies it.
type ScheduledSource interface {
	ListScheduledEnabled(ctx context.Context) ([]data.Automation, error)
}

// TickScheduled fires every scheduled automation whose most recent
// occurrence is due: newer than its last firing, not in the future, and
// inside the grace window. The firing is claimed through a conditional
// update first so a replayed tick cannot double-run the actions.
func (e *Engine) TickScheduled(ctx context.Context, autos []data.Automation, now time.Time) {
	for i := range autos {
		auto := autos[i]
		sched := auto.Config.Trigger.Schedule
		if auto.Config.Trigger.Kind != model.TriggerScheduled || sched == nil {
			continue
		}

		occurrence, ok := lastOccurrence(sched, now)
		if !ok {
			e.logger.WithField("automation_id", auto.ID).
				Warn("scheduled automation has an unusable schedule")
			continue
		}
		if auto.LastFiredAt != nil && !occurrence.After(*auto.LastFiredAt) {
			continue
		}
		if now.Sub(occurrence) > e.cfg.ScheduleGrace {
			// Missed by more than the grace window; the occurrence is
			// stale, let the next one fire normally.
			continue
		}

		claimed, err := e.gatewayFor(auto.OrganizationID).MarkAutomationFired(ctx, auto.ID, occurrence)
		if err != nil {
			e.logger.WithError(err).WithField("automation_id", auto.ID).
				Error("claiming scheduled firing failed")
			continue
		}
		if !claimed {
			continue
		}

		facts := make(Facts)
		facts.addSchedule(occurrence)
		e.launch(&auto, facts, nil)
	}
}

// lastOccurrence finds the most recent instant at or before now that the
// schedule names, searching back one week. DST shifts are absorbed by
// constructing the wall time in the schedule's own zone.
func lastOccurrence(s *model.TriggerSchedule, now time.Time) (time.Time, bool) {
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return time.Time{}, false
	}
	hour, minute, err := model.ParseClock(s.TimeLocal)
	if err != nil {
		return time.Time{}, false
	}

	days := make(map[time.Weekday]struct{}, len(s.DaysOfWeek))
	for _, d := range s.DaysOfWeek {
		days[time.Weekday(d)] = struct{}{}
	}

	local := now.In(loc)
	for back := 0; back < 8; back++ {
		day := local.AddDate(0, 0, -back)
		if _, ok := days[day.Weekday()]; !ok {
			continue
		}
		candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
		if candidate.After(now) {
			continue
		}
		return candidate, true
	}
	return time.Time{}, false
}

// ScheduleDaemon drives TickScheduled on a wall-clock minute cadence.
type ScheduleDaemon struct {
	engine   *Engine
	autos    ScheduledSource
	interval time.Duration
	logger   *logrus.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewScheduleDaemon(engine *Engine, autos ScheduledSource, interval time.Duration, logger *logrus.Logger) *ScheduleDaemon {
	return &ScheduleDaemon{
		engine:   engine,
		autos:    autos,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

func (d *ScheduleDaemon) Start() {
	d.wg.Add(1)
	go d.loop()
}

func (d *ScheduleDaemon) Stop() {
	close(d.stopChan)
	d.wg.Wait()
}

func (d *ScheduleDaemon) loop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *ScheduleDaemon) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	autos, err := d.autos.ListScheduledEnabled(ctx)
	if err != nil {
		d.logger.WithError(err).Error("listing scheduled automations failed")
		return
	}
	d.engine.TickScheduled(ctx, autos, time.Now())
}
