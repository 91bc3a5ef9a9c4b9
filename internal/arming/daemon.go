package arming

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/model"
)

// SchedulableLister feeds the daemon its working set.
// data.AreaModel satisfies it.
type SchedulableLister interface {
	ListSchedulable(ctx context.Context) ([]data.SchedulableArea, error)
}

// Daemon applies arming schedules on a minute cadence. Every area with
// an effective schedule gets its next-instant markers seeded, due
// transitions applied, and the markers recomputed.
type Daemon struct {
	svc      *Service
	areas    SchedulableLister
	interval time.Duration
	logger   *logrus.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewDaemon(svc *Service, areas SchedulableLister, interval time.Duration, logger *logrus.Logger) *Daemon {
	return &Daemon{
		svc:      svc,
		areas:    areas,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

func (d *Daemon) Start() {
	d.wg.Add(1)
	go d.loop()
}

func (d *Daemon) Stop() {
	close(d.stopChan)
	d.wg.Wait()
}

func (d *Daemon) loop() {
	defer d.wg.Done()

	// Align the first tick to the wall minute so schedule instants are
	// evaluated at most once each.
	select {
	case <-time.After(time.Until(time.Now().Truncate(time.Minute).Add(time.Minute))):
	case <-d.stopChan:
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.Tick(time.Now())
	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.Tick(time.Now())
		}
	}
}

// Tick processes one pass over the schedulable areas. Exported so tests
// can drive the daemon without a clock.
func (d *Daemon) Tick(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	areas, err := d.areas.ListSchedulable(ctx)
	if err != nil {
		d.logger.WithError(err).Error("listing schedulable areas failed")
		return
	}

	for i := range areas {
		if err := d.processArea(ctx, &areas[i], now); err != nil {
			d.logger.WithError(err).WithField("area_id", areas[i].Area.ID).
				Error("schedule processing failed")
		}
	}
}

func (d *Daemon) processArea(ctx context.Context, sa *data.SchedulableArea, now time.Time) error {
	area := &sa.Area
	gw := d.svc.gatewayFor(area.OrganizationID)
	log := d.logger.WithField("area_id", area.ID)

	nextArm, nextDisarm, err := NextInstants(&sa.Schedule, sa.TimeZone, now)
	if err != nil {
		return err
	}

	// First sight of this schedule: seed the markers, apply nothing.
	if area.NextScheduledArmTime == nil && area.NextScheduledDisarmTime == nil {
		return gw.SetAreaScheduleTimes(ctx, area.ID, &nextArm, &nextDisarm)
	}

	armDue := area.NextScheduledArmTime != nil && !now.Before(*area.NextScheduledArmTime)
	disarmDue := area.NextScheduledDisarmTime != nil && !now.Before(*area.NextScheduledDisarmTime)

	// Both due means the daemon was down across a boundary; the later
	// instant is the current intent.
	if armDue && disarmDue {
		if area.NextScheduledArmTime.After(*area.NextScheduledDisarmTime) {
			disarmDue = false
		} else {
			armDue = false
		}
	}

	switch {
	case armDue:
		if area.IsArmingSkippedUntil != nil && area.IsArmingSkippedUntil.After(now) {
			log.Info("scheduled arm skipped by operator request")
			// Consume the skip and move the marker forward.
			return gw.SetAreaState(ctx, area.ID, area.ArmedState, area.LastChangeReason,
				data.ArmingMeta{NextArm: &nextArm, NextDisarm: &nextDisarm})
		}
		if area.ArmedState == model.Triggered {
			log.Warn("scheduled arm skipped: area is triggered")
			return gw.SetAreaScheduleTimes(ctx, area.ID, &nextArm, &nextDisarm)
		}
		if area.ArmedState.Armed() {
			// Already armed, just advance the markers.
			return gw.SetAreaScheduleTimes(ctx, area.ID, &nextArm, &nextDisarm)
		}
		return d.svc.SetState(ctx, area.OrganizationID, area.ID, model.ArmedAway,
			model.ReasonSchedule, data.ArmingMeta{NextArm: &nextArm, NextDisarm: &nextDisarm})

	case disarmDue:
		if area.ArmedState == model.Triggered {
			log.Warn("scheduled disarm skipped: area is triggered")
			return gw.SetAreaScheduleTimes(ctx, area.ID, &nextArm, &nextDisarm)
		}
		if area.ArmedState == model.Disarmed {
			return gw.SetAreaScheduleTimes(ctx, area.ID, &nextArm, &nextDisarm)
		}
		return d.svc.SetState(ctx, area.OrganizationID, area.ID, model.Disarmed,
			model.ReasonSchedule, data.ArmingMeta{NextArm: &nextArm, NextDisarm: &nextDisarm})

	default:
		// Nothing due; refresh markers if the schedule moved under us.
		if !timesEqual(area.NextScheduledArmTime, nextArm) || !timesEqual(area.NextScheduledDisarmTime, nextDisarm) {
			return gw.SetAreaScheduleTimes(ctx, area.ID, &nextArm, &nextDisarm)
		}
		return nil
	}
}

func timesEqual(a *time.Time, b time.Time) bool {
	return a != nil && a.Equal(b)
}
