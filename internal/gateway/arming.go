package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/model"
)

// ---- areas ----

func (g *Gateway) Area(ctx context.Context, id uuid.UUID) (*data.Area, error) {
	a, err := g.areas.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := g.checkOrg(a.OrganizationID, "area", id); err != nil {
		return nil, err
	}
	return a, nil
}

func (g *Gateway) Areas(ctx context.Context) ([]data.Area, error) {
	return g.areas.ListByOrg(ctx, g.OrgID)
}

func (g *Gateway) AreasByLocation(ctx context.Context, locationID uuid.UUID) ([]data.Area, error) {
	if _, err := g.Location(ctx, locationID); err != nil {
		return nil, err
	}
	return g.areas.ListByLocation(ctx, g.OrgID, locationID)
}

func (g *Gateway) CreateArea(ctx context.Context, a *data.Area) error {
	a.OrganizationID = g.OrgID
	if a.LocationID != nil {
		if _, err := g.Location(ctx, *a.LocationID); err != nil {
			return err
		}
	}
	return g.areas.Create(ctx, a)
}

func (g *Gateway) UpdateArea(ctx context.Context, a *data.Area) error {
	if _, err := g.Area(ctx, a.ID); err != nil {
		return err
	}
	if a.LocationID != nil {
		if _, err := g.Location(ctx, *a.LocationID); err != nil {
			return err
		}
	}
	return g.areas.Update(ctx, a)
}

func (g *Gateway) SetAreaState(ctx context.Context, id uuid.UUID, state model.ArmedState, reason model.ArmedStateReason, meta data.ArmingMeta) error {
	if _, err := g.Area(ctx, id); err != nil {
		return err
	}
	return g.areas.SetArmedState(ctx, id, state, reason, meta)
}

func (g *Gateway) SetAreaScheduleTimes(ctx context.Context, id uuid.UUID, nextArm, nextDisarm *time.Time) error {
	if _, err := g.Area(ctx, id); err != nil {
		return err
	}
	return g.areas.SetScheduleTimes(ctx, id, nextArm, nextDisarm)
}

func (g *Gateway) SetAreaSkipUntil(ctx context.Context, id uuid.UUID, until *time.Time) error {
	if _, err := g.Area(ctx, id); err != nil {
		return err
	}
	return g.areas.SetSkipUntil(ctx, id, until)
}

func (g *Gateway) SetAreaOverrideSchedule(ctx context.Context, id uuid.UUID, scheduleID *uuid.UUID) error {
	if _, err := g.Area(ctx, id); err != nil {
		return err
	}
	if scheduleID != nil {
		if _, err := g.Schedule(ctx, *scheduleID); err != nil {
			return err
		}
	}
	return g.areas.SetOverrideSchedule(ctx, id, scheduleID)
}

func (g *Gateway) DeleteArea(ctx context.Context, id uuid.UUID) error {
	if _, err := g.Area(ctx, id); err != nil {
		return err
	}
	return g.areas.Delete(ctx, id)
}

// AreaForDevice resolves the area containing a device, for automation
// fact building. Not found is normal (unassigned device).
func (g *Gateway) AreaForDevice(ctx context.Context, deviceID uuid.UUID) (*data.Area, error) {
	a, err := g.areas.AreaForDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if err := g.checkOrg(a.OrganizationID, "area", a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

// ---- locations ----

func (g *Gateway) Location(ctx context.Context, id uuid.UUID) (*data.Location, error) {
	l, err := g.locations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := g.checkOrg(l.OrganizationID, "location", id); err != nil {
		return nil, err
	}
	return l, nil
}

func (g *Gateway) Locations(ctx context.Context) ([]data.Location, error) {
	return g.locations.ListByOrg(ctx, g.OrgID)
}

func (g *Gateway) CreateLocation(ctx context.Context, l *data.Location) error {
	l.OrganizationID = g.OrgID
	return g.locations.Create(ctx, l)
}

func (g *Gateway) UpdateLocation(ctx context.Context, l *data.Location) error {
	if _, err := g.Location(ctx, l.ID); err != nil {
		return err
	}
	return g.locations.Update(ctx, l)
}

func (g *Gateway) SetLocationDefaultSchedule(ctx context.Context, id uuid.UUID, scheduleID *uuid.UUID) error {
	if _, err := g.Location(ctx, id); err != nil {
		return err
	}
	if scheduleID != nil {
		if _, err := g.Schedule(ctx, *scheduleID); err != nil {
			return err
		}
	}
	return g.locations.SetDefaultSchedule(ctx, id, scheduleID)
}

func (g *Gateway) DeleteLocation(ctx context.Context, id uuid.UUID) error {
	if _, err := g.Location(ctx, id); err != nil {
		return err
	}
	return g.locations.Delete(ctx, id)
}

// ---- arming schedules ----

func (g *Gateway) Schedule(ctx context.Context, id uuid.UUID) (*data.ArmingSchedule, error) {
	s, err := g.schedules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := g.checkOrg(s.OrganizationID, "arming schedule", id); err != nil {
		return nil, err
	}
	return s, nil
}

func (g *Gateway) Schedules(ctx context.Context) ([]data.ArmingSchedule, error) {
	return g.schedules.ListByOrg(ctx, g.OrgID)
}

func (g *Gateway) CreateSchedule(ctx context.Context, s *data.ArmingSchedule) error {
	s.OrganizationID = g.OrgID
	return g.schedules.Create(ctx, s)
}

func (g *Gateway) UpdateSchedule(ctx context.Context, s *data.ArmingSchedule) error {
	if _, err := g.Schedule(ctx, s.ID); err != nil {
		return err
	}
	return g.schedules.Update(ctx, s)
}

func (g *Gateway) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	if _, err := g.Schedule(ctx, id); err != nil {
		return err
	}
	return g.schedules.Delete(ctx, id)
}
