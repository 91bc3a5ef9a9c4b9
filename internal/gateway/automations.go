package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/model"
)

// ---- automations ----

func (g *Gateway) Automation(ctx context.Context, id uuid.UUID) (*data.Automation, error) {
	a, err := g.automations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := g.checkOrg(a.OrganizationID, "automation", id); err != nil {
		return nil, err
	}
	return a, nil
}

func (g *Gateway) Automations(ctx context.Context) ([]data.Automation, error) {
	return g.automations.ListByOrg(ctx, g.OrgID)
}

func (g *Gateway) EnabledAutomations(ctx context.Context) ([]data.Automation, error) {
	return g.automations.ListEnabledByOrg(ctx, g.OrgID)
}

func (g *Gateway) CreateAutomation(ctx context.Context, a *data.Automation) error {
	a.OrganizationID = g.OrgID
	if a.LocationScopeID != nil {
		if _, err := g.Location(ctx, *a.LocationScopeID); err != nil {
			return err
		}
	}
	return g.automations.Create(ctx, a)
}

func (g *Gateway) UpdateAutomation(ctx context.Context, a *data.Automation) error {
	if _, err := g.Automation(ctx, a.ID); err != nil {
		return err
	}
	if a.LocationScopeID != nil {
		if _, err := g.Location(ctx, *a.LocationScopeID); err != nil {
			return err
		}
	}
	return g.automations.Update(ctx, a)
}

func (g *Gateway) MarkAutomationFired(ctx context.Context, id uuid.UUID, firedAt time.Time) (bool, error) {
	if _, err := g.Automation(ctx, id); err != nil {
		return false, err
	}
	return g.automations.MarkFired(ctx, id, firedAt)
}

func (g *Gateway) DeleteAutomation(ctx context.Context, id uuid.UUID) error {
	if _, err := g.Automation(ctx, id); err != nil {
		return err
	}
	return g.automations.Delete(ctx, id)
}

// ---- executions ----

func (g *Gateway) CreateExecution(ctx context.Context, e *data.AutomationExecution) error {
	e.OrganizationID = g.OrgID
	return g.executions.Create(ctx, e)
}

func (g *Gateway) FinalizeExecution(ctx context.Context, id uuid.UUID, status model.ExecutionStatus, successful, failed int, durationMs int64) error {
	return g.executions.Finalize(ctx, id, status, successful, failed, durationMs)
}

func (g *Gateway) CreateActionExecution(ctx context.Context, a *data.ActionExecution) error {
	return g.executions.CreateAction(ctx, a)
}

func (g *Gateway) FinishActionExecution(ctx context.Context, id uuid.UUID, status model.ActionStatus, errMsg string, durationMs int64) error {
	return g.executions.FinishAction(ctx, id, status, errMsg, durationMs)
}

func (g *Gateway) Execution(ctx context.Context, id uuid.UUID) (*data.AutomationExecution, error) {
	return g.executions.GetByID(ctx, g.OrgID, id)
}

func (g *Gateway) ExecutionsByAutomation(ctx context.Context, automationID uuid.UUID, limit int) ([]data.AutomationExecution, error) {
	if _, err := g.Automation(ctx, automationID); err != nil {
		return nil, err
	}
	return g.executions.ListByAutomation(ctx, g.OrgID, automationID, limit)
}

func (g *Gateway) ExecutionActions(ctx context.Context, executionID uuid.UUID) ([]data.ActionExecution, error) {
	if _, err := g.Execution(ctx, executionID); err != nil {
		return nil, err
	}
	return g.executions.ListActions(ctx, executionID)
}

// ---- events ----

func (g *Gateway) InsertEvent(ctx context.Context, e *data.Event) (bool, error) {
	e.OrganizationID = g.OrgID
	return g.events.Insert(ctx, e)
}

func (g *Gateway) Event(ctx context.Context, eventID uuid.UUID) (*data.Event, error) {
	return g.events.GetByID(ctx, g.OrgID, eventID)
}

func (g *Gateway) Events(ctx context.Context, f data.EventFilter) ([]data.Event, error) {
	return g.events.List(ctx, g.OrgID, f)
}
