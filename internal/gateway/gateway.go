package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/model"
)

// ErrCrossTenant marks an attempt to touch another org's row. It is an
// internal invariant breach, never a user-facing 403/404: callers above
// the gateway are supposed to be org-pinned already.
var ErrCrossTenant = errors.New("cross-tenant access denied")

// Factory builds org-pinned gateways over one shared pool.
type Factory struct {
	DB data.DBTX
}

func (f *Factory) For(orgID uuid.UUID) *Gateway {
	return &Gateway{
		OrgID:         orgID,
		organizations: data.OrganizationModel{DB: f.DB},
		connectors:    data.ConnectorModel{DB: f.DB},
		devices:       data.DeviceModel{DB: f.DB},
		locations:     data.LocationModel{DB: f.DB},
		areas:         data.AreaModel{DB: f.DB},
		schedules:     data.ArmingScheduleModel{DB: f.DB},
		events:        data.EventModel{DB: f.DB},
		automations:   data.AutomationModel{DB: f.DB},
		executions:    data.ExecutionModel{DB: f.DB},
		audit:         data.AuditModel{DB: f.DB},
	}
}

// Gateway is the only data path for tenant-scoped callers. Every read
// verifies the row belongs to the pinned org; every write stamps it.
type Gateway struct {
	OrgID uuid.UUID

	organizations data.OrganizationModel
	connectors    data.ConnectorModel
	devices       data.DeviceModel
	locations     data.LocationModel
	areas         data.AreaModel
	schedules     data.ArmingScheduleModel
	events        data.EventModel
	automations   data.AutomationModel
	executions    data.ExecutionModel
	audit         data.AuditModel
}

func (g *Gateway) checkOrg(rowOrg uuid.UUID, entity string, id uuid.UUID) error {
	if rowOrg != g.OrgID {
		return fmt.Errorf("%w: %s %s belongs to org %s, gateway pinned to %s",
			ErrCrossTenant, entity, id, rowOrg, g.OrgID)
	}
	return nil
}

// Organization returns the pinned org row (push settings live there).
func (g *Gateway) Organization(ctx context.Context) (*data.Organization, error) {
	return g.organizations.GetByID(ctx, g.OrgID)
}

func (g *Gateway) UpdateOrgSettings(ctx context.Context, settings data.OrgSettings) error {
	return g.organizations.UpdateSettings(ctx, g.OrgID, settings)
}

// ---- connectors ----

func (g *Gateway) Connector(ctx context.Context, id uuid.UUID) (*data.Connector, error) {
	c, err := g.connectors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := g.checkOrg(c.OrganizationID, "connector", id); err != nil {
		return nil, err
	}
	return c, nil
}

func (g *Gateway) Connectors(ctx context.Context) ([]data.Connector, error) {
	return g.connectors.ListByOrg(ctx, g.OrgID)
}

func (g *Gateway) CreateConnector(ctx context.Context, c *data.Connector) error {
	c.OrganizationID = g.OrgID
	return g.connectors.Create(ctx, c)
}

func (g *Gateway) UpdateConnectorCfg(ctx context.Context, id uuid.UUID, cfg json.RawMessage) error {
	if _, err := g.Connector(ctx, id); err != nil {
		return err
	}
	return g.connectors.UpdateCfg(ctx, id, cfg)
}

func (g *Gateway) RenameConnector(ctx context.Context, id uuid.UUID, name string) error {
	if _, err := g.Connector(ctx, id); err != nil {
		return err
	}
	return g.connectors.Rename(ctx, id, name)
}

func (g *Gateway) SetConnectorEventsEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	if _, err := g.Connector(ctx, id); err != nil {
		return err
	}
	return g.connectors.SetEventsEnabled(ctx, id, enabled)
}

func (g *Gateway) DeleteConnector(ctx context.Context, id uuid.UUID) error {
	if _, err := g.Connector(ctx, id); err != nil {
		return err
	}
	return g.connectors.Delete(ctx, id)
}

// ---- devices ----

func (g *Gateway) Device(ctx context.Context, id uuid.UUID) (*data.Device, error) {
	d, err := g.devices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := g.checkOrg(d.OrganizationID, "device", id); err != nil {
		return nil, err
	}
	return d, nil
}

func (g *Gateway) DeviceByExternalID(ctx context.Context, connectorID uuid.UUID, externalID string) (*data.Device, error) {
	d, err := g.devices.GetByExternalID(ctx, connectorID, externalID)
	if err != nil {
		return nil, err
	}
	if err := g.checkOrg(d.OrganizationID, "device", d.ID); err != nil {
		return nil, err
	}
	return d, nil
}

func (g *Gateway) Devices(ctx context.Context, f data.DeviceFilter) ([]data.Device, error) {
	return g.devices.ListByOrg(ctx, g.OrgID, f)
}

func (g *Gateway) CreateDevice(ctx context.Context, d *data.Device) error {
	d.OrganizationID = g.OrgID
	return g.devices.Create(ctx, d)
}

func (g *Gateway) UpdateDevice(ctx context.Context, d *data.Device) error {
	if _, err := g.Device(ctx, d.ID); err != nil {
		return err
	}
	return g.devices.Update(ctx, d)
}

func (g *Gateway) TouchDevice(ctx context.Context, id uuid.UUID, seen model.StandardizedEvent) error {
	var battery *int
	if v, ok := seen.Payload["batteryPercentage"]; ok {
		if f, ok := v.(float64); ok {
			b := int(f)
			battery = &b
		}
		if i, ok := v.(int); ok {
			battery = &i
		}
	}
	return g.devices.TouchLastSeen(ctx, id, seen.Timestamp, battery)
}

func (g *Gateway) AssignDeviceArea(ctx context.Context, deviceID uuid.UUID, areaID *uuid.UUID) error {
	if _, err := g.Device(ctx, deviceID); err != nil {
		return err
	}
	if areaID == nil {
		return g.devices.ClearArea(ctx, deviceID)
	}
	if _, err := g.Area(ctx, *areaID); err != nil {
		return err
	}
	return g.devices.AssignArea(ctx, deviceID, *areaID)
}

func (g *Gateway) DeviceCameras(ctx context.Context, deviceID uuid.UUID) ([]uuid.UUID, error) {
	if _, err := g.Device(ctx, deviceID); err != nil {
		return nil, err
	}
	return g.devices.CameraIDs(ctx, deviceID)
}

func (g *Gateway) ReplaceDeviceCameras(ctx context.Context, deviceID uuid.UUID, cameraIDs []uuid.UUID) error {
	if _, err := g.Device(ctx, deviceID); err != nil {
		return err
	}
	for _, camID := range cameraIDs {
		cam, err := g.Device(ctx, camID)
		if err != nil {
			return err
		}
		if cam.Type != model.DeviceCamera {
			return fmt.Errorf("device %s is not a camera", camID)
		}
	}
	return g.devices.ReplaceCameraAssociations(ctx, deviceID, cameraIDs)
}

func (g *Gateway) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	if _, err := g.Device(ctx, id); err != nil {
		return err
	}
	return g.devices.Delete(ctx, id)
}

// ---- audit ----

// Audit records an operator mutation. Failures are returned so callers
// can log them, but they must never abort the mutation they describe.
func (g *Gateway) Audit(ctx context.Context, actor, action, entityType string, entityID uuid.UUID, detail map[string]interface{}) error {
	return g.audit.Insert(ctx, &data.AuditLog{
		OrganizationID: g.OrgID,
		Actor:          actor,
		Action:         action,
		EntityType:     entityType,
		EntityID:       entityID.String(),
		Detail:         detail,
	})
}

func (g *Gateway) AuditLog(ctx context.Context, limit int) ([]data.AuditLog, error) {
	return g.audit.ListByOrg(ctx, g.OrgID, limit)
}
