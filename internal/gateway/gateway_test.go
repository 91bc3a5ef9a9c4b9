package gateway_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/gateway"
)

var connectorCols = []string{
	"id", "organization_id", "category", "name", "cfg", "events_enabled", "created_at", "updated_at",
}

func connectorRow(id, orgID uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows(connectorCols).AddRow(
		id, orgID, "mqtt-hub", "Front Office", []byte(`{}`), true, time.Now(), time.Now(),
	)
}

func TestGatewayConnector_SameOrg(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	orgID := uuid.New()
	connID := uuid.New()
	gw := (&gateway.Factory{DB: db}).For(orgID)

	mock.ExpectQuery("SELECT (.+) FROM connectors").
		WithArgs(connID).
		WillReturnRows(connectorRow(connID, orgID))

	c, err := gw.Connector(context.Background(), connID)
	if err != nil {
		t.Fatalf("Connector failed: %v", err)
	}
	if c.ID != connID {
		t.Errorf("connector id = %s, want %s", c.ID, connID)
	}
}

func TestGatewayConnector_CrossTenant(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	connID := uuid.New()
	gw := (&gateway.Factory{DB: db}).For(uuid.New())

	// row belongs to a different org than the gateway is pinned to
	mock.ExpectQuery("SELECT (.+) FROM connectors").
		WithArgs(connID).
		WillReturnRows(connectorRow(connID, uuid.New()))

	_, err := gw.Connector(context.Background(), connID)
	if !errors.Is(err, gateway.ErrCrossTenant) {
		t.Errorf("err = %v, want ErrCrossTenant", err)
	}
}

func TestGatewayConnectors_ScopedToOrg(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	orgID := uuid.New()
	gw := (&gateway.Factory{DB: db}).For(orgID)

	mock.ExpectQuery("FROM connectors\\s+WHERE organization_id").
		WithArgs(orgID).
		WillReturnRows(sqlmock.NewRows(connectorCols))

	if _, err := gw.Connectors(context.Background()); err != nil {
		t.Fatalf("Connectors failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("list not scoped to pinned org: %v", err)
	}
}

func TestGatewayCreateConnector_StampsOrg(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	orgID := uuid.New()
	gw := (&gateway.Factory{DB: db}).For(orgID)

	newID := uuid.New()
	mock.ExpectQuery("INSERT INTO connectors").
		WithArgs(orgID, "mqtt-hub", "Warehouse", []byte(`{}`), false).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(newID, time.Now(), time.Now()))

	c := &data.Connector{
		OrganizationID: uuid.New(), // caller-supplied org must be overwritten
		Category:       "mqtt-hub",
		Name:           "Warehouse",
		Cfg:            []byte(`{}`),
	}
	if err := gw.CreateConnector(context.Background(), c); err != nil {
		t.Fatalf("CreateConnector failed: %v", err)
	}
	if c.OrganizationID != orgID {
		t.Errorf("connector stamped with org %s, want pinned %s", c.OrganizationID, orgID)
	}
	if c.ID != newID {
		t.Errorf("returned id not scanned back")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("insert arguments: %v", err)
	}
}

func TestGatewayDeleteConnector_CrossTenantRefused(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	connID := uuid.New()
	gw := (&gateway.Factory{DB: db}).For(uuid.New())

	mock.ExpectQuery("SELECT (.+) FROM connectors").
		WithArgs(connID).
		WillReturnRows(connectorRow(connID, uuid.New()))

	err := gw.DeleteConnector(context.Background(), connID)
	if !errors.Is(err, gateway.ErrCrossTenant) {
		t.Fatalf("err = %v, want ErrCrossTenant", err)
	}
	// no DELETE must have been issued
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected statements: %v", err)
	}
}
