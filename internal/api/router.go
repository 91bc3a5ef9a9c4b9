package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/pulsegrid/fusion/internal/middleware"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Health      *HealthHandler
	Connectors  *ConnectorHandler
	Devices     *DeviceHandler
	Events      *EventHandler
	Automations *AutomationHandler
	Arming      *ArmingHandler
}

// NewRouter assembles the HTTP surface. /healthz and /metrics stay
// outside the org-scoped subtree; everything under /api/v1 requires
// an X-Org-ID header.
func NewRouter(h Handlers, logger *logrus.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Metrics)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.Health.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))

		// Thumbnails carry their own signed-URL auth instead of the org header.
		r.Get("/events/{id}/thumbnail", h.Events.Thumbnail)

		r.Group(func(r chi.Router) {
			r.Use(middleware.OrgContext)
			routeOrgScoped(r, h)
		})
	})

	return r
}

func routeOrgScoped(r chi.Router, h Handlers) {
	r.Route("/connectors", func(r chi.Router) {
		r.Get("/", h.Connectors.List)
		r.Post("/", h.Connectors.Create)
		r.Get("/{id}", h.Connectors.Get)
		r.Delete("/{id}", h.Connectors.Delete)
		r.Post("/{id}/enable", h.Connectors.Enable)
		r.Post("/{id}/disable", h.Connectors.Disable)
		r.Post("/{id}/reconnect", h.Connectors.Reconnect)
	})

	r.Route("/devices", func(r chi.Router) {
		r.Get("/", h.Devices.List)
		r.Get("/{id}", h.Devices.Get)
		r.Patch("/{id}", h.Devices.Update)
		r.Put("/{id}/cameras", h.Devices.ReplaceCameras)
	})

	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.Events.List)
		r.Get("/stream", h.Events.Stream)
	})

	r.Route("/automations", func(r chi.Router) {
		r.Get("/", h.Automations.List)
		r.Post("/", h.Automations.Create)
		r.Get("/{id}", h.Automations.Get)
		r.Put("/{id}", h.Automations.Update)
		r.Delete("/{id}", h.Automations.Delete)
		r.Post("/{id}/test", h.Automations.Test)
		r.Get("/{id}/executions", h.Automations.Executions)
	})
	r.Get("/executions/{id}", h.Automations.Execution)

	r.Route("/areas", func(r chi.Router) {
		r.Get("/", h.Arming.ListAreas)
		r.Post("/", h.Arming.CreateArea)
		r.Get("/{id}", h.Arming.GetArea)
		r.Delete("/{id}", h.Arming.DeleteArea)
		r.Post("/{id}/arm", h.Arming.ArmArea)
		r.Post("/{id}/disarm", h.Arming.DisarmArea)
		r.Post("/{id}/skip-next", h.Arming.SkipNext)
		r.Patch("/{id}/schedule", h.Arming.SetAreaSchedule)
	})

	r.Route("/locations", func(r chi.Router) {
		r.Get("/", h.Arming.ListLocations)
		r.Post("/", h.Arming.CreateLocation)
		r.Post("/{id}/arm-all", h.Arming.ArmAll)
		r.Post("/{id}/disarm-all", h.Arming.DisarmAll)
		r.Patch("/{id}/schedule", h.Arming.SetLocationSchedule)
	})

	r.Route("/arming-schedules", func(r chi.Router) {
		r.Get("/", h.Arming.ListSchedules)
		r.Post("/", h.Arming.CreateSchedule)
		r.Put("/{id}", h.Arming.UpdateSchedule)
		r.Delete("/{id}", h.Arming.DeleteSchedule)
	})
}
