package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/credentials"
	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/drivers"
	"github.com/pulsegrid/fusion/internal/gateway"
	"github.com/pulsegrid/fusion/internal/middleware"
	"github.com/pulsegrid/fusion/internal/model"
	"github.com/pulsegrid/fusion/internal/sessions"
)

type ConnectorHandler struct {
	Gateways *gateway.Factory
	Sessions *sessions.Manager
	Creds    *credentials.Store
}

func NewConnectorHandler(gws *gateway.Factory, mgr *sessions.Manager, creds *credentials.Store) *ConnectorHandler {
	return &ConnectorHandler{Gateways: gws, Sessions: mgr, Creds: creds}
}

func orgGateway(w http.ResponseWriter, r *http.Request, gws *gateway.Factory) (*gateway.Gateway, uuid.UUID, bool) {
	orgID, ok := middleware.OrgID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing org context")
		return nil, uuid.Nil, false
	}
	return gws.For(orgID), orgID, true
}

// connectorView merges the stored row with the live session state.
type connectorView struct {
	data.Connector
	SessionState model.SessionState `json:"sessionState"`
	LastError    string             `json:"lastError,omitempty"`
}

func (h *ConnectorHandler) view(c data.Connector) connectorView {
	v := connectorView{Connector: c, SessionState: model.SessionDisabled}
	// Stored credentials stay server-side; listings never echo the cfg.
	v.Cfg = nil
	if info, err := h.Sessions.Status(c.ID); err == nil {
		v.SessionState = info.State
		v.LastError = info.LastError
	}
	return v
}

// POST /api/v1/connectors
func (h *ConnectorHandler) Create(w http.ResponseWriter, r *http.Request) {
	gw, orgID, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}

	var req struct {
		Category model.ConnectorCategory `json:"category"`
		Name     string                  `json:"name"`
		Cfg      json.RawMessage         `json:"cfg"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	driver, err := drivers.ForCategory(req.Category)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown connector category")
		return
	}
	cfg, err := driver.DecodeConfig(req.Cfg)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := cfg.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn := &data.Connector{
		OrganizationID: orgID,
		Category:       req.Category,
		Name:           req.Name,
		Cfg:            req.Cfg,
	}
	if err := gw.CreateConnector(r.Context(), conn); err != nil {
		respondStoreError(w, err)
		return
	}

	// Re-save through the credential store so the credentials subtree is
	// sealed under the new row's id.
	if err := h.Creds.SaveConfig(r.Context(), conn.ID, cfg); err != nil {
		respondError(w, http.StatusInternalServerError, "sealing credentials failed")
		return
	}

	_ = gw.Audit(r.Context(), actor(r), "connector.create", "connector", conn.ID, nil)
	respondJSON(w, http.StatusCreated, h.view(*conn))
}

// GET /api/v1/connectors
func (h *ConnectorHandler) List(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}

	conns, err := gw.Connectors(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}

	views := make([]connectorView, 0, len(conns))
	for _, c := range conns {
		views = append(views, h.view(c))
	}
	respondJSON(w, http.StatusOK, views)
}

// GET /api/v1/connectors/{id}
func (h *ConnectorHandler) Get(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	conn, err := gw.Connector(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.view(*conn))
}

// DELETE /api/v1/connectors/{id}
func (h *ConnectorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if _, err := gw.Connector(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	// Stop the session before the row disappears under it.
	if err := h.Sessions.Disable(r.Context(), id); err != nil && !errors.Is(err, data.ErrRecordNotFound) {
		respondStoreError(w, err)
		return
	}
	if err := gw.DeleteConnector(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	_ = gw.Audit(r.Context(), actor(r), "connector.delete", "connector", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/connectors/{id}/enable
func (h *ConnectorHandler) Enable(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := gw.Connector(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	if err := h.Sessions.Enable(r.Context(), id); err != nil {
		// The worker keeps retrying unless credentials were rejected;
		// surface the first outcome either way.
		info, serr := h.Sessions.Status(id)
		if serr == nil {
			respondJSON(w, http.StatusBadGateway, map[string]any{
				"state": info.State,
				"error": err.Error(),
			})
			return
		}
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	_ = gw.Audit(r.Context(), actor(r), "connector.enable", "connector", id, nil)
	respondJSON(w, http.StatusOK, map[string]any{"state": model.SessionConnected})
}

// POST /api/v1/connectors/{id}/disable
func (h *ConnectorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := gw.Connector(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	if err := h.Sessions.Disable(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	_ = gw.Audit(r.Context(), actor(r), "connector.disable", "connector", id, nil)
	respondJSON(w, http.StatusOK, map[string]any{"state": model.SessionDisabled})
}

// POST /api/v1/connectors/{id}/reconnect
func (h *ConnectorHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := gw.Connector(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	if err := h.Sessions.Reconnect(id); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// actor identifies the caller for audit rows. Without an authn layer the
// best available identity is the forwarded operator header.
func actor(r *http.Request) string {
	if v := r.Header.Get("X-Operator"); v != "" {
		return v
	}
	return "api"
}
