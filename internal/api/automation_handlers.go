package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/automation"
	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/gateway"
	"github.com/pulsegrid/fusion/internal/model"
)

type AutomationHandler struct {
	Gateways *gateway.Factory
	Engine   *automation.Engine
}

func NewAutomationHandler(gws *gateway.Factory, engine *automation.Engine) *AutomationHandler {
	return &AutomationHandler{Gateways: gws, Engine: engine}
}

type automationRequest struct {
	Name            string                 `json:"name"`
	Enabled         bool                   `json:"enabled"`
	LocationScopeID *uuid.UUID             `json:"locationScopeId,omitempty"`
	Tags            []string               `json:"tags,omitempty"`
	Config          model.AutomationConfig `json:"config"`
}

// POST /api/v1/automations
func (h *AutomationHandler) Create(w http.ResponseWriter, r *http.Request) {
	gw, orgID, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}

	var req automationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := req.Config.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	auto := &data.Automation{
		OrganizationID:  orgID,
		Name:            req.Name,
		Enabled:         req.Enabled,
		LocationScopeID: req.LocationScopeID,
		Tags:            req.Tags,
		Config:          req.Config,
	}
	if err := gw.CreateAutomation(r.Context(), auto); err != nil {
		respondStoreError(w, err)
		return
	}

	h.Engine.InvalidateOrg(orgID)
	_ = gw.Audit(r.Context(), actor(r), "automation.create", "automation", auto.ID, nil)
	respondJSON(w, http.StatusCreated, auto)
}

// GET /api/v1/automations
func (h *AutomationHandler) List(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}

	autos, err := gw.Automations(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, autos)
}

// GET /api/v1/automations/{id}
func (h *AutomationHandler) Get(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	auto, err := gw.Automation(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, auto)
}

// PUT /api/v1/automations/{id}
func (h *AutomationHandler) Update(w http.ResponseWriter, r *http.Request) {
	gw, orgID, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req automationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := req.Config.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	auto, err := gw.Automation(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	auto.Name = req.Name
	auto.Enabled = req.Enabled
	auto.LocationScopeID = req.LocationScopeID
	auto.Tags = req.Tags
	auto.Config = req.Config

	if err := gw.UpdateAutomation(r.Context(), auto); err != nil {
		respondStoreError(w, err)
		return
	}

	h.Engine.InvalidateOrg(orgID)
	_ = gw.Audit(r.Context(), actor(r), "automation.update", "automation", auto.ID, nil)
	respondJSON(w, http.StatusOK, auto)
}

// DELETE /api/v1/automations/{id}
func (h *AutomationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	gw, orgID, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := gw.DeleteAutomation(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	h.Engine.InvalidateOrg(orgID)
	_ = gw.Audit(r.Context(), actor(r), "automation.delete", "automation", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/automations/{id}/test
func (h *AutomationHandler) Test(w http.ResponseWriter, r *http.Request) {
	gw, orgID, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		EventID uuid.UUID `json:"eventId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EventID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "eventId is required")
		return
	}

	auto, err := gw.Automation(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	result, err := h.Engine.DryRun(r.Context(), orgID, &auto.Config, req.EventID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GET /api/v1/automations/{id}/executions
func (h *AutomationHandler) Executions(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	execs, err := gw.ExecutionsByAutomation(r.Context(), id, limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, execs)
}

// GET /api/v1/executions/{id}
func (h *AutomationHandler) Execution(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	exec, err := gw.Execution(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	actions, err := gw.ExecutionActions(r.Context(), exec.ID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"execution": exec,
		"actions":   actions,
	})
}
