package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/arming"
	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/gateway"
	"github.com/pulsegrid/fusion/internal/model"
)

type ArmingHandler struct {
	Gateways *gateway.Factory
	Arming   *arming.Service
}

func NewArmingHandler(gws *gateway.Factory, svc *arming.Service) *ArmingHandler {
	return &ArmingHandler{Gateways: gws, Arming: svc}
}

func respondArmingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, arming.ErrTriggeredLocked):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, arming.ErrInvalidTransition):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondStoreError(w, err)
	}
}

// GET /api/v1/areas
func (h *ArmingHandler) ListAreas(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	areas, err := gw.Areas(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, areas)
}

// POST /api/v1/areas
func (h *ArmingHandler) CreateArea(w http.ResponseWriter, r *http.Request) {
	gw, orgID, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}

	var req struct {
		Name       string     `json:"name"`
		LocationID *uuid.UUID `json:"locationId,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	area := &data.Area{
		OrganizationID: orgID,
		LocationID:     req.LocationID,
		Name:           req.Name,
	}
	if err := gw.CreateArea(r.Context(), area); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, area)
}

// GET /api/v1/areas/{id}
func (h *ArmingHandler) GetArea(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	area, err := gw.Area(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, area)
}

// DELETE /api/v1/areas/{id}
func (h *ArmingHandler) DeleteArea(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := gw.DeleteArea(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/areas/{id}/arm
func (h *ArmingHandler) ArmArea(w http.ResponseWriter, r *http.Request) {
	gw, orgID, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	mode := model.ArmedAway
	var req struct {
		Mode model.ArmedState `json:"mode,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Mode != "" {
		mode = req.Mode
	}

	if err := h.Arming.Arm(r.Context(), orgID, id, mode, model.ReasonUserAction); err != nil {
		respondArmingError(w, err)
		return
	}
	_ = gw.Audit(r.Context(), actor(r), "area.arm", "area", id, map[string]interface{}{"mode": mode})
	h.respondAreaState(w, r, id)
}

// POST /api/v1/areas/{id}/disarm
func (h *ArmingHandler) DisarmArea(w http.ResponseWriter, r *http.Request) {
	gw, orgID, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.Arming.Disarm(r.Context(), orgID, id, model.ReasonUserAction); err != nil {
		respondArmingError(w, err)
		return
	}
	_ = gw.Audit(r.Context(), actor(r), "area.disarm", "area", id, nil)
	h.respondAreaState(w, r, id)
}

// POST /api/v1/areas/{id}/skip-next
func (h *ArmingHandler) SkipNext(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.Arming.SkipNext(r.Context(), orgID, id); err != nil {
		respondArmingError(w, err)
		return
	}
	h.respondAreaState(w, r, id)
}

// PATCH /api/v1/areas/{id}/schedule
func (h *ArmingHandler) SetAreaSchedule(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		ScheduleID *uuid.UUID `json:"scheduleId"` // null clears the override
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := gw.SetAreaOverrideSchedule(r.Context(), id, req.ScheduleID); err != nil {
		respondStoreError(w, err)
		return
	}
	h.respondAreaState(w, r, id)
}

func (h *ArmingHandler) respondAreaState(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	area, err := gw.Area(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, area)
}

// GET /api/v1/locations
func (h *ArmingHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	locations, err := gw.Locations(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, locations)
}

// POST /api/v1/locations
func (h *ArmingHandler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	gw, orgID, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}

	var req struct {
		Name     string `json:"name"`
		TimeZone string `json:"timeZone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.TimeZone == "" {
		req.TimeZone = "UTC"
	}

	loc := &data.Location{
		OrganizationID: orgID,
		Name:           req.Name,
		TimeZone:       req.TimeZone,
	}
	if err := gw.CreateLocation(r.Context(), loc); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, loc)
}

// POST /api/v1/locations/{id}/arm-all
func (h *ArmingHandler) ArmAll(w http.ResponseWriter, r *http.Request) {
	gw, orgID, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	mode := model.ArmedAway
	var req struct {
		Mode model.ArmedState `json:"mode,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Mode != "" {
		mode = req.Mode
	}

	result, err := h.Arming.ArmAll(r.Context(), orgID, &id, mode, model.ReasonUserAction)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	_ = gw.Audit(r.Context(), actor(r), "location.arm_all", "location", id, map[string]interface{}{"mode": mode})
	respondJSON(w, http.StatusOK, result)
}

// POST /api/v1/locations/{id}/disarm-all
func (h *ArmingHandler) DisarmAll(w http.ResponseWriter, r *http.Request) {
	gw, orgID, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	result, err := h.Arming.DisarmAll(r.Context(), orgID, &id, model.ReasonUserAction)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	_ = gw.Audit(r.Context(), actor(r), "location.disarm_all", "location", id, nil)
	respondJSON(w, http.StatusOK, result)
}

// PATCH /api/v1/locations/{id}/schedule
func (h *ArmingHandler) SetLocationSchedule(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		ScheduleID *uuid.UUID `json:"scheduleId"` // null clears the default
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := gw.SetLocationDefaultSchedule(r.Context(), id, req.ScheduleID); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type scheduleRequest struct {
	Name            string `json:"name"`
	DaysOfWeek      []int  `json:"daysOfWeek"`
	ArmTimeLocal    string `json:"armTimeLocal"`
	DisarmTimeLocal string `json:"disarmTimeLocal"`
}

func (req *scheduleRequest) validate() error {
	if req.Name == "" {
		return errors.New("name is required")
	}
	if len(req.DaysOfWeek) == 0 {
		return errors.New("daysOfWeek must not be empty")
	}
	for _, d := range req.DaysOfWeek {
		if d < 0 || d > 6 {
			return errors.New("daysOfWeek entries must be 0..6")
		}
	}
	if _, _, err := model.ParseClock(req.ArmTimeLocal); err != nil {
		return err
	}
	if _, _, err := model.ParseClock(req.DisarmTimeLocal); err != nil {
		return err
	}
	return nil
}

// POST /api/v1/arming-schedules
func (h *ArmingHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	gw, orgID, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sched := &data.ArmingSchedule{
		OrganizationID:  orgID,
		Name:            req.Name,
		DaysOfWeek:      req.DaysOfWeek,
		ArmTimeLocal:    req.ArmTimeLocal,
		DisarmTimeLocal: req.DisarmTimeLocal,
	}
	if err := gw.CreateSchedule(r.Context(), sched); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sched)
}

// GET /api/v1/arming-schedules
func (h *ArmingHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	schedules, err := gw.Schedules(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, schedules)
}

// PUT /api/v1/arming-schedules/{id}
func (h *ArmingHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sched, err := gw.Schedule(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	sched.Name = req.Name
	sched.DaysOfWeek = req.DaysOfWeek
	sched.ArmTimeLocal = req.ArmTimeLocal
	sched.DisarmTimeLocal = req.DisarmTimeLocal

	if err := gw.UpdateSchedule(r.Context(), sched); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sched)
}

// DELETE /api/v1/arming-schedules/{id}
func (h *ArmingHandler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := gw.DeleteSchedule(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
