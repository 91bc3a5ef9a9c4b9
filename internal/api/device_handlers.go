package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/gateway"
	"github.com/pulsegrid/fusion/internal/model"
	"github.com/pulsegrid/fusion/internal/pipeline"
)

type DeviceHandler struct {
	Gateways *gateway.Factory
	States   *pipeline.StateCache // nil when Redis is not configured
}

func NewDeviceHandler(gws *gateway.Factory, states *pipeline.StateCache) *DeviceHandler {
	return &DeviceHandler{Gateways: gws, States: states}
}

type deviceView struct {
	data.Device
	DisplayState model.DisplayState `json:"displayState,omitempty"`
}

// GET /api/v1/devices?connectorId=&type=&areaId=
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}

	var filter data.DeviceFilter
	q := r.URL.Query()
	if v := q.Get("connectorId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid connectorId")
			return
		}
		filter.ConnectorID = &id
	}
	if v := q.Get("areaId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid areaId")
			return
		}
		filter.AreaID = &id
	}
	filter.Type = model.DeviceType(q.Get("type"))

	devices, err := gw.Devices(r.Context(), filter)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, devices)
}

// GET /api/v1/devices/{id}
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	gw, orgID, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	device, err := gw.Device(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	view := deviceView{Device: *device}
	if h.States != nil {
		// Cache miss or Redis trouble both degrade to "no state".
		if state, err := h.States.Get(r.Context(), orgID, device.ExternalID); err == nil {
			view.DisplayState = state
		}
	}
	respondJSON(w, http.StatusOK, view)
}

// PATCH /api/v1/devices/{id}
func (h *DeviceHandler) Update(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Name   *string    `json:"name,omitempty"`
		AreaID *uuid.UUID `json:"areaId,omitempty"`
		// Distinguishes "leave alone" from "clear the assignment".
		ClearArea bool `json:"clearArea,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	device, err := gw.Device(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			respondError(w, http.StatusBadRequest, "name must not be empty")
			return
		}
		device.Name = *req.Name
		if err := gw.UpdateDevice(r.Context(), device); err != nil {
			respondStoreError(w, err)
			return
		}
	}

	switch {
	case req.ClearArea:
		if err := gw.AssignDeviceArea(r.Context(), id, nil); err != nil {
			respondStoreError(w, err)
			return
		}
		device.AreaID = nil
	case req.AreaID != nil:
		if err := gw.AssignDeviceArea(r.Context(), id, req.AreaID); err != nil {
			respondStoreError(w, err)
			return
		}
		device.AreaID = req.AreaID
	}

	respondJSON(w, http.StatusOK, device)
}

// PUT /api/v1/devices/{id}/cameras
func (h *DeviceHandler) ReplaceCameras(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		CameraIDs []uuid.UUID `json:"cameraIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := gw.ReplaceDeviceCameras(r.Context(), id, req.CameraIDs); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"cameraIds": req.CameraIDs})
}
