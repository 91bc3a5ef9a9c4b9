package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/pulsegrid/fusion/internal/credentials"
	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/drivers"
	"github.com/pulsegrid/fusion/internal/gateway"
	"github.com/pulsegrid/fusion/internal/media"
	"github.com/pulsegrid/fusion/internal/model"
	"github.com/pulsegrid/fusion/internal/pipeline"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500

	streamWriteWait = 10 * time.Second
	streamPingEvery = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // org scoping happens via the required header
	},
}

type EventHandler struct {
	Gateways *gateway.Factory
	Hub      *pipeline.Hub
	Signer   *media.Signer
	Creds    *credentials.Store
	Logger   *logrus.Logger
}

func NewEventHandler(gws *gateway.Factory, hub *pipeline.Hub, signer *media.Signer, creds *credentials.Store, logger *logrus.Logger) *EventHandler {
	return &EventHandler{Gateways: gws, Hub: hub, Signer: signer, Creds: creds, Logger: logger}
}

type eventView struct {
	data.Event
	DeviceName   string           `json:"deviceName,omitempty"`
	DeviceType   model.DeviceType `json:"deviceType,omitempty"`
	ThumbnailURL string           `json:"thumbnailUrl,omitempty"`
}

// GET /api/v1/events
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	gw, orgID, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}

	filter, err := parseEventFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := gw.Events(r.Context(), filter)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	// Enrich with device identity and a signed thumbnail link where the
	// event carries a best-shot camera reference.
	deviceCache := make(map[uuid.UUID]*data.Device)
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		v := eventView{Event: e}
		if e.DeviceID != nil {
			device, ok := deviceCache[*e.DeviceID]
			if !ok {
				device, _ = gw.Device(r.Context(), *e.DeviceID)
				deviceCache[*e.DeviceID] = device
			}
			if device != nil {
				v.DeviceName = device.Name
				v.DeviceType = device.Type
			}
		}
		if _, hasShot := e.Payload["cameraExternalId"]; hasShot && h.Signer != nil {
			if url, err := h.Signer.ThumbnailURL(e.EventID, orgID); err == nil {
				v.ThumbnailURL = url
			}
		}
		views = append(views, v)
	}

	resp := map[string]any{"events": views}
	if len(events) == filter.Limit && filter.Limit > 0 {
		last := events[len(events)-1]
		resp["nextCursor"] = encodeCursor(last.OccurredAt, last.EventID)
	}
	respondJSON(w, http.StatusOK, resp)
}

func parseEventFilter(r *http.Request) (data.EventFilter, error) {
	q := r.URL.Query()
	filter := data.EventFilter{Limit: defaultEventLimit}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filter, errors.New("invalid limit")
		}
		if n > maxEventLimit {
			n = maxEventLimit
		}
		filter.Limit = n
	}
	if v := q.Get("connectorId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, errors.New("invalid connectorId")
		}
		filter.ConnectorID = &id
	}
	if v := q.Get("deviceId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, errors.New("invalid deviceId")
		}
		filter.DeviceID = &id
	}
	filter.Category = model.EventCategory(q.Get("category"))
	filter.Type = model.EventType(q.Get("type"))

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("invalid since")
		}
		filter.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("invalid until")
		}
		filter.Until = &t
	}
	if v := q.Get("cursor"); v != "" {
		t, id, err := decodeCursor(v)
		if err != nil {
			return filter, err
		}
		filter.AfterTime = &t
		filter.AfterID = &id
	}
	return filter, nil
}

func encodeCursor(t time.Time, id uuid.UUID) string {
	return t.UTC().Format(time.RFC3339Nano) + "|" + id.String()
}

func decodeCursor(s string) (time.Time, uuid.UUID, error) {
	parts := strings.SplitN(s, "|", 2)
	if len(parts) != 2 {
		return time.Time{}, uuid.Nil, errors.New("invalid cursor")
	}
	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, uuid.Nil, errors.New("invalid cursor")
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return time.Time{}, uuid.Nil, errors.New("invalid cursor")
	}
	return t, id, nil
}

// GET /api/v1/events/stream
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := orgGateway(w, r, h.Gateways)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.WithError(err).Warn("event stream upgrade failed")
		return
	}

	sub := h.Hub.Subscribe(orgID)
	defer sub.Close()
	defer conn.Close()

	// Reader goroutine: we never expect client frames, but reading is
	// what surfaces the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// GET /api/v1/events/{id}/thumbnail
//
// Authorized by the signed query token alone so the URL works from a
// plain <img> tag; no org header is required here.
func (h *EventHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	orgID, err := h.Signer.VerifyThumbnail(eventID, r.URL.Query())
	if err != nil {
		respondError(w, http.StatusForbidden, err.Error())
		return
	}
	gw := h.Gateways.For(orgID)

	event, err := gw.Event(r.Context(), eventID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	cameraRef, _ := event.Payload["cameraExternalId"].(string)
	if cameraRef == "" {
		cameraRef = event.DeviceExternalID
	}
	if cameraRef == "" {
		respondError(w, http.StatusNotFound, "event has no camera reference")
		return
	}

	client, _, err := h.commandClient(r, event.ConnectorID)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	at := event.OccurredAt
	img, contentType, err := client.FetchThumbnail(r.Context(), cameraRef, drivers.ThumbnailParams{
		Size: r.URL.Query().Get("size"),
		At:   &at,
	})
	if err != nil {
		if errors.Is(err, drivers.ErrNotSupported) {
			respondError(w, http.StatusNotFound, "connector does not serve thumbnails")
			return
		}
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}

func (h *EventHandler) commandClient(r *http.Request, connectorID uuid.UUID) (drivers.CommandClient, *data.Connector, error) {
	conn, _, err := h.Creds.GetConfig(r.Context(), connectorID)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := h.Creds.EnsureFresh(r.Context(), connectorID)
	if err != nil {
		return nil, nil, err
	}
	driver, err := drivers.ForCategory(conn.Category)
	if err != nil {
		return nil, nil, err
	}
	ref := drivers.ConnectorRef{ID: conn.ID, OrganizationID: conn.OrganizationID, Name: conn.Name}
	client, err := driver.Commands(ref, cfg)
	if err != nil {
		return nil, nil, err
	}
	return client, conn, nil
}
