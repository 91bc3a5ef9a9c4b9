package automation

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/drivers"
	"github.com/pulsegrid/fusion/internal/model"
)

const (
	defaultBookmarkDurationMs = 5000
	armingTimeout             = 15 * time.Second
	pushTimeout               = 10 * time.Second
)

func (e *Engine) execCreateEvent(ctx context.Context, gw Gateway, action *model.Action, facts Facts) error {
	client, _, err := e.commandClient(ctx, *action.TargetConnectorID)
	if err != nil {
		return fmt.Errorf("target connector: %w", err)
	}

	// Camera refs are best effort; an event without cameras still lands
	// on the vendor timeline.
	refs := e.triggerCameraRefs(ctx, gw, facts)

	req := drivers.CreateEventRequest{
		Source:      Render(action.SourceTemplate, facts),
		Caption:     Render(action.CaptionTemplate, facts),
		Description: Render(action.DescriptionTemplate, facts),
		Timestamp:   facts.eventTime(),
		CameraRefs:  refs,
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	defer cancel()
	return client.CreateEvent(cctx, req)
}

// execCreateBookmark fans out one bookmark per camera associated with
// the trigger device. No associated cameras means there is nothing to
// bookmark, which is a skip, not a failure.
func (e *Engine) execCreateBookmark(ctx context.Context, gw Gateway, action *model.Action, facts Facts) (model.ActionStatus, error) {
	refs := e.triggerCameraRefs(ctx, gw, facts)
	if len(refs) == 0 {
		return model.ActionStatusSkipped, nil
	}

	client, _, err := e.commandClient(ctx, *action.TargetConnectorID)
	if err != nil {
		return model.ActionStatusFailure, fmt.Errorf("target connector: %w", err)
	}

	durationMs := defaultBookmarkDurationMs
	if action.DurationMsTemplate != "" {
		if n, err := strconv.Atoi(Render(action.DurationMsTemplate, facts)); err == nil && n > 0 {
			durationMs = n
		}
	}

	var tags []string
	if action.TagsTemplate != "" {
		for _, t := range strings.Split(Render(action.TagsTemplate, facts), ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}

	req := drivers.BookmarkRequest{
		Name:        Render(action.NameTemplate, facts),
		Description: Render(action.DescriptionTemplate, facts),
		StartTime:   facts.eventTime(),
		DurationMs:  durationMs,
		Tags:        tags,
	}

	var firstErr error
	for _, ref := range refs {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
		err := client.CreateBookmark(cctx, ref, req)
		cancel()
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("camera %s: %w", ref, err)
		}
	}
	if firstErr != nil {
		return model.ActionStatusFailure, firstErr
	}
	return model.ActionStatusSuccess, nil
}

func (e *Engine) execSendHTTP(ctx context.Context, action *model.Action, facts Facts) error {
	url := Render(action.URLTemplate, facts)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("rendered url %q is not absolute", url)
	}

	timeout := e.cfg.HTTPTimeout
	if action.TimeoutMs > 0 {
		timeout = time.Duration(action.TimeoutMs) * time.Millisecond
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body *strings.Reader
	if action.BodyTemplate != "" {
		body = strings.NewReader(Render(action.BodyTemplate, facts))
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(cctx, strings.ToUpper(action.Method), url, body)
	if err != nil {
		return err
	}
	for _, h := range action.Headers {
		key := Render(h.KeyTemplate, facts)
		if key == "" {
			continue
		}
		req.Header.Set(key, Render(h.ValueTemplate, facts))
	}
	if action.BodyTemplate != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request returned %d", resp.StatusCode)
	}
	return nil
}

func (e *Engine) execSetDeviceState(ctx context.Context, gw Gateway, action *model.Action) error {
	device, err := gw.Device(ctx, *action.TargetDeviceInternalID)
	if err != nil {
		return fmt.Errorf("target device: %w", err)
	}

	client, _, err := e.commandClient(ctx, device.ConnectorID)
	if err != nil {
		return fmt.Errorf("device connector: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	defer cancel()
	return client.SetState(cctx, device.ExternalID, action.TargetState)
}

func (e *Engine) execSendPush(ctx context.Context, gw Gateway, action *model.Action, facts Facts) error {
	cctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	org, err := gw.Organization(cctx)
	if err != nil {
		return fmt.Errorf("loading org settings: %w", err)
	}
	settings := org.Settings.Pushover
	if settings == nil {
		return fmt.Errorf("org has no push settings")
	}

	target := Render(action.TargetUserKeyTemplate, facts)
	var keys []string
	switch target {
	case "", "__all__":
		if settings.GroupKey == "" {
			return fmt.Errorf("org has no push group key")
		}
		keys = []string{settings.GroupKey}
	default:
		key, ok := settings.UserKeys[target]
		if !ok {
			return fmt.Errorf("unknown push recipient %q", target)
		}
		keys = []string{key}
	}

	title := Render(action.TitleTemplate, facts)
	message := Render(action.MessageTemplate, facts)
	for _, key := range keys {
		if err := e.pusher.Send(key, title, message, action.Priority); err != nil {
			return err
		}
	}
	return nil
}

// execArming resolves the action's area set and arms or disarms each.
// Per-area failures are collected; one stubborn area does not stop the
// rest of a lockdown.
func (e *Engine) execArming(ctx context.Context, gw Gateway, auto *data.Automation, action *model.Action) error {
	cctx, cancel := context.WithTimeout(ctx, armingTimeout)
	defer cancel()

	areaIDs, err := e.resolveAreaScope(cctx, gw, auto, action)
	if err != nil {
		return err
	}
	if len(areaIDs) == 0 {
		return fmt.Errorf("no areas in scope")
	}

	mode := action.ArmMode
	if mode == "" {
		mode = model.ArmedAway
	}
	reason := model.ReasonAutomationArm
	if action.Type == model.ActionDisarmArea {
		reason = model.ReasonAutomationDisarm
	}

	var failures []string
	for _, id := range areaIDs {
		var err error
		if action.Type == model.ActionArmArea {
			err = e.armer.Arm(cctx, auto.OrganizationID, id, mode, reason)
		} else {
			err = e.armer.Disarm(cctx, auto.OrganizationID, id, reason)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", id, err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d areas failed: %s", len(failures), len(areaIDs), strings.Join(failures, "; "))
	}
	return nil
}

func (e *Engine) resolveAreaScope(ctx context.Context, gw Gateway, auto *data.Automation, action *model.Action) ([]uuid.UUID, error) {
	if action.Scoping == model.ScopeSpecificAreas {
		return action.TargetAreaIDs, nil
	}

	var (
		areas []data.Area
		err   error
	)
	if auto.LocationScopeID != nil {
		areas, err = gw.AreasByLocation(ctx, *auto.LocationScopeID)
	} else {
		areas, err = gw.Areas(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving area scope: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(areas))
	for _, a := range areas {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

// triggerCameraRefs maps the trigger device's associated cameras to
// their vendor external ids.
func (e *Engine) triggerCameraRefs(ctx context.Context, gw Gateway, facts Facts) []string {
	raw, ok := facts.lookup("device.id")
	if !ok {
		return nil
	}
	deviceID, err := uuid.Parse(renderValue(raw))
	if err != nil {
		return nil
	}

	cameraIDs, err := gw.DeviceCameras(ctx, deviceID)
	if err != nil {
		e.logger.WithError(err).WithField("device_id", deviceID).
			Warn("loading camera associations failed")
		return nil
	}

	refs := make([]string, 0, len(cameraIDs))
	for _, id := range cameraIDs {
		cam, err := gw.Device(ctx, id)
		if err != nil {
			continue
		}
		refs = append(refs, cam.ExternalID)
	}
	return refs
}
