package videovms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pulsegrid/fusion/internal/drivers"
	"github.com/pulsegrid/fusion/internal/model"
)

const httpTimeout = 10 * time.Second

// commandClient drives the VMS REST API with a config snapshot.
type commandClient struct {
	cfg  *Config
	http *http.Client
}

func (d *Driver) Commands(ref drivers.ConnectorRef, cfg drivers.Config) (drivers.CommandClient, error) {
	c, err := asConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &commandClient{cfg: c, http: &http.Client{Timeout: httpTimeout}}, nil
}

func (c *commandClient) CreateEvent(ctx context.Context, req drivers.CreateEventRequest) error {
	body := map[string]interface{}{
		"source":      req.Source,
		"caption":     req.Caption,
		"description": req.Description,
		"timestampMs": req.Timestamp.UnixMilli(),
	}
	if len(req.CameraRefs) > 0 {
		body["metadata"] = map[string]interface{}{"cameraRefs": req.CameraRefs}
	}
	return c.post(ctx, "/api/v1/events", body)
}

func (c *commandClient) CreateBookmark(ctx context.Context, cameraExternalID string, req drivers.BookmarkRequest) error {
	body := map[string]interface{}{
		"name":        req.Name,
		"description": req.Description,
		"startTimeMs": req.StartTime.UnixMilli(),
		"durationMs":  req.DurationMs,
	}
	if len(req.Tags) > 0 {
		body["tags"] = req.Tags
	}
	path := "/api/v1/cameras/" + url.PathEscape(cameraExternalID) + "/bookmarks"
	return c.post(ctx, path, body)
}

func (c *commandClient) FetchThumbnail(ctx context.Context, cameraExternalID string, p drivers.ThumbnailParams) ([]byte, string, error) {
	q := url.Values{}
	if p.Size != "" {
		q.Set("size", p.Size)
	}
	if p.At != nil {
		q.Set("atMs", strconv.FormatInt(p.At.UnixMilli(), 10))
	}
	u := c.cfg.apiURL("/api/v1/cameras/"+url.PathEscape(cameraExternalID)+"/thumbnail")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("video-vms thumbnail: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "thumbnail"); err != nil {
		return nil, "", err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, "", fmt.Errorf("video-vms thumbnail: read body: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return data, contentType, nil
}

func (c *commandClient) SetState(context.Context, string, model.ActionableState) error {
	return drivers.ErrNotSupported
}

func (c *commandClient) post(ctx context.Context, path string, body map[string]interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.apiURL(path), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("video-vms %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<12))
	return checkStatus(resp, path)
}

func checkStatus(resp *http.Response, op string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("video-vms %s: %w: status %d", op, drivers.ErrAuth, resp.StatusCode)
	default:
		return fmt.Errorf("video-vms %s: unexpected status %d", op, resp.StatusCode)
	}
}
