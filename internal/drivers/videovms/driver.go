package videovms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/drivers"
	"github.com/pulsegrid/fusion/internal/model"
)

func init() {
	drivers.Register(&Driver{})
}

// Driver bridges a video management system: analytics events arrive over
// a long-lived WebSocket, commands (events, bookmarks, thumbnails) go out
// over the VMS REST API. Authentication is a static API key.
type Driver struct{}

func (d *Driver) Category() model.ConnectorCategory {
	return model.CategoryVideoVMS
}

// Config is the video-vms connector configuration.
type Config struct {
	// Host is the VMS endpoint, e.g. "vms.example.com" or
	// "vms.example.com:8443". Schemes are derived (wss/https), unless
	// Insecure flips them to ws/http for lab deployments.
	Host     string `json:"host"`
	APIKey   string `json:"apiKey"`
	Insecure bool   `json:"insecure,omitempty"`
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("video-vms config: host is required")
	}
	if strings.Contains(c.Host, "://") {
		return fmt.Errorf("video-vms config: host must not carry a scheme")
	}
	if c.APIKey == "" {
		return fmt.Errorf("video-vms config: apiKey is required")
	}
	return nil
}

// Credentials is nil: the API key is static, there is nothing to rotate.
func (c *Config) Credentials() *drivers.Credentials { return nil }

func (c *Config) SetCredentials(*drivers.Credentials) {}

func (c *Config) SessionKey(connectorID uuid.UUID) string {
	return "video-vms:" + connectorID.String()
}

func (c *Config) wsURL() string {
	scheme := "wss"
	if c.Insecure {
		scheme = "ws"
	}
	return (&url.URL{Scheme: scheme, Host: c.Host, Path: "/api/ws/events"}).String()
}

func (c *Config) apiURL(path string) string {
	scheme := "https"
	if c.Insecure {
		scheme = "http"
	}
	return (&url.URL{Scheme: scheme, Host: c.Host, Path: path}).String()
}

func (d *Driver) DecodeConfig(raw json.RawMessage) (drivers.Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("video-vms config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (d *Driver) RefreshCredentials(context.Context, drivers.Config) (*drivers.Credentials, error) {
	return nil, drivers.ErrNotSupported
}

func asConfig(cfg drivers.Config) (*Config, error) {
	c, ok := cfg.(*Config)
	if !ok {
		return nil, fmt.Errorf("video-vms: config is %T, want *videovms.Config", cfg)
	}
	return c, nil
}
