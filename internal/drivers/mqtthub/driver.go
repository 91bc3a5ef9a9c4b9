package mqtthub

import (
	"encoding/json"
	"fmt"

	"github.com/pulsegrid/fusion/internal/drivers"
	"github.com/pulsegrid/fusion/internal/model"
)

func init() {
	drivers.Register(&Driver{})
}

// Driver bridges a consumer IoT cloud: events arrive over MQTT with a
// rotating OAuth access token, commands go out over the cloud REST API.
type Driver struct{}

func (d *Driver) Category() model.ConnectorCategory {
	return model.CategoryMQTTHub
}

func (d *Driver) DecodeConfig(raw json.RawMessage) (drivers.Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("mqtt-hub config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func asConfig(cfg drivers.Config) (*Config, error) {
	c, ok := cfg.(*Config)
	if !ok {
		return nil, fmt.Errorf("mqtt-hub: config is %T, want *mqtthub.Config", cfg)
	}
	return c, nil
}
