package mqtthub

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/drivers"
)

// Config is the mqtt-hub connector configuration. Credentials rotate;
// everything else is set at connector creation.
type Config struct {
	APIBaseURL   string `json:"apiBaseUrl"`
	BrokerURL    string `json:"brokerUrl"`
	TopicRoot    string `json:"topicRoot"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`

	// AccountID is the vendor cloud's account ("home") identifier. It
	// scopes the MQTT topic tree and keys the physical session, so two
	// connectors on the same account share one broker session.
	AccountID string `json:"accountId"`

	Creds *drivers.Credentials `json:"credentials,omitempty"`
}

func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("mqtt-hub config: apiBaseUrl is required")
	}
	if c.BrokerURL == "" {
		return fmt.Errorf("mqtt-hub config: brokerUrl is required")
	}
	if u, err := url.Parse(c.BrokerURL); err != nil || (u.Scheme != "mqtt" && u.Scheme != "mqtts" && u.Scheme != "tcp" && u.Scheme != "ssl") {
		return fmt.Errorf("mqtt-hub config: brokerUrl must be a mqtt://, mqtts://, tcp:// or ssl:// URL")
	}
	if c.TopicRoot == "" {
		return fmt.Errorf("mqtt-hub config: topicRoot is required")
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("mqtt-hub config: clientId and clientSecret are required")
	}
	if c.AccountID == "" {
		return fmt.Errorf("mqtt-hub config: accountId is required")
	}
	return nil
}

func (c *Config) Credentials() *drivers.Credentials { return c.Creds }

func (c *Config) SetCredentials(creds *drivers.Credentials) { c.Creds = creds }

// SessionKey ties the physical broker session to the cloud account, not
// the connector: one account gets exactly one subscription.
func (c *Config) SessionKey(uuid.UUID) string {
	return "mqtt-hub:" + c.AccountID
}

func (c *Config) eventTopic() string {
	return c.TopicRoot + "/" + c.AccountID + "/+/report"
}
