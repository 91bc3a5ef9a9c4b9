package mqtthub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/pulsegrid/fusion/internal/drivers"
	"github.com/pulsegrid/fusion/internal/metrics"
)

const (
	subscribeTimeout = 10 * time.Second
	keepAlive        = 30 * time.Second
	frameBuffer      = 256
)

// session wraps one paho client subscribed to the account's report
// topic. Paho auto-reconnect is off: connection loss surfaces on Err()
// and the session manager owns the retry policy.
type session struct {
	client    mqtt.Client
	frames    chan drivers.Frame
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once
}

func (d *Driver) Connect(ctx context.Context, ref drivers.ConnectorRef, cfg drivers.Config) (drivers.Session, error) {
	c, err := asConfig(cfg)
	if err != nil {
		return nil, err
	}
	creds := c.Credentials()
	if creds == nil || creds.AccessToken == "" {
		return nil, fmt.Errorf("mqtt-hub connect: %w: no access token in config", drivers.ErrAuth)
	}

	s := &session{
		frames: make(chan drivers.Frame, frameBuffer),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(normalizeBrokerURL(c.BrokerURL)).
		SetClientID("fusion-" + ref.ID.String()).
		SetUsername(creds.AccessToken).
		SetPassword("").
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetKeepAlive(keepAlive).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.reportError(err)
		})

	client := mqtt.NewClient(opts)
	s.client = client

	if err := waitToken(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return nil, classifyConnectError(err)
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case <-s.done:
			return
		default:
		}
		frame := drivers.Frame{
			Topic:      msg.Topic(),
			Data:       msg.Payload(),
			ReceivedAt: time.Now().UTC(),
		}
		// Never block the paho read loop; the pipeline's bounded inlet
		// is the real backpressure point.
		select {
		case s.frames <- frame:
		case <-s.done:
		default:
			metrics.EventsDropped.WithLabelValues("session_overflow").Inc()
			logrus.WithFields(logrus.Fields{
				"connector_id": ref.ID,
				"topic":        frame.Topic,
			}).Warn("mqtt-hub frame buffer full, dropping message")
		}
	}

	subCtx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	defer cancel()
	if err := waitToken(subCtx, client.Subscribe(c.eventTopic(), 1, handler)); err != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("mqtt-hub subscribe %s: %w", c.eventTopic(), err)
	}

	return s, nil
}

func (s *session) Frames() <-chan drivers.Frame { return s.frames }

func (s *session) Err() <-chan error { return s.errs }

// Close disconnects the client. The frames channel is deliberately
/// left open: paho may still deliver in-flight messages to the handler
// after Disconnect returns, and the handler bails out on done instead.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.client.Disconnect(250)
	})
	return nil
}

func (s *session) reportError(err error) {
	if err == nil {
		err = fmt.Errorf("mqtt-hub: connection lost")
	}
	select {
	case s.errs <- err:
	default:
	}
}

// waitToken bounds a paho token wait with the caller's context.
func waitToken(ctx context.Context, token mqtt.Token) error {
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return token.Error()
	}
}

// classifyConnectError distinguishes credential rejections (terminal,
// trigger a refresh) from transient transport failures.
func classifyConnectError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not authorized") ||
		strings.Contains(msg, "not authorised") ||
		strings.Contains(msg, "bad user name or password") {
		return fmt.Errorf("mqtt-hub connect: %w: %v", drivers.ErrAuth, err)
	}
	return fmt.Errorf("mqtt-hub connect: %w", err)
}

// normalizeBrokerURL maps mqtt:// and mqtts:// schemes onto the tcp://
// and ssl:// forms paho expects.
func normalizeBrokerURL(u string) string {
	switch {
	case strings.HasPrefix(u, "mqtt://"):
		return "tcp://" + strings.TrimPrefix(u, "mqtt://")
	case strings.HasPrefix(u, "mqtts://"):
		return "ssl://" + strings.TrimPrefix(u, "mqtts://")
	}
	return u
}
