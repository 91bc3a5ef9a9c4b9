package notify

import (
	"errors"
	"time"

	"github.com/gregdel/pushover"
	"github.com/sirupsen/logrus"

	"github.com/pulsegrid/fusion/internal/metrics"
)

// ErrNotConfigured is returned when no app token was provided at boot.
var ErrNotConfigured = errors.New("push notifications not configured")

// Sender wraps the Pushover API behind the single call the automation
// engine needs. A Sender built without an app token degrades to an
// explicit error instead of a nil dereference.
type Sender struct {
	app    *pushover.Pushover
	logger *logrus.Logger
}

func NewSender(appToken string, logger *logrus.Logger) *Sender {
	s := &Sender{logger: logger}
	if appToken == "" {
		logger.Warn("push notifications disabled: no app token")
		return s
	}
	s.app = pushover.New(appToken)
	return s
}

// Send delivers one message to a recipient key (user or group).
// Emergency priority requires retry parameters, so they are filled in.
func (s *Sender) Send(recipientKey, title, message string, priority int) error {
	if s.app == nil {
		metrics.PushNotifications.WithLabelValues("skipped").Inc()
		return ErrNotConfigured
	}
	if priority < pushover.PriorityLowest || priority > pushover.PriorityEmergency {
		priority = pushover.PriorityNormal
	}

	msg := pushover.NewMessageWithTitle(message, title)
	msg.Priority = priority
	if priority == pushover.PriorityEmergency {
		msg.Retry = 60 * time.Second
		msg.Expire = time.Hour
	}

	_, err := s.app.SendMessage(msg, pushover.NewRecipient(recipientKey))
	if err != nil {
		metrics.PushNotifications.WithLabelValues("error").Inc()
		return err
	}
	metrics.PushNotifications.WithLabelValues("ok").Inc()
	return nil
}
