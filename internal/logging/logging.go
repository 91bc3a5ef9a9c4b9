package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is re-exported so callers do not import logrus just for field maps.
type Fields = logrus.Fields

// New creates the service root logger. Level comes from LOG_LEVEL.
func New() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(levelFromEnv())
	return logger
}

// NewWithService returns a logger whose entries all carry a service field.
func NewWithService(serviceName string) *logrus.Logger {
	logger := New()
	logger = logger.WithField("service", serviceName).Logger
	return logger
}

// ForOrg derives an org-tagged entry. Every subsystem log line that acts
// on tenant data goes through one of these.
func ForOrg(logger *logrus.Logger, orgID string) *logrus.Entry {
	return logger.WithField("org_id", orgID)
}

func levelFromEnv() logrus.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
