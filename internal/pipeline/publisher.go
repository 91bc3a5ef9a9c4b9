package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pulsegrid/fusion/internal/data"
)

// Publisher mirrors processed events onto a NATS subject per org so
// sibling services can consume the stream without touching the database.
type Publisher struct {
	conn        *nats.Conn
	subjectRoot string
	maxRetries  int
}

func NewPublisher(conn *nats.Conn, subjectRoot string, maxRetries int) *Publisher {
	return &Publisher{
		conn:        conn,
		subjectRoot: subjectRoot,
		maxRetries:  maxRetries,
	}
}

func (p *Publisher) Publish(e *data.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", p.subjectRoot, e.OrganizationID)

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(subject, payload)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
	}
	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}
