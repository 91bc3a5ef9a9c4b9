package pipeline

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/metrics"
)

const subscriberBuffer = 64

// Hub is the in-process fan-out feeding live event streams. Subscribers
// are grouped by org; a subscriber that cannot keep up has events
// dropped rather than stalling the pipeline.
type Hub struct {
	logger *logrus.Logger

	mu   sync.RWMutex
	subs map[uuid.UUID]map[*Subscription]struct{}
}

type Subscription struct {
	C     chan *data.Event
	orgID uuid.UUID
	hub   *Hub
	once  sync.Once
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[uuid.UUID]map[*Subscription]struct{}),
	}
}

func (h *Hub) Subscribe(orgID uuid.UUID) *Subscription {
	sub := &Subscription{
		C:     make(chan *data.Event, subscriberBuffer),
		orgID: orgID,
		hub:   h,
	}
	h.mu.Lock()
	if h.subs[orgID] == nil {
		h.subs[orgID] = make(map[*Subscription]struct{})
	}
	h.subs[orgID][sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Close detaches the subscription. Safe to call more than once; the
// channel is closed so ranging consumers terminate.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if set, ok := s.hub.subs[s.orgID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.hub.subs, s.orgID)
			}
		}
		s.hub.mu.Unlock()
		close(s.C)
	})
}

// Broadcast delivers the event to every subscriber of its org,
// non-blocking: a full subscriber buffer drops the event for that
// subscriber only.
func (h *Hub) Broadcast(e *data.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[e.OrganizationID] {
		select {
		case sub.C <- e:
		default:
			metrics.EventsDropped.WithLabelValues("slow_subscriber").Inc()
			h.logger.WithField("org_id", e.OrganizationID).
				Debug("dropping event for slow stream subscriber")
		}
	}
}
