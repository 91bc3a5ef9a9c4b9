package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pulsegrid/fusion/internal/model"
)

// StateCache keeps the latest display state per device in Redis. The
// cache is volatile: entries expire, and a miss just means the caller
// falls back to "unknown". Failures are the caller's to log, never to
// fail an event on.
type StateCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStateCache(client *redis.Client, ttl time.Duration) *StateCache {
	return &StateCache{client: client, ttl: ttl}
}

func stateKey(orgID uuid.UUID, deviceExternalID string) string {
	return fmt.Sprintf("fusion:state:%s:%s", orgID, deviceExternalID)
}

func (c *StateCache) Set(ctx context.Context, orgID uuid.UUID, deviceExternalID string, state model.DisplayState) error {
	return c.client.Set(ctx, stateKey(orgID, deviceExternalID), string(state), c.ttl).Err()
}

// Get returns the cached state, or "" on a miss.
func (c *StateCache) Get(ctx context.Context, orgID uuid.UUID, deviceExternalID string) (model.DisplayState, error) {
	v, err := c.client.Get(ctx, stateKey(orgID, deviceExternalID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return model.DisplayState(v), nil
}
