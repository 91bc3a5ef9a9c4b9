package pipeline

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pulsegrid/fusion/internal/model"
)

// Dedup suppresses redelivered events inside a sliding window. Keys are
// kept in an LRU so memory stays bounded no matter how chatty a
// connector gets.
type Dedup struct {
	cache  *lru.Cache[string, time.Time]
	window time.Duration
}

func NewDedup(maxKeys int, window time.Duration) *Dedup {
	c, _ := lru.New[string, time.Time](maxKeys)
	return &Dedup{cache: c, window: window}
}

// Contains reports whether the key was recorded inside the window. It
// never records; deliveries are only marked seen once the row actually
// persisted, so a failed insert stays retryable on redelivery.
func (d *Dedup) Contains(key string) bool {
	addedAt, ok := d.cache.Get(key)
	return ok && time.Since(addedAt) < d.window
}

// Record marks the key as seen. Expired entries are refreshed in place.
func (d *Dedup) Record(key string) {
	d.cache.Add(key, time.Now())
}

// Seen is Contains plus Record in one step, for callers without a
// persistence boundary between check and commit.
func (d *Dedup) Seen(key string) bool {
	if d.Contains(key) {
		return true
	}
	d.Record(key)
	return false
}

// contentKey collapses near-simultaneous redeliveries that arrive under
// different vendor event ids. Timestamps are bucketed to the window so
// micro-timing differences do not defeat the check.
func contentKey(e *model.StandardizedEvent, window time.Duration) string {
	bucket := e.Timestamp.Truncate(window).Unix()
	return fmt.Sprintf("%s|%s|%s|%d", e.ConnectorID, e.DeviceID, e.Type, bucket)
}
