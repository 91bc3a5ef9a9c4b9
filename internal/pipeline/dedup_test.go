package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/model"
)

func TestDedupSeen(t *testing.T) {
	d := NewDedup(128, time.Minute)

	if d.Seen("evt-1") {
		t.Fatal("first sighting reported as duplicate")
	}
	if !d.Seen("evt-1") {
		t.Fatal("second sighting inside window not reported as duplicate")
	}
	if d.Seen("evt-2") {
		t.Fatal("unrelated key reported as duplicate")
	}
}

func TestDedupContainsDoesNotRecord(t *testing.T) {
	d := NewDedup(128, time.Minute)

	if d.Contains("evt-1") {
		t.Fatal("unseen key reported as present")
	}
	if d.Contains("evt-1") {
		t.Fatal("a lookup alone must not mark a key as seen")
	}

	d.Record("evt-1")
	if !d.Contains("evt-1") {
		t.Fatal("recorded key not reported as present")
	}
}

func TestDedupWindowExpiry(t *testing.T) {
	d := NewDedup(128, 10*time.Millisecond)

	if d.Seen("evt-1") {
		t.Fatal("first sighting reported as duplicate")
	}
	time.Sleep(25 * time.Millisecond)
	if d.Seen("evt-1") {
		t.Fatal("sighting after window expiry still reported as duplicate")
	}
}

func TestDedupEviction(t *testing.T) {
	d := NewDedup(2, time.Minute)

	d.Seen("a")
	d.Seen("b")
	d.Seen("c") // evicts "a"

	if d.Seen("a") {
		t.Fatal("evicted key still reported as duplicate")
	}
}

func TestContentKeyBucketsTimestamps(t *testing.T) {
	connID := uuid.New()
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	window := 5 * time.Second

	ev := func(ts time.Time) *model.StandardizedEvent {
		return &model.StandardizedEvent{
			ConnectorID: connID,
			DeviceID:    "sensor-7",
			Type:        model.TypeStateChanged,
			Timestamp:   ts,
		}
	}

	k1 := contentKey(ev(base), window)
	k2 := contentKey(ev(base.Add(2*time.Second)), window)
	if k1 != k2 {
		t.Errorf("events %v apart inside the window got different keys:\n%s\n%s", 2*time.Second, k1, k2)
	}

	k3 := contentKey(ev(base.Add(7*time.Second)), window)
	if k1 == k3 {
		t.Error("events in different buckets share a key")
	}

	other := ev(base)
	other.DeviceID = "sensor-8"
	if contentKey(other, window) == k1 {
		t.Error("different devices share a content key")
	}

	want := fmt.Sprintf("%s|sensor-7|STATE_CHANGED|%d", connID, base.Truncate(window).Unix())
	if k1 != want {
		t.Errorf("key = %q, want %q", k1, want)
	}
}
