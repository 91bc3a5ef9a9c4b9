package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParseEventFilterDefaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/events", nil)
	f, err := parseEventFilter(r)
	if err != nil {
		t.Fatalf("parseEventFilter: %v", err)
	}
	if f.Limit != defaultEventLimit {
		t.Errorf("limit = %d, want %d", f.Limit, defaultEventLimit)
	}
	if f.ConnectorID != nil || f.DeviceID != nil || f.Since != nil {
		t.Error("empty query produced non-empty filter")
	}
}

func TestParseEventFilterLimitClamped(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/events?limit=9999", nil)
	f, err := parseEventFilter(r)
	if err != nil {
		t.Fatalf("parseEventFilter: %v", err)
	}
	if f.Limit != maxEventLimit {
		t.Errorf("limit = %d, want clamp to %d", f.Limit, maxEventLimit)
	}

	for _, bad := range []string{"0", "-5", "lots"} {
		r := httptest.NewRequest("GET", "/api/v1/events?limit="+bad, nil)
		if _, err := parseEventFilter(r); err == nil {
			t.Errorf("limit=%s accepted", bad)
		}
	}
}

func TestParseEventFilterFields(t *testing.T) {
	connID := uuid.New()
	r := httptest.NewRequest("GET",
		"/api/v1/events?connectorId="+connID.String()+"&type=STATE_CHANGED&since=2026-08-26T00:00:00Z", nil)
	f, err := parseEventFilter(r)
	if err != nil {
		t.Fatalf("parseEventFilter: %v", err)
	}
	if f.ConnectorID == nil || *f.ConnectorID != connID {
		t.Error("connectorId not parsed")
	}
	if string(f.Type) != "STATE_CHANGED" {
		t.Errorf("type = %q", f.Type)
	}
	if f.Since == nil || !f.Since.Equal(time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("since = %v", f.Since)
	}
}

func TestParseEventFilterBadValues(t *testing.T) {
	for _, q := range []string{
		"connectorId=nope",
		"deviceId=nope",
		"since=yesterday",
		"cursor=garbage",
	} {
		r := httptest.NewRequest("GET", "/api/v1/events?"+q, nil)
		if _, err := parseEventFilter(r); err == nil {
			t.Errorf("query %q accepted", q)
		}
	}
}

func TestCursorRoundTrip(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2026, 8, 26, 14, 30, 0, 123456789, time.UTC)

	gotTime, gotID, err := decodeCursor(encodeCursor(ts, id))
	if err != nil {
		t.Fatalf("decodeCursor: %v", err)
	}
	if !gotTime.Equal(ts) {
		t.Errorf("time = %v, want %v", gotTime, ts)
	}
	if gotID != id {
		t.Errorf("id = %s, want %s", gotID, id)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "no-pipe", "2026-08-26T00:00:00Z|not-a-uuid", "when|" + uuid.NewString()} {
		if _, _, err := decodeCursor(s); err == nil {
			t.Errorf("cursor %q accepted", s)
		}
	}
}

func TestParseEventFilterCursor(t *testing.T) {
	id := uuid.New()
	ts := time.Now().UTC().Truncate(time.Millisecond)

	r := httptest.NewRequest("GET", "/api/v1/events?cursor="+encodeCursor(ts, id), nil)
	f, err := parseEventFilter(r)
	if err != nil {
		t.Fatalf("parseEventFilter: %v", err)
	}
	if f.AfterTime == nil || !f.AfterTime.Equal(ts) {
		t.Errorf("afterTime = %v, want %v", f.AfterTime, ts)
	}
	if f.AfterID == nil || *f.AfterID != id {
		t.Error("afterID not parsed from cursor")
	}
}
