package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fusion.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f != Default() {
		t.Error("missing file did not fall back to defaults")
	}
}

func TestLoadSparseOverride(t *testing.T) {
	path := writeConfig(t, `
sessions:
  backoff_base_ms: 2000
pipeline:
  nats_subject: staging.events
`)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := f.Sessions.BackoffBase(); got != 2*time.Second {
		t.Errorf("backoff base = %v, want 2s", got)
	}
	if f.Pipeline.NatsSubject != "staging.events" {
		t.Errorf("nats subject = %q", f.Pipeline.NatsSubject)
	}

	// everything not overridden keeps its default
	d := Default()
	if f.Sessions.ConnectTimeout() != d.Sessions.ConnectTimeout() {
		t.Error("connect timeout lost its default")
	}
	if f.Automation.MaxConcurrentPerOrg != d.Automation.MaxConcurrentPerOrg {
		t.Error("automation concurrency lost its default")
	}
}

func TestLoadZeroValuesBackfilled(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  queue_size: 0
  dedup_window_ms: -5
automation:
  http_timeout_ms: 0
`)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := Default()
	if f.Pipeline.QueueSize != d.Pipeline.QueueSize {
		t.Errorf("queue size = %d, zero override should backfill", f.Pipeline.QueueSize)
	}
	if f.Pipeline.DedupWindow() != d.Pipeline.DedupWindow() {
		t.Errorf("dedup window = %v, negative override should backfill", f.Pipeline.DedupWindow())
	}
	if f.Automation.HTTPTimeout() != d.Automation.HTTPTimeout() {
		t.Errorf("http timeout = %v, zero override should backfill", f.Automation.HTTPTimeout())
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "sessions: [not a map")
	if _, err := Load(path); err == nil {
		t.Fatal("malformed yaml accepted")
	}
}

func TestDurationGetters(t *testing.T) {
	f := Default()
	if f.Media.TokenTTL() != 15*time.Minute {
		t.Errorf("token ttl = %v", f.Media.TokenTTL())
	}
	if f.Arming.TickInterval() != time.Minute {
		t.Errorf("arming tick = %v", f.Arming.TickInterval())
	}
}
