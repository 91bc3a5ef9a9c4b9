package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the tunables document (config/default.yaml). Endpoints and
// secrets never live here; they come from the environment.
type File struct {
	Sessions   SessionsFile   `yaml:"sessions"`
	Pipeline   PipelineFile   `yaml:"pipeline"`
	Automation AutomationFile `yaml:"automation"`
	Arming     ArmingFile     `yaml:"arming"`
	Media      MediaFile      `yaml:"media"`
}

type SessionsFile struct {
	ConnectTimeoutMs   int `yaml:"connect_timeout_ms"`
	SubscribeTimeoutMs int `yaml:"subscribe_timeout_ms"`
	BackoffBaseMs      int `yaml:"backoff_base_ms"`
	BackoffMaxMs       int `yaml:"backoff_max_ms"`
	ShutdownTimeoutMs  int `yaml:"shutdown_timeout_ms"`
}

func (s SessionsFile) ConnectTimeout() time.Duration   { return ms(s.ConnectTimeoutMs) }
func (s SessionsFile) SubscribeTimeout() time.Duration { return ms(s.SubscribeTimeoutMs) }
func (s SessionsFile) BackoffBase() time.Duration      { return ms(s.BackoffBaseMs) }
func (s SessionsFile) BackoffMax() time.Duration       { return ms(s.BackoffMaxMs) }
func (s SessionsFile) ShutdownTimeout() time.Duration  { return ms(s.ShutdownTimeoutMs) }

type PipelineFile struct {
	QueueSize       int    `yaml:"queue_size"`
	DedupMaxKeys    int    `yaml:"dedup_max_keys"`
	DedupWindowMs   int    `yaml:"dedup_window_ms"`
	StateTTLSeconds int    `yaml:"state_ttl_seconds"`
	NatsSubject     string `yaml:"nats_subject"`
	PublishRetryMax int    `yaml:"publish_retry_max"`
}

func (p PipelineFile) DedupWindow() time.Duration { return ms(p.DedupWindowMs) }
func (p PipelineFile) StateTTL() time.Duration    { return sec(p.StateTTLSeconds) }

type AutomationFile struct {
	MaxConcurrentPerOrg  int `yaml:"max_concurrent_per_org"`
	CacheTTLSeconds      int `yaml:"cache_ttl_seconds"`
	HTTPTimeoutMs        int `yaml:"http_timeout_ms"`
	CommandTimeoutMs     int `yaml:"command_timeout_ms"`
	ScheduleGraceSeconds int `yaml:"schedule_grace_seconds"`
	TickIntervalMs       int `yaml:"tick_interval_ms"`
}

func (a AutomationFile) CacheTTL() time.Duration       { return sec(a.CacheTTLSeconds) }
func (a AutomationFile) HTTPTimeout() time.Duration    { return ms(a.HTTPTimeoutMs) }
func (a AutomationFile) CommandTimeout() time.Duration { return ms(a.CommandTimeoutMs) }
func (a AutomationFile) ScheduleGrace() time.Duration  { return sec(a.ScheduleGraceSeconds) }
func (a AutomationFile) TickInterval() time.Duration   { return ms(a.TickIntervalMs) }

type ArmingFile struct {
	TickIntervalMs int `yaml:"tick_interval_ms"`
}

func (a ArmingFile) TickInterval() time.Duration { return ms(a.TickIntervalMs) }

type MediaFile struct {
	TokenTTLSeconds int `yaml:"token_ttl_seconds"`
}

func (m MediaFile) TokenTTL() time.Duration { return sec(m.TokenTTLSeconds) }

func ms(v int) time.Duration  { return time.Duration(v) * time.Millisecond }
func sec(v int) time.Duration { return time.Duration(v) * time.Second }

// Default returns the compiled-in tunables. The YAML file only needs to
// carry overrides.
func Default() File {
	return File{
		Sessions: SessionsFile{
			ConnectTimeoutMs:   15000,
			SubscribeTimeoutMs: 10000,
			BackoffBaseMs:      5000,
			BackoffMaxMs:       60000,
			ShutdownTimeoutMs:  10000,
		},
		Pipeline: PipelineFile{
			QueueSize:       1024,
			DedupMaxKeys:    4096,
			DedupWindowMs:   5000,
			StateTTLSeconds: 86400,
			NatsSubject:     "fusion.events",
			PublishRetryMax: 3,
		},
		Automation: AutomationFile{
			MaxConcurrentPerOrg:  16,
			CacheTTLSeconds:      60,
			HTTPTimeoutMs:        30000,
			CommandTimeoutMs:     10000,
			ScheduleGraceSeconds: 300,
			TickIntervalMs:       60000,
		},
		Arming: ArmingFile{
			TickIntervalMs: 60000,
		},
		Media: MediaFile{
			TokenTTLSeconds: 900,
		},
	}
}

// Load reads the tunables file, layering it over the defaults. A missing
// file is not an error; a malformed one is.
func Load(path string) (File, error) {
	f := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return f, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Default(), fmt.Errorf("parse config %s: %w", path, err)
	}
	f.normalize()
	return f, nil
}

// normalize backfills zero values so a sparse override file cannot turn
// off timeouts or shrink queues to nothing.
func (f *File) normalize() {
	d := Default()
	if f.Sessions.ConnectTimeoutMs <= 0 {
		f.Sessions.ConnectTimeoutMs = d.Sessions.ConnectTimeoutMs
	}
	if f.Sessions.SubscribeTimeoutMs <= 0 {
		f.Sessions.SubscribeTimeoutMs = d.Sessions.SubscribeTimeoutMs
	}
	if f.Sessions.BackoffBaseMs <= 0 {
		f.Sessions.BackoffBaseMs = d.Sessions.BackoffBaseMs
	}
	if f.Sessions.BackoffMaxMs <= 0 {
		f.Sessions.BackoffMaxMs = d.Sessions.BackoffMaxMs
	}
	if f.Sessions.ShutdownTimeoutMs <= 0 {
		f.Sessions.ShutdownTimeoutMs = d.Sessions.ShutdownTimeoutMs
	}
	if f.Pipeline.QueueSize <= 0 {
		f.Pipeline.QueueSize = d.Pipeline.QueueSize
	}
	if f.Pipeline.DedupMaxKeys <= 0 {
		f.Pipeline.DedupMaxKeys = d.Pipeline.DedupMaxKeys
	}
	if f.Pipeline.DedupWindowMs <= 0 {
		f.Pipeline.DedupWindowMs = d.Pipeline.DedupWindowMs
	}
	if f.Pipeline.StateTTLSeconds <= 0 {
		f.Pipeline.StateTTLSeconds = d.Pipeline.StateTTLSeconds
	}
	if f.Pipeline.NatsSubject == "" {
		f.Pipeline.NatsSubject = d.Pipeline.NatsSubject
	}
	if f.Pipeline.PublishRetryMax <= 0 {
		f.Pipeline.PublishRetryMax = d.Pipeline.PublishRetryMax
	}
	if f.Automation.MaxConcurrentPerOrg <= 0 {
		f.Automation.MaxConcurrentPerOrg = d.Automation.MaxConcurrentPerOrg
	}
	if f.Automation.CacheTTLSeconds <= 0 {
		f.Automation.CacheTTLSeconds = d.Automation.CacheTTLSeconds
	}
	if f.Automation.HTTPTimeoutMs <= 0 {
		f.Automation.HTTPTimeoutMs = d.Automation.HTTPTimeoutMs
	}
	if f.Automation.CommandTimeoutMs <= 0 {
		f.Automation.CommandTimeoutMs = d.Automation.CommandTimeoutMs
	}
	if f.Automation.ScheduleGraceSeconds <= 0 {
		f.Automation.ScheduleGraceSeconds = d.Automation.ScheduleGraceSeconds
	}
	if f.Automation.TickIntervalMs <= 0 {
		f.Automation.TickIntervalMs = d.Automation.TickIntervalMs
	}
	if f.Arming.TickIntervalMs <= 0 {
		f.Arming.TickIntervalMs = d.Arming.TickIntervalMs
	}
	if f.Media.TokenTTLSeconds <= 0 {
		f.Media.TokenTTLSeconds = d.Media.TokenTTLSeconds
	}
}
