package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_events_ingested_total",
		Help: "Standardized events accepted by the pipeline",
	}, []string{"category"})

	EventsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fusion_events_deduplicated_total",
		Help: "Events dropped as duplicates inside the dedup window",
	})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_events_dropped_total",
		Help: "Events dropped before processing",
	}, []string{"reason"})

	ParseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_parse_failures_total",
		Help: "Vendor frames that could not be decoded",
	}, []string{"category"})

	SessionsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fusion_sessions_connected",
		Help: "Connector sessions currently in CONNECTED state",
	})

	SessionReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_session_reconnects_total",
		Help: "Reconnect attempts by connector category",
	}, []string{"category"})

	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_token_refreshes_total",
		Help: "Credential refresh attempts",
	}, []string{"result"})

	AutomationExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_automation_executions_total",
		Help: "Automation executions by terminal status",
	}, []string{"status"})

	AutomationActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_automation_actions_total",
		Help: "Automation actions by type and terminal status",
	}, []string{"type", "status"})

	AutomationRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fusion_automation_rejected_total",
		Help: "Executions rejected because the per-org concurrency cap was reached",
	})

	ArmingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_arming_transitions_total",
		Help: "Area armed-state transitions",
	}, []string{"state", "reason"})

	PushNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_push_notifications_total",
		Help: "Push notifications sent",
	}, []string{"result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_http_requests_total",
		Help: "API requests by method, route and status",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fusion_http_request_duration_seconds",
		Help:    "API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
