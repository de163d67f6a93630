// Package metrics defines the Prometheus collectors for the platform.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineRuns counts completed detections by outcome ("inferred" or "degraded").
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodsync_pipeline_runs_total",
			Help: "Completed mood detections by outcome",
		},
		[]string{"outcome"},
	)

	// PipelineFailures counts degradations by cause code.
	PipelineFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodsync_pipeline_failures_total",
			Help: "Mood detections that degraded, by failure code",
		},
		[]string{"stage", "code"},
	)

	// PipelineDuration observes end-to-end detection latency.
	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "moodsync_pipeline_duration_seconds",
			Help:    "End-to-end mood detection latency",
			Buckets: []float64{0.5, 1, 2, 3, 4, 5, 6, 8, 10, 15},
		},
	)

	// StageDuration observes per-stage latency.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moodsync_stage_duration_seconds",
			Help:    "Latency of each pipeline stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// ConfidencePercent observes emitted confidences.
	ConfidencePercent = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "moodsync_confidence_percent",
			Help:    "Confidence of emitted mood signals",
			Buckets: prometheus.LinearBuckets(50, 5, 11),
		},
	)

	// DetectionsInFlight tracks running detections.
	DetectionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "moodsync_detections_in_flight",
			Help: "Mood detections currently running",
		},
	)

	// InferenceRequests counts upstream calls by endpoint and result.
	InferenceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodsync_inference_requests_total",
			Help: "Requests to the emotion inference service",
		},
		[]string{"endpoint", "result"},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "moodsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// CircuitBreakerTransitions counts state changes.
	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodsync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// WebsocketClients tracks connected event subscribers.
	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "moodsync_websocket_clients",
			Help: "Connected websocket clients",
		},
	)

	// EventsDropped counts events not delivered because a buffer was full.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moodsync_events_dropped_total",
			Help: "Mood events dropped on a full buffer",
		},
	)
)
