// Package orchestrator owns the current mood and fans out pipeline progress.
package orchestrator

import (
	"context"
	"time"

	apperrors "github.com/moodsync/platform/internal/errors"
	"github.com/moodsync/platform/internal/metrics"
	"github.com/moodsync/platform/internal/mood"
	"github.com/moodsync/platform/internal/pipeline"
	"github.com/moodsync/platform/internal/syncx"
	"github.com/moodsync/platform/internal/trace"
)

// Source says where the current mood came from.
type Source string

// Mood sources.
const (
	SourceDetected Source = "detected"
	SourceManual   Source = "manual"
)

// Current is the mood last recorded.
type Current struct {
	Signal       mood.Signal `json:"signal"`
	Source       Source      `json:"source"`
	InvocationID string      `json:"invocationId,omitempty"`
	At           time.Time   `json:"at"`
}

// EventType tags an Event.
type EventType string

// Event types.
const (
	EventState EventType = "state"
	EventBusy  EventType = "busy"
	EventMood  EventType = "mood"
)

// Event is a progress or mood update pushed to subscribers.
type Event struct {
	Type  EventType `json:"type"`
	ID    string    `json:"id,omitempty"`
	State string    `json:"state,omitempty"`
	Busy  *bool     `json:"busy,omitempty"`
	Mood  *Current  `json:"mood,omitempty"`
}

// Detector runs one detection.
type Detector interface {
	Run(ctx context.Context) pipeline.Result
}

// Manager coordinates detections and manual selection.
type Manager struct {
	detector Detector
	current  *syncx.Guard[Current]
	events   *syncx.Broadcaster[Event]
	now      func() time.Time
}

// New creates a manager. The detector is attached with SetDetector once the
// pipeline has been built with the manager as an observer.
func New() *Manager {
	return &Manager{
		current: syncx.NewGuard[Current](),
		events:  syncx.NewBroadcaster[Event](EventBuffer),
		now:     time.Now,
	}
}

// SetDetector attaches the pipeline. Call before serving.
func (m *Manager) SetDetector(d Detector) {
	m.detector = d
}

// Detect runs the pipeline and records its signal. A degraded run still
// produces a signal and is recorded the same way.
func (m *Manager) Detect(ctx context.Context) (pipeline.Result, error) {
	if m.detector == nil {
		return pipeline.Result{}, apperrors.New(apperrors.CodeInternal, "no detector attached")
	}
	ctx, span := trace.StartSpan(ctx, "manager_detect")
	defer span.End()

	res := m.detector.Run(ctx)
	span.SetAttr("invocation_id", res.ID)
	if !res.Signal.Valid() {
		span.SetAttr("error", "invalid signal")
		return res, apperrors.Newf(apperrors.CodeInternal, "detector produced invalid signal %+v", res.Signal).
			WithMetadata("invocation_id", res.ID)
	}
	m.record(ctx, Current{Signal: res.Signal, Source: SourceDetected, InvocationID: res.ID})
	return res, nil
}

// Select records a manually chosen canonical emotion with ManualConfidence.
func (m *Manager) Select(ctx context.Context, label string) (Current, error) {
	e, ok := mood.Lookup(label)
	if !ok {
		return Current{}, apperrors.Newf(apperrors.CodeInvalidArgument, "unknown mood %q", label).
			WithMetadata("mood", label)
	}
	c := Current{
		Signal: mood.Signal{Label: string(e), ConfidencePercent: mood.ManualConfidence},
		Source: SourceManual,
	}
	return m.record(ctx, c), nil
}

// Current returns the mood last recorded, if any.
func (m *Manager) Current() (Current, bool) {
	return m.current.Load()
}

// Events subscribes to updates. Slow subscribers miss events rather than
// stall detection. The returned func unsubscribes.
func (m *Manager) Events() (<-chan Event, func()) {
	return m.events.Subscribe()
}

// Close ends every subscription.
func (m *Manager) Close() {
	m.events.Close()
}

// StateChanged implements pipeline.Observer.
func (m *Manager) StateChanged(id string, _, to pipeline.State) {
	m.publish(Event{Type: EventState, ID: id, State: to.String()})
}

// BusyChanged implements pipeline.Observer.
func (m *Manager) BusyChanged(id string, busy bool) {
	m.publish(Event{Type: EventBusy, ID: id, Busy: &busy})
}

func (m *Manager) record(ctx context.Context, c Current) Current {
	c.At = m.now()
	m.current.Store(c)
	trace.Logger(ctx).Info("mood updated", "label", c.Signal.Label, "confidence", c.Signal.ConfidencePercent, "source", c.Source)
	m.publish(Event{Type: EventMood, ID: c.InvocationID, Mood: &c})
	return c
}

func (m *Manager) publish(e Event) {
	if dropped := m.events.Publish(e); dropped > 0 {
		metrics.EventsDropped.Add(float64(dropped))
	}
}
