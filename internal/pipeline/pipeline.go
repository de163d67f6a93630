// Package pipeline runs one mood detection: capture, submit, parse and
// calibrate, falling back to a simulated signal on any failure.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moodsync/platform/internal/audio"
	"github.com/moodsync/platform/internal/calibrate"
	"github.com/moodsync/platform/internal/degrade"
	apperrors "github.com/moodsync/platform/internal/errors"
	"github.com/moodsync/platform/internal/inference"
	"github.com/moodsync/platform/internal/metrics"
	"github.com/moodsync/platform/internal/mood"
	"github.com/moodsync/platform/internal/normalize"
	"github.com/moodsync/platform/internal/trace"
)

// DefaultIndicatorCeiling bounds how long the busy indicator stays on.
const DefaultIndicatorCeiling = 4 * time.Second

// Capturer records a voice sample.
type Capturer interface {
	Capture(ctx context.Context, d time.Duration) (audio.Payload, error)
}

// Submitter sends a sample for analysis and returns the raw response.
type Submitter interface {
	Submit(ctx context.Context, p audio.Payload, deadline time.Duration) ([]byte, error)
}

// Normalizer extracts an emotion and raw confidence from a response.
type Normalizer interface {
	Normalize(raw []byte) (normalize.Match, error)
}

// Calibrator maps a raw confidence to a percentage.
type Calibrator interface {
	Calibrate(raw float64) int
}

// Degrader produces a fallback signal.
type Degrader interface {
	Degrade(ctx context.Context) mood.Signal
}

// Config holds timing for one invocation.
type Config struct {
	CaptureDuration  time.Duration
	SubmitDeadline   time.Duration
	DegradeDelay     time.Duration
	IndicatorCeiling time.Duration
}

func (c Config) withDefaults() Config {
	if c.CaptureDuration <= 0 {
		c.CaptureDuration = audio.DefaultDuration
	}
	if c.SubmitDeadline <= 0 {
		c.SubmitDeadline = inference.DefaultDeadline
	}
	if c.DegradeDelay < 0 {
		c.DegradeDelay = 0
	}
	if c.IndicatorCeiling <= 0 {
		c.IndicatorCeiling = DefaultIndicatorCeiling
	}
	return c
}

// Result describes a finished invocation. Degraded and Cause are for logs
// and metrics; callers facing the user should only surface Signal.
type Result struct {
	ID       string
	Signal   mood.Signal
	Degraded bool
	Cause    error
	Path     []State
	Elapsed  time.Duration
}

// Pipeline wires the stages together.
type Pipeline struct {
	cfg       Config
	capture   Capturer
	submit    Submitter
	norm      Normalizer
	cal       Calibrator
	degrade   Degrader
	observers []Observer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNormalizer replaces the response normalizer.
func WithNormalizer(n Normalizer) Option { return func(p *Pipeline) { p.norm = n } }

// WithCalibrator replaces the confidence calibrator.
func WithCalibrator(c Calibrator) Option { return func(p *Pipeline) { p.cal = c } }

// WithDegrader replaces the fallback.
func WithDegrader(d Degrader) Option { return func(p *Pipeline) { p.degrade = d } }

// WithObserver adds a progress observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observers = append(p.observers, o) }
}

// New creates a pipeline. Unset stages get their default implementations.
func New(cfg Config, c Capturer, s Submitter, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg.withDefaults(), capture: c, submit: s}
	for _, o := range opts {
		o(p)
	}
	if p.norm == nil {
		p.norm = normalize.New()
	}
	if p.cal == nil {
		p.cal = calibrate.New(nil)
	}
	if p.degrade == nil {
		p.degrade = degrade.New(p.cfg.DegradeDelay)
	}
	return p
}

// Config returns the effective timing.
func (p *Pipeline) Config() Config { return p.cfg }

// Bound is the longest a Run can take before producing its signal. Capture
// and submit each get stageSlack on top of their own limits.
func (p *Pipeline) Bound() time.Duration {
	return p.cfg.CaptureDuration + audio.CaptureGrace + p.cfg.SubmitDeadline + 2*stageSlack + p.cfg.DegradeDelay
}

// Extra time the pipeline grants a stage past its own deadline before
// abandoning it.
const stageSlack = 250 * time.Millisecond

// Run performs one detection. It always returns a valid signal; failures are
// logged and recorded on the Result.
func (p *Pipeline) Run(ctx context.Context) Result {
	inv := &invocation{id: uuid.NewString(), observers: p.observers, start: time.Now()}
	ctx, span := trace.StartSpan(ctx, "mood_pipeline")
	defer span.End()
	span.SetAttr("invocation_id", inv.id)
	log := trace.Logger(ctx).With("invocation_id", inv.id)
	inv.log = log

	metrics.DetectionsInFlight.Inc()
	defer metrics.DetectionsInFlight.Dec()

	inv.path = []State{Idle}
	clearBusy := inv.busy(p.cfg.IndicatorCeiling)
	defer clearBusy()

	res := Result{ID: inv.id}
	sig, stage, err := p.detect(ctx, inv)
	if err != nil {
		log.Warn("mood detection failed, using simulated signal", "stage", stage.String(), "error", err)
		metrics.PipelineFailures.WithLabelValues(stage.String(), causeLabel(err)).Inc()
		span.SetAttr("error", err.Error())

		inv.transition(Degrading)
		stageStart := time.Now()
		sig = p.degrade.Degrade(ctx)
		metrics.StageDuration.WithLabelValues(Degrading.String()).Observe(time.Since(stageStart).Seconds())
		res.Degraded = true
		res.Cause = err
	}
	inv.transition(Done)
	clearBusy()

	res.Signal = sig
	res.Path = inv.path
	res.Elapsed = time.Since(inv.start)

	outcome := "inferred"
	if res.Degraded {
		outcome = "degraded"
	}
	metrics.PipelineRuns.WithLabelValues(outcome).Inc()
	metrics.PipelineDuration.Observe(res.Elapsed.Seconds())
	metrics.ConfidencePercent.Observe(float64(sig.ConfidencePercent))
	span.SetAttr("outcome", outcome)
	log.Info("mood signal ready", "label", sig.Label, "confidence", sig.ConfidencePercent, "outcome", outcome, "elapsed", res.Elapsed)
	return res
}

// detect runs the happy path, returning the failing stage on error.
func (p *Pipeline) detect(ctx context.Context, inv *invocation) (mood.Signal, State, error) {
	inv.transition(Capturing)
	payload, err := timed(Capturing, func() (audio.Payload, error) {
		cctx, cancel := context.WithTimeout(ctx, p.cfg.CaptureDuration+audio.CaptureGrace+stageSlack)
		defer cancel()
		payload, err := bounded(cctx, func(c context.Context) (audio.Payload, error) {
			return p.capture.Capture(c, p.cfg.CaptureDuration)
		})
		return payload, stageError(ctx, err, apperrors.CodeDeviceUnavailable, "capture exceeded its bound")
	})
	if err != nil {
		return mood.Signal{}, Capturing, err
	}

	inv.transition(Submitting)
	raw, err := timed(Submitting, func() ([]byte, error) {
		sctx, cancel := context.WithTimeout(ctx, p.cfg.SubmitDeadline+stageSlack)
		defer cancel()
		raw, err := bounded(sctx, func(c context.Context) ([]byte, error) {
			return p.submit.Submit(c, payload, p.cfg.SubmitDeadline)
		})
		return raw, stageError(ctx, err, apperrors.CodeTimeout, "submit exceeded its deadline")
	})
	if err != nil {
		return mood.Signal{}, Submitting, err
	}

	inv.transition(Parsing)
	match, err := p.norm.Normalize(raw)
	if err != nil {
		return mood.Signal{}, Parsing, err
	}

	inv.transition(Calibrating)
	return mood.Signal{
		Label:             mood.FormatLabel(match.Emotion),
		ConfidencePercent: p.cal.Calibrate(match.Confidence),
	}, Calibrating, nil
}

// stageError turns a stage-bound expiry into a coded error. Expiry of the
// caller's own context is passed through unchanged.
func stageError(parent context.Context, err error, code apperrors.Code, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		if _, coded := apperrors.As(err); !coded {
			return apperrors.Wrap(err, code, msg)
		}
	}
	return err
}

// bounded runs fn on its own goroutine and gives up once ctx is done, so a
// stage that ignores its context cannot hold the invocation past its bound.
// An abandoned fn is left to finish on its own.
func bounded[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		select {
		case r := <-ch:
			return r.v, r.err
		default:
		}
		var zero T
		return zero, ctx.Err()
	}
}

func timed[T any](s State, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	metrics.StageDuration.WithLabelValues(s.String()).Observe(time.Since(start).Seconds())
	return v, err
}

func causeLabel(err error) string {
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return string(apperrors.CodeOf(err))
}

// invocation tracks one Run's state and busy indicator.
type invocation struct {
	id        string
	start     time.Time
	observers []Observer
	log       *slog.Logger

	state State
	path  []State

	clearOnce sync.Once
	timer     *time.Timer
}

func (inv *invocation) transition(to State) {
	from := inv.state
	if !CanTransition(from, to) && inv.log != nil {
		inv.log.Error("illegal pipeline transition", "from", from.String(), "to", to.String())
	}
	inv.state = to
	inv.path = append(inv.path, to)
	for _, o := range inv.observers {
		o.StateChanged(inv.id, from, to)
	}
}

// busy raises the indicator and returns an idempotent func lowering it.
// The indicator also drops on its own once ceiling elapses.
func (inv *invocation) busy(ceiling time.Duration) func() {
	for _, o := range inv.observers {
		o.BusyChanged(inv.id, true)
	}
	lower := func() {
		inv.clearOnce.Do(func() {
			for _, o := range inv.observers {
				o.BusyChanged(inv.id, false)
			}
		})
	}
	inv.timer = time.AfterFunc(ceiling, lower)
	return func() {
		inv.timer.Stop()
		lower()
	}
}
