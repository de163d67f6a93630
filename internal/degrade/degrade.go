// Package degrade produces a simulated mood signal when detection fails.
package degrade

import (
	"context"
	"time"

	"github.com/moodsync/platform/internal/mood"
)

// Degradation constants.
const (
	DefaultDelay  = time.Second
	MinConfidence = 75
	MaxConfidence = 95
)

// Controller emits a plausible signal after a short delay.
type Controller struct {
	delay  time.Duration
	rng    mood.Rand
	labels []mood.Emotion
}

// Option configures a Controller.
type Option func(*Controller)

// WithRand sets the randomness source.
func WithRand(r mood.Rand) Option {
	return func(c *Controller) { c.rng = r }
}

// New creates a controller. A non-positive delay means no delay.
func New(delay time.Duration, opts ...Option) *Controller {
	c := &Controller{delay: delay, rng: mood.DefaultRand, labels: mood.Canonical()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Delay returns the configured delay.
func (c *Controller) Delay() time.Duration { return c.delay }

// Degrade waits for the delay, or until ctx is done, and returns a random
// canonical label with a confidence in [MinConfidence, MaxConfidence].
// It always returns a signal.
func (c *Controller) Degrade(ctx context.Context) mood.Signal {
	sig := mood.Signal{
		Label:             string(c.labels[c.rng.IntN(len(c.labels))]),
		ConfidencePercent: MinConfidence + c.rng.IntN(MaxConfidence-MinConfidence+1),
	}
	if c.delay <= 0 {
		return sig
	}

	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return sig
}
