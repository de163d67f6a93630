// Package app wires platform components from configuration.
package app

import (
	"github.com/moodsync/platform/internal/audio"
	"github.com/moodsync/platform/internal/config"
	"github.com/moodsync/platform/internal/degrade"
	"github.com/moodsync/platform/internal/inference"
	"github.com/moodsync/platform/internal/orchestrator"
	"github.com/moodsync/platform/internal/pipeline"
	"github.com/moodsync/platform/internal/resilience"
)

// Components are the wired services shared by the binaries.
type Components struct {
	Client   *inference.Client
	Pipeline *pipeline.Pipeline
	Manager  *orchestrator.Manager
}

// Capturer returns the configured audio source: a WAV file when one is set,
// else the microphone.
func Capturer(cfg config.AudioConfig) pipeline.Capturer {
	if cfg.File != "" {
		return audio.FileSource{Path: cfg.File}
	}
	return audio.NewRecorder(cfg.SampleRate,
		audio.WithDevice(cfg.Device),
		audio.WithExcludedDevices(cfg.ExcludedDevices),
	)
}

// Client builds the inference client.
func Client(cfg *config.Config) *inference.Client {
	return inference.New(cfg.Inference.URL, inference.WithBreaker(resilience.Config{
		Threshold:         cfg.Breaker.Threshold,
		ResetTimeout:      cfg.Breaker.ResetTimeout,
		HalfOpenSuccesses: resilience.FastHalfOpenSuccesses,
	}))
}

// New wires capture, inference, pipeline and manager. Extra options are
// applied to the pipeline after the manager observer.
func New(cfg *config.Config, opts ...pipeline.Option) *Components {
	client := Client(cfg)
	manager := orchestrator.New()

	pipeOpts := append([]pipeline.Option{
		pipeline.WithObserver(manager),
		pipeline.WithDegrader(degrade.New(cfg.Pipeline.DegradeDelay)),
	}, opts...)

	p := pipeline.New(pipeline.Config{
		CaptureDuration:  cfg.Audio.CaptureDuration,
		SubmitDeadline:   cfg.Inference.Deadline,
		DegradeDelay:     cfg.Pipeline.DegradeDelay,
		IndicatorCeiling: cfg.Pipeline.IndicatorCeiling,
	}, Capturer(cfg.Audio), client, pipeOpts...)
	manager.SetDetector(p)

	return &Components{Client: client, Pipeline: p, Manager: manager}
}
