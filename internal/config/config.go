// Package config loads platform configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// Config is the full service configuration, layered from defaults, an
// optional YAML file and environment variables.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Inference InferenceConfig `koanf:"inference"`
	Audio     AudioConfig     `koanf:"audio"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	HTTPAddr          string        `koanf:"http_addr" validate:"required"`
	CORSOrigins       []string      `koanf:"cors_origins" validate:"min=1"`
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// InferenceConfig locates the emotion-inference service.
type InferenceConfig struct {
	URL      string        `koanf:"url" validate:"required,url"`
	Deadline time.Duration `koanf:"deadline" validate:"gt=0"`
}

// AudioConfig selects the input device and sample length.
type AudioConfig struct {
	SampleRate      int           `koanf:"sample_rate" validate:"gte=8000,lte=192000"`
	Device          string        `koanf:"device"`
	ExcludedDevices []string      `koanf:"excluded_devices"`
	CaptureDuration time.Duration `koanf:"capture_duration" validate:"gt=0"`
	// File replaces the microphone with a WAV file when set.
	File string `koanf:"file"`
}

// PipelineConfig holds fallback and busy-indicator timing.
type PipelineConfig struct {
	DegradeDelay     time.Duration `koanf:"degrade_delay" validate:"gte=0"`
	IndicatorCeiling time.Duration `koanf:"indicator_ceiling" validate:"gt=0"`
}

// BreakerConfig tunes the inference circuit breaker.
type BreakerConfig struct {
	Threshold    int           `koanf:"threshold" validate:"gte=1"`
	ResetTimeout time.Duration `koanf:"reset_timeout" validate:"gt=0"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:          ":8000",
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 10,
			RateLimitWindow:   time.Minute,
			ShutdownTimeout:   5 * time.Second,
		},
		Inference: InferenceConfig{
			URL:      "http://localhost:5112",
			Deadline: 5 * time.Second,
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			ExcludedDevices: []string{"iphone", "teams"},
			CaptureDuration: 3 * time.Second,
		},
		Pipeline: PipelineConfig{
			DegradeDelay:     time.Second,
			IndicatorCeiling: 4 * time.Second,
		},
		Breaker: BreakerConfig{
			Threshold:    3,
			ResetTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load layers defaults, the config file and environment variables, in
// increasing precedence, and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.cors_origins",
	"audio.excluded_devices",
}

// processSliceFields splits comma-separated env values into slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		if err := k.Set(path, result); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"http_addr":              "server.http_addr",
	"cors_origins":           "server.cors_origins",
	"rate_limit_requests":    "server.rate_limit_requests",
	"rate_limit_window":      "server.rate_limit_window",
	"shutdown_timeout":       "server.shutdown_timeout",
	"inference_url":          "inference.url",
	"inference_deadline":     "inference.deadline",
	"sample_rate":            "audio.sample_rate",
	"audio_device":           "audio.device",
	"excluded_audio_devices": "audio.excluded_devices",
	"capture_duration":       "audio.capture_duration",
	"audio_file":             "audio.file",
	"degrade_delay":          "pipeline.degrade_delay",
	"indicator_ceiling":      "pipeline.indicator_ceiling",
	"breaker_threshold":      "breaker.threshold",
	"breaker_reset_timeout":  "breaker.reset_timeout",
	"log_level":              "logging.level",
	"log_format":             "logging.format",
}

// envTransformFunc maps an environment variable to its config path. Unknown
// variables are skipped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
