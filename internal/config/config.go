// Package config provides the configuration structure for the score-service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                     string `toml:"url"`
	ScoreSubmittedSubject   string `toml:"score_submitted_subject"`
	AudioRequestedSubject   string `toml:"audio_requested_subject"`
	ScoreObjectStoreBucket  string `toml:"score_object_store_bucket"`
	BundleObjectStoreBucket string `toml:"bundle_object_store_bucket"`
	AudioObjectStoreBucket  string `toml:"audio_object_store_bucket"`
}

// GenerationConfig holds the tunables of the generation pipeline.
type GenerationConfig struct {
	TimeoutSeconds      int     `toml:"timeout_seconds"`
	BarsPerSegment      int     `toml:"bars_per_segment"`
	MinRepeatSpanBars   int     `toml:"min_repeat_span_bars"`
	DensityFlagMultiple float64 `toml:"density_flag_multiple"`
	AudioWorkers        int     `toml:"audio_workers"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS       NATSConfig       `toml:"nats"`
	Generation GenerationConfig `toml:"generation"`
	Paths      PathsConfig      `toml:"paths"`
}

// Defaults applied by Load for generation fields left at zero.
const (
	DefaultTimeoutSeconds      = 300
	DefaultBarsPerSegment      = 2
	DefaultMinRepeatSpanBars   = 4
	DefaultDensityFlagMultiple = 1.5
	DefaultAudioWorkers        = 4
)

// Load loads the configuration for the score-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills generation fields left at zero with their documented
// defaults.
func (c *Config) ApplyDefaults() {
	if c.Generation.TimeoutSeconds == 0 {
		c.Generation.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.Generation.BarsPerSegment == 0 {
		c.Generation.BarsPerSegment = DefaultBarsPerSegment
	}

	if c.Generation.MinRepeatSpanBars == 0 {
		c.Generation.MinRepeatSpanBars = DefaultMinRepeatSpanBars
	}

	if c.Generation.DensityFlagMultiple == 0 {
		c.Generation.DensityFlagMultiple = DefaultDensityFlagMultiple
	}

	if c.Generation.AudioWorkers == 0 {
		c.Generation.AudioWorkers = DefaultAudioWorkers
	}
}
