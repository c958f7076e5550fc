package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the pipeline configuration. Zero values take documented
// defaults; Validate runs after defaults at construction. DeltaThreshold
// and KeepAlive are hot-updatable after construction, everything else is
// immutable per session.
type Config struct {
	// MaxBufferSize bounds the frame store. Minimum 1. Default: 10.
	MaxBufferSize int `yaml:"max_buffer_size"`

	// DeltaThreshold is the changed-percentage bar for forwarding, in
	// [0,100]. Default: 2.
	DeltaThreshold float64 `yaml:"delta_threshold"`

	// ColorTolerance is the per-channel noise floor for pixel comparison,
	// as a fraction of the maximum channel delta. Default: 0.1.
	ColorTolerance float64 `yaml:"color_tolerance"`

	// Downsample divides frame dimensions before comparison. 1 disables.
	Downsample int `yaml:"downsample"`

	// KeepAlive is the maximum idle interval before a frame is forwarded
	// regardless of change. Default: 2s.
	KeepAlive time.Duration `yaml:"keep_alive"`

	// StabilityWait bounds how long action correlation insists on a
	// below-threshold frame. Default: 500ms.
	StabilityWait time.Duration `yaml:"stability_wait"`

	// MaxWait is the hard correlation deadline. Must exceed StabilityWait.
	// Default: 5s.
	MaxWait time.Duration `yaml:"max_wait"`

	// StabilityThreshold is the settled bar for action correlation, in
	// [0,100]. Independent of DeltaThreshold. Default: 5.
	StabilityThreshold float64 `yaml:"stability_threshold"`

	// CompareWorkers bounds the pixel-compare pool. Default: GOMAXPROCS.
	CompareWorkers int `yaml:"compare_workers"`

	// QueueDepth bounds the capture inbox. Default: 64.
	QueueDepth int `yaml:"queue_depth"`
}

func (c *Config) applyDefaults() {
	if c.MaxBufferSize == 0 {
		c.MaxBufferSize = 10
	}
	if c.DeltaThreshold == 0 {
		c.DeltaThreshold = 2
	}
	if c.ColorTolerance == 0 {
		c.ColorTolerance = 0.1
	}
	if c.Downsample < 1 {
		c.Downsample = 1
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 2 * time.Second
	}
	if c.StabilityWait == 0 {
		c.StabilityWait = 500 * time.Millisecond
	}
	if c.MaxWait == 0 {
		c.MaxWait = 5 * time.Second
	}
	if c.StabilityThreshold == 0 {
		c.StabilityThreshold = 5
	}
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if c.MaxBufferSize < 1 {
		return fmt.Errorf("pipeline: max buffer size must be >= 1, got %d", c.MaxBufferSize)
	}
	if c.DeltaThreshold < 0 || c.DeltaThreshold > 100 {
		return fmt.Errorf("pipeline: delta threshold must be in [0,100], got %v", c.DeltaThreshold)
	}
	if c.StabilityThreshold < 0 || c.StabilityThreshold > 100 {
		return fmt.Errorf("pipeline: stability threshold must be in [0,100], got %v", c.StabilityThreshold)
	}
	if c.KeepAlive <= 0 {
		return fmt.Errorf("pipeline: keep-alive must be positive, got %v", c.KeepAlive)
	}
	if c.StabilityWait <= 0 {
		return fmt.Errorf("pipeline: stability wait must be positive, got %v", c.StabilityWait)
	}
	if c.MaxWait <= c.StabilityWait {
		return fmt.Errorf("pipeline: max wait %v must exceed stability wait %v", c.MaxWait, c.StabilityWait)
	}
	return nil
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("pipeline: parse config %s: %w", path, err)
	}
	return &cfg, nil
}
