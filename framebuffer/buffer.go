// Package framebuffer stores the most recently forwarded frames in a
// bounded FIFO and owns the hybrid frame-action synchronization protocol:
// every registered action is tagged with the frame it was issued against
// and resolved by the first subsequent frame judged stable, or by a
// deadline, or by Clear — never left hanging.
package framebuffer

import (
	"fmt"
	"log/slog"
	"time"
)

// Config tunes a Buffer. Validated at construction.
type Config struct {
	// MaxSize bounds the frame store. Oldest frames are evicted first.
	// Default: 10.
	MaxSize int

	// StabilityWait is how long a correlation keeps insisting on a
	// below-threshold frame before accepting any newer frame. Default: 500ms.
	StabilityWait time.Duration

	// MaxWait is the hard deadline for a correlation. Must exceed
	// StabilityWait. Default: 5s.
	MaxWait time.Duration

	// StabilityThreshold is the delta percentage at or below which a frame
	// counts as settled. Deliberately independent of the forwarding
	// threshold: forwarding wants sensitivity, stability-waiting wants a
	// looser bar so low-amplitude animation noise cannot stall actions.
	// Default: 5.
	StabilityThreshold float64

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxSize == 0 {
		c.MaxSize = 10
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
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if c.MaxSize < 1 {
		return fmt.Errorf("framebuffer: max size must be >= 1, got %d", c.MaxSize)
	}
	if c.StabilityWait <= 0 {
		return fmt.Errorf("framebuffer: stability wait must be positive, got %v", c.StabilityWait)
	}
	if c.MaxWait <= c.StabilityWait {
		return fmt.Errorf("framebuffer: max wait %v must exceed stability wait %v", c.MaxWait, c.StabilityWait)
	}
	if c.StabilityThreshold < 0 || c.StabilityThreshold > 100 {
		return fmt.Errorf("framebuffer: stability threshold must be in [0,100], got %v", c.StabilityThreshold)
	}
	return nil
}

// Stats is a point-in-time snapshot of buffer state.
type Stats struct {
	Buffered            int           `json:"buffered"`
	PendingCorrelations int           `json:"pending_correlations"`
	OldestAge           time.Duration `json:"oldest_age"`
	NewestAge           time.Duration `json:"newest_age"`
	ResolvedByFrame     int64         `json:"resolved_by_frame"`
	ResolvedByTimeout   int64         `json:"resolved_by_timeout"`
	Cancelled           int64         `json:"cancelled"`
}
