// Package frame defines the shared data types of the viewsync pipeline:
// captured frames, input actions, and action outcomes.
//
// A Frame is one visual snapshot of the observed surface with a monotonic
// ID and change metrics relative to the immediately preceding capture.
// Frames are created by the sampler, stored by the framebuffer, and
// consumed by agents through the pipeline API.
package frame

import (
	"time"
)

// ViewMetadata carries scroll offsets and scale factors reported by the
// capture source. viewsync passes it through untouched.
type ViewMetadata struct {
	ScrollX      float64 `json:"scroll_x"`
	ScrollY      float64 `json:"scroll_y"`
	PageScale    float64 `json:"page_scale"`
	DeviceWidth  int     `json:"device_width"`
	DeviceHeight int     `json:"device_height"`
	OffsetTop    float64 `json:"offset_top"`
}

// Raw is a capture as delivered by a frame source, before the sampler has
// assigned an ID or computed change metrics.
type Raw struct {
	Pixels     []byte
	CapturedAt time.Time
	View       ViewMetadata
}

// Frame is one forwarded visual snapshot.
type Frame struct {
	// ID is strictly monotonically increasing across the lifetime of a
	// sampler. Assigned at capture time, before delta computation.
	ID int64 `json:"id"`

	CapturedAt time.Time `json:"captured_at"`

	// Pixels is the encoded image payload. viewsync treats it as opaque
	// outside the delta detector.
	Pixels []byte `json:"-"`

	// Changed reports whether the delta against the preceding captured
	// frame met the configured threshold. The first frame of a session is
	// always changed.
	Changed bool `json:"changed"`

	// DeltaPercent is the percentage of differing pixels vs. the preceding
	// captured frame, in [0,100].
	DeltaPercent float64 `json:"delta_percent"`

	// KeepAlive marks frames forwarded by the idle policy rather than by
	// pixel change.
	KeepAlive bool `json:"keep_alive,omitempty"`

	View ViewMetadata `json:"view"`
}

// Age returns the time elapsed since the frame was captured.
func (f *Frame) Age() time.Duration {
	return time.Since(f.CapturedAt)
}
