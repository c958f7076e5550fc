package frame

import (
	"context"
	"time"
)

// Kind enumerates the input action types viewsync can correlate.
type Kind string

const (
	Click      Kind = "click"
	Type       Kind = "type"
	Scroll     Kind = "scroll"
	Drag       Kind = "drag"
	Key        Kind = "key"
	Wait       Kind = "wait"
	Screenshot Kind = "screenshot"
)

// Action is one discrete input against the observed surface.
type Action struct {
	Kind Kind `json:"kind"`

	// X, Y is the target point for click/scroll/drag, or the scroll delta
	// for scroll.
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`

	// ToX, ToY is the drag destination.
	ToX float64 `json:"to_x,omitempty"`
	ToY float64 `json:"to_y,omitempty"`

	// Text is the payload for type, or the key name for key.
	Text string `json:"text,omitempty"`

	// Duration applies to wait.
	Duration time.Duration `json:"duration,omitempty"`
}

// Visual reports whether the action can change what is rendered. Pure waits
// and on-demand snapshot requests never do, so their outcomes resolve
// immediately without waiting for a post-action frame.
func (a Action) Visual() bool {
	switch a.Kind {
	case Wait, Screenshot:
		return false
	}
	return true
}

// Executor performs an action against the surface. Supplied externally;
// viewsync only needs it as an opaque call that may fail.
type Executor func(ctx context.Context, a Action) error

// ActionOutcome correlates an executed action with the frames around it.
//
// Before is the latest frame at the moment the action was issued. After is
// the first post-action frame judged stable, the latest buffered frame on
// correlation timeout, or Before itself for non-visual actions. Err is set
// when the executor failed; the outcome is still returned so callers can
// inspect partial success.
type ActionOutcome struct {
	Before       *Frame        `json:"before"`
	After        *Frame        `json:"after"`
	CausedChange bool          `json:"caused_change"`
	Latency      time.Duration `json:"latency"`
	TimedOut     bool          `json:"timed_out,omitempty"`
	Err          error         `json:"-"`
}
