package framebuffer

import (
	"context"
	"sort"
	"time"

	"github.com/hazyhaar/viewsync/frame"
)

// settled carries the single resolution of a correlation.
type settled struct {
	out frame.ActionOutcome
	err error
}

// correlation is one in-flight action awaiting a post-action stable frame.
// It settles exactly once: by a qualifying frame, by deadline expiry, by
// caller cancellation, or by Clear.
type correlation struct {
	refID    int64
	issuedAt time.Time
	before   *frame.Frame
	timer    *time.Timer
	ch       chan settled
	done     bool
}

// settleLocked delivers the resolution. Caller holds the buffer mutex; the
// done flag makes double settlement impossible.
func (c *correlation) settleLocked(s settled) {
	if c.done {
		return
	}
	c.done = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.ch <- s
}

// RegisterAction executes an action and resolves it against the frame that
// results from it.
//
// The latest buffered frame is captured as the baseline before the executor
// runs; without one the call fails with ErrNoFrame. An executor failure is
// surfaced inside the outcome, not as a returned error, and creates no
// correlation. Non-visual actions resolve immediately against the baseline.
// Everything else waits for the first frame that is newer than the baseline
// and either below the stability threshold or past the stability window —
// bounded by MaxWait, after which the current latest frame is returned as a
// best-effort degrade rather than an error.
func (b *Buffer) RegisterAction(ctx context.Context, a frame.Action, exec frame.Executor) (frame.ActionOutcome, error) {
	b.mu.Lock()
	before := b.latestLocked()
	b.mu.Unlock()
	if before == nil {
		return frame.ActionOutcome{}, frame.ErrNoFrame
	}

	start := time.Now()
	if exec != nil {
		if err := exec(ctx, a); err != nil {
			return frame.ActionOutcome{
				Before:  before,
				Latency: time.Since(start),
				Err:     err,
			}, nil
		}
	}

	if !a.Visual() {
		return frame.ActionOutcome{
			Before:  before,
			After:   before,
			Latency: time.Since(start),
		}, nil
	}

	c := &correlation{
		refID:    before.ID,
		issuedAt: start,
		before:   before,
		ch:       make(chan settled, 1),
	}

	b.mu.Lock()
	c.timer = time.AfterFunc(b.cfg.MaxWait, func() { b.expire(c) })
	b.insertPendingLocked(c)
	b.mu.Unlock()

	select {
	case s := <-c.ch:
		return s.out, s.err
	case <-ctx.Done():
		b.mu.Lock()
		b.removePendingLocked(c)
		c.settleLocked(settled{
			out: frame.ActionOutcome{Before: c.before},
			err: ctx.Err(),
		})
		b.mu.Unlock()
		s := <-c.ch
		return s.out, s.err
	}
}

// insertPendingLocked keeps pending sorted ascending by referenceFrameID so
// that same-frame resolutions always settle the oldest action first.
func (b *Buffer) insertPendingLocked(c *correlation) {
	i := sort.Search(len(b.pending), func(i int) bool {
		return b.pending[i].refID > c.refID
	})
	b.pending = append(b.pending, nil)
	copy(b.pending[i+1:], b.pending[i:])
	b.pending[i] = c
}

func (b *Buffer) removePendingLocked(c *correlation) {
	for i, p := range b.pending {
		if p == c {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return
		}
	}
}

// expire force-resolves a correlation at its deadline using the current
// latest buffered frame. A deliberate best-effort degrade, not an error:
// the caller always receives a usable frame.
func (b *Buffer) expire(c *correlation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.done {
		return
	}

	b.removePendingLocked(c)
	latest := b.latestLocked()
	c.settleLocked(settled{out: frame.ActionOutcome{
		Before:       c.before,
		After:        latest,
		CausedChange: latest != nil && latest.ID != c.refID,
		Latency:      time.Since(c.issuedAt),
		TimedOut:     true,
	}})
	b.resolvedByTimeout++
	b.log.Debug("framebuffer: correlation timed out",
		"ref_frame_id", c.refID, "waited", time.Since(c.issuedAt))
}
