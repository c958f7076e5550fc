package framebuffer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/viewsync/frame"
)

// Buffer is the bounded ordered store of recently forwarded frames plus
// the pending-correlation table. One Buffer per active surface; all writes
// go through AddFrame and Clear.
type Buffer struct {
	cfg Config
	log *slog.Logger

	mu              sync.Mutex
	frames          []*frame.Frame
	pending         []*correlation // ascending referenceFrameID
	nextWaiters     []*nextWaiter
	stableWaiters   []*stableWaiter
	lastSignificant time.Time

	resolvedByFrame   int64
	resolvedByTimeout int64
	cancelled         int64
}

// New creates a Buffer, applying defaults then validating.
func New(cfg Config) (*Buffer, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Buffer{cfg: cfg, log: cfg.Logger}, nil
}

// AddFrame appends a forwarded frame, evicts over capacity, and settles
// every eligible pending correlation and waiter. Invoked by the sampler for
// every forwarded frame, in ascending ID order.
func (b *Buffer) AddFrame(f *frame.Frame) {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames = append(b.frames, f)
	for len(b.frames) > b.cfg.MaxSize {
		b.frames = b.frames[1:]
	}

	significant := f.DeltaPercent > b.cfg.StabilityThreshold
	if significant {
		b.lastSignificant = now
	}

	// Settle eligible correlations, oldest action first. pending is kept
	// ascending by referenceFrameID, so iteration order is resolution order.
	remaining := b.pending[:0]
	for _, c := range b.pending {
		eligible := f.ID > c.refID &&
			(f.DeltaPercent <= b.cfg.StabilityThreshold || now.Sub(c.issuedAt) >= b.cfg.StabilityWait)
		if !eligible {
			remaining = append(remaining, c)
			continue
		}
		c.settleLocked(settled{out: frame.ActionOutcome{
			Before:       c.before,
			After:        f,
			CausedChange: f.Changed,
			Latency:      now.Sub(c.issuedAt),
		}})
		b.resolvedByFrame++
	}
	b.pending = remaining

	b.notifyNextLocked(f)
	b.notifyStableLocked(f, significant)
}

// Latest returns the newest buffered frame, or nil.
func (b *Buffer) Latest() *frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latestLocked()
}

func (b *Buffer) latestLocked() *frame.Frame {
	if len(b.frames) == 0 {
		return nil
	}
	return b.frames[len(b.frames)-1]
}

// ByID returns the buffered frame with the given ID, or nil if it was
// never forwarded or has been evicted.
func (b *Buffer) ByID(id int64) *frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range b.frames {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// Since returns all buffered frames with ID greater than the cutoff, in
// ascending ID order.
func (b *Buffer) Since(id int64) []*frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*frame.Frame
	for _, f := range b.frames {
		if f.ID > id {
			out = append(out, f)
		}
	}
	return out
}

// Clear empties the store and force-settles every outstanding correlation
// and waiter with ErrCancelled. Used on session stop and recovery: waiters
// must never be left unresolved when the surface disappears.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range b.pending {
		c.settleLocked(settled{
			out: frame.ActionOutcome{Before: c.before},
			err: frame.ErrCancelled,
		})
		b.cancelled++
	}
	b.pending = nil

	for _, w := range b.nextWaiters {
		w.settleLocked(nextSettled{err: frame.ErrCancelled})
		b.cancelled++
	}
	b.nextWaiters = nil

	for _, w := range b.stableWaiters {
		w.settleLocked(stableSettled{err: frame.ErrCancelled})
		b.cancelled++
	}
	b.stableWaiters = nil

	b.frames = nil
	b.lastSignificant = time.Time{}
	b.log.Info("framebuffer: cleared")
}

// Stats returns a snapshot of buffer state.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Stats{
		Buffered:            len(b.frames),
		PendingCorrelations: len(b.pending),
		ResolvedByFrame:     b.resolvedByFrame,
		ResolvedByTimeout:   b.resolvedByTimeout,
		Cancelled:           b.cancelled,
	}
	if len(b.frames) > 0 {
		st.OldestAge = time.Since(b.frames[0].CapturedAt)
		st.NewestAge = time.Since(b.frames[len(b.frames)-1].CapturedAt)
	}
	return st
}
