package framebuffer

import (
	"context"
	"time"

	"github.com/hazyhaar/viewsync/frame"
)

type nextSettled struct {
	f   *frame.Frame
	err error
}

// nextWaiter resolves on the first frame with ID greater than the ID
// observed at call time.
type nextWaiter struct {
	afterID int64
	timer   *time.Timer
	ch      chan nextSettled
	done    bool
}

func (w *nextWaiter) settleLocked(s nextSettled) {
	if w.done {
		return
	}
	w.done = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.ch <- s
}

// WaitForNextFrame blocks until a frame newer than the current latest
// arrives, the timeout elapses (ErrTimeout), the buffer is cleared
// (ErrCancelled), or ctx is done.
func (b *Buffer) WaitForNextFrame(ctx context.Context, timeout time.Duration) (*frame.Frame, error) {
	b.mu.Lock()
	w := &nextWaiter{ch: make(chan nextSettled, 1)}
	if latest := b.latestLocked(); latest != nil {
		w.afterID = latest.ID
	}
	w.timer = time.AfterFunc(timeout, func() { b.timeoutNext(w) })
	b.nextWaiters = append(b.nextWaiters, w)
	b.mu.Unlock()

	select {
	case s := <-w.ch:
		return s.f, s.err
	case <-ctx.Done():
		b.mu.Lock()
		b.removeNextLocked(w)
		w.settleLocked(nextSettled{err: ctx.Err()})
		b.mu.Unlock()
		s := <-w.ch
		return s.f, s.err
	}
}

func (b *Buffer) timeoutNext(w *nextWaiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeNextLocked(w)
	w.settleLocked(nextSettled{err: frame.ErrTimeout})
}

func (b *Buffer) removeNextLocked(w *nextWaiter) {
	for i, x := range b.nextWaiters {
		if x == w {
			b.nextWaiters = append(b.nextWaiters[:i], b.nextWaiters[i+1:]...)
			return
		}
	}
}

// notifyNextLocked settles next-frame waiters eligible for f.
func (b *Buffer) notifyNextLocked(f *frame.Frame) {
	remaining := b.nextWaiters[:0]
	for _, w := range b.nextWaiters {
		if f.ID > w.afterID {
			w.settleLocked(nextSettled{f: f})
		} else {
			remaining = append(remaining, w)
		}
	}
	b.nextWaiters = remaining
}

type stableSettled struct {
	f   *frame.Frame
	err error
}

// stableWaiter resolves once no significant change has been observed for
// its duration. The stability timer restarts whenever a frame above the
// stability threshold arrives; the overall timer caps the total wait.
type stableWaiter struct {
	duration time.Duration
	stTimer  *time.Timer
	toTimer  *time.Timer
	ch       chan stableSettled
	done     bool
}

func (w *stableWaiter) settleLocked(s stableSettled) {
	if w.done {
		return
	}
	w.done = true
	if w.stTimer != nil {
		w.stTimer.Stop()
	}
	if w.toTimer != nil {
		w.toTimer.Stop()
	}
	w.ch <- s
}

// WaitForStableFrame blocks until the surface has shown no significant
// change for duration, then returns the latest frame. On overall timeout it
// returns the best available frame rather than failing — a caller is
// assumed to prefer a possibly-still-animating frame over no frame at all.
// ErrNoFrame is returned only when no frame ever arrived; ErrCancelled when
// the buffer is cleared mid-wait.
func (b *Buffer) WaitForStableFrame(ctx context.Context, duration, timeout time.Duration) (*frame.Frame, error) {
	b.mu.Lock()

	// Fast path: already stable.
	if latest := b.latestLocked(); latest != nil &&
		!b.lastSignificant.IsZero() && time.Since(b.lastSignificant) >= duration {
		b.mu.Unlock()
		return latest, nil
	}

	w := &stableWaiter{duration: duration, ch: make(chan stableSettled, 1)}
	if !b.lastSignificant.IsZero() {
		w.stTimer = time.AfterFunc(time.Until(b.lastSignificant.Add(duration)), func() { b.stabilise(w) })
	}
	w.toTimer = time.AfterFunc(timeout, func() { b.timeoutStable(w) })
	b.stableWaiters = append(b.stableWaiters, w)
	b.mu.Unlock()

	select {
	case s := <-w.ch:
		return s.f, s.err
	case <-ctx.Done():
		b.mu.Lock()
		b.removeStableLocked(w)
		w.settleLocked(stableSettled{err: ctx.Err()})
		b.mu.Unlock()
		s := <-w.ch
		return s.f, s.err
	}
}

// stabilise fires when a waiter's quiet window has fully elapsed.
func (b *Buffer) stabilise(w *stableWaiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	latest := b.latestLocked()
	if latest == nil {
		// No frame to hand out yet; the overall timeout still bounds the wait.
		return
	}
	b.removeStableLocked(w)
	w.settleLocked(stableSettled{f: latest})
}

func (b *Buffer) timeoutStable(w *stableWaiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeStableLocked(w)
	latest := b.latestLocked()
	if latest == nil {
		w.settleLocked(stableSettled{err: frame.ErrNoFrame})
		return
	}
	w.settleLocked(stableSettled{f: latest})
}

func (b *Buffer) removeStableLocked(w *stableWaiter) {
	for i, x := range b.stableWaiters {
		if x == w {
			b.stableWaiters = append(b.stableWaiters[:i], b.stableWaiters[i+1:]...)
			return
		}
	}
}

// notifyStableLocked restarts the quiet window of every stable waiter on a
// significant frame, and arms waiters that registered before any frame had
// arrived.
func (b *Buffer) notifyStableLocked(f *frame.Frame, significant bool) {
	for _, w := range b.stableWaiters {
		switch {
		case significant && w.stTimer != nil:
			w.stTimer.Reset(w.duration)
		case w.stTimer == nil:
			// First frame this waiter has seen: start its quiet window.
			d := w.duration
			if !significant && !b.lastSignificant.IsZero() {
				d = time.Until(b.lastSignificant.Add(w.duration))
			}
			ww := w
			w.stTimer = time.AfterFunc(d, func() { b.stabilise(ww) })
		}
	}
}
