// Package sampler decides, per captured frame, whether to forward it
// downstream. It assigns monotonic frame IDs in capture order, offloads the
// CPU-bound pixel comparison to a bounded worker pool, releases frames
// strictly in ID order even when comparisons finish out of order, and runs
// a keep-alive loop that forwards a frame after a maximum idle interval
// even absent visual change.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/viewsync/delta"
	"github.com/hazyhaar/viewsync/frame"
)

// Sink receives every forwarded frame, in ascending ID order.
type Sink func(f *frame.Frame)

// CaptureFunc requests a fresh on-demand capture from the source. Optional:
// without it the keep-alive loop re-forwards the last known capture.
type CaptureFunc func(ctx context.Context) (frame.Raw, error)

// Config tunes a Sampler.
type Config struct {
	// KeepAlive is the maximum idle interval before a frame is forwarded
	// regardless of change. Default: 2s.
	KeepAlive time.Duration

	// Workers bounds the compare pool. Default: GOMAXPROCS.
	Workers int

	// QueueDepth bounds the ingest inbox. Captures arriving while the
	// inbox is full are dropped and counted. Default: 64.
	QueueDepth int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.KeepAlive <= 0 {
		c.KeepAlive = 2 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats are point-in-time throughput counters.
type Stats struct {
	Captured           int64         `json:"captured"`
	Forwarded          int64         `json:"forwarded"`
	Dropped            int64         `json:"dropped"`
	InboxDrops         int64         `json:"inbox_drops"`
	AvgForwardInterval time.Duration `json:"avg_forward_interval"`
	CurrentFrameID     int64         `json:"current_frame_id"`
}

type compareJob struct {
	id   int64
	prev []byte
	raw  frame.Raw
}

// Sampler owns the capture-forward policy for one surface. Create with New,
// then Start; Ingest is safe from any goroutine.
type Sampler struct {
	cfg     Config
	det     *delta.Detector
	sink    Sink
	capture CaptureFunc

	ingestCh    chan frame.Raw
	jobCh       chan compareJob
	resCh       chan *frame.Frame
	keepAliveCh chan time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	// Control-loop state. Owned by loop(); never touched elsewhere.
	lastRaster  []byte     // delta baseline: last genuinely captured pixels
	lastRaw     *frame.Raw // last known capture, for keep-alive re-forward
	nextRelease int64
	reorder     map[int64]*frame.Frame

	nextID        atomic.Int64
	keepAlive     atomic.Int64 // nanoseconds, hot-updatable
	lastForwarded atomic.Int64 // unixnano, 0 = never

	captured      atomic.Int64
	forwarded     atomic.Int64
	dropped       atomic.Int64
	inboxDrops    atomic.Int64
	intervalSumNs atomic.Int64
	intervalCount atomic.Int64
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithCapture supplies an on-demand capture function used by the keep-alive
// loop to forward a fresh frame instead of the last known one.
func WithCapture(fn CaptureFunc) Option {
	return func(s *Sampler) { s.capture = fn }
}

// New creates a Sampler forwarding to sink. Call Start before Ingest.
func New(det *delta.Detector, sink Sink, cfg Config, opts ...Option) *Sampler {
	cfg.defaults()
	s := &Sampler{
		cfg:         cfg,
		det:         det,
		sink:        sink,
		ingestCh:    make(chan frame.Raw, cfg.QueueDepth),
		jobCh:       make(chan compareJob, cfg.QueueDepth),
		resCh:       make(chan *frame.Frame, cfg.QueueDepth),
		keepAliveCh: make(chan time.Duration, 1),
		reorder:     make(map[int64]*frame.Frame),
	}
	s.keepAlive.Store(int64(cfg.KeepAlive))
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the compare pool and the control loop.
func (s *Sampler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	go s.loop()
}

// Stop halts the control loop and the compare pool. In-flight comparisons
// are abandoned.
func (s *Sampler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.wg.Wait()
}

// Ingest hands a raw capture to the sampler. Non-blocking: when the inbox
// is full the capture is dropped and counted, so a stalled pipeline never
// applies backpressure to the capture protocol.
func (s *Sampler) Ingest(raw frame.Raw) {
	if raw.CapturedAt.IsZero() {
		raw.CapturedAt = time.Now()
	}
	select {
	case s.ingestCh <- raw:
	default:
		s.inboxDrops.Add(1)
	}
}

// SetKeepAlive hot-updates the idle interval and restarts the keep-alive
// ticker.
func (s *Sampler) SetKeepAlive(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("sampler: keep-alive must be positive, got %v", d)
	}
	s.keepAlive.Store(int64(d))
	select {
	case s.keepAliveCh <- d:
	default:
	}
	return nil
}

// Stats returns a snapshot of the throughput counters.
func (s *Sampler) Stats() Stats {
	st := Stats{
		Captured:       s.captured.Load(),
		Forwarded:      s.forwarded.Load(),
		Dropped:        s.dropped.Load(),
		InboxDrops:     s.inboxDrops.Load(),
		CurrentFrameID: s.nextID.Load(),
	}
	if n := s.intervalCount.Load(); n > 0 {
		st.AvgForwardInterval = time.Duration(s.intervalSumNs.Load() / n)
	}
	return st
}

func (s *Sampler) keepAliveDur() time.Duration {
	return time.Duration(s.keepAlive.Load())
}

// loop is the single control goroutine. ID assignment, baseline updates,
// ordered release and the keep-alive policy all happen here, so they are
// serialized with respect to each other.
func (s *Sampler) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.keepAliveDur() / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case raw := <-s.ingestCh:
			s.dispatch(raw)

		case f := <-s.resCh:
			s.reorder[f.ID] = f
			s.releaseReady()

		case d := <-s.keepAliveCh:
			ticker.Reset(d / 2)

		case <-ticker.C:
			s.maybeKeepAlive()
		}
	}
}

// dispatch assigns the next frame ID, advances the delta baseline, and
// hands the comparison to the pool. The baseline snapshot taken here is the
// immediately preceding captured frame, not the preceding forwarded one.
func (s *Sampler) dispatch(raw frame.Raw) {
	id := s.nextID.Add(1)
	s.captured.Add(1)

	job := compareJob{id: id, prev: s.lastRaster, raw: raw}
	s.lastRaster = raw.Pixels
	s.lastRaw = &raw

	// The pool is bounded; drain results while waiting for a slot so
	// workers can never deadlock against a full result channel.
	for {
		select {
		case s.jobCh <- job:
			return
		case f := <-s.resCh:
			s.reorder[f.ID] = f
			s.releaseReady()
		case <-s.ctx.Done():
			return
		}
	}
}

// releaseReady forwards completed frames in strict ID order.
func (s *Sampler) releaseReady() {
	for {
		f, ok := s.reorder[s.nextRelease+1]
		if !ok {
			return
		}
		delete(s.reorder, s.nextRelease+1)
		s.nextRelease++
		s.release(f)
	}
}

func (s *Sampler) release(f *frame.Frame) {
	ka := s.keepAliveDur()
	last := s.lastForwarded.Load()
	idle := last == 0 || time.Since(time.Unix(0, last)) >= ka

	if !f.Changed && !idle {
		s.dropped.Add(1)
		return
	}
	if !f.Changed {
		f.KeepAlive = true
	}
	s.forward(f)
}

func (s *Sampler) forward(f *frame.Frame) {
	now := time.Now()
	if prev := s.lastForwarded.Swap(now.UnixNano()); prev != 0 {
		s.intervalSumNs.Add(now.UnixNano() - prev)
		s.intervalCount.Add(1)
	}
	s.forwarded.Add(1)
	s.sink(f)
}

// maybeKeepAlive forwards a frame when the surface has been idle for the
// full keep-alive interval. A fresh capture is requested when a capture
// function is available; otherwise the last known raster is re-forwarded.
// Either way the delta baseline is left untouched, so the next genuine
// comparison is still made against the last captured frame.
func (s *Sampler) maybeKeepAlive() {
	if s.lastRaw == nil {
		return
	}
	ka := s.keepAliveDur()
	if last := s.lastForwarded.Load(); last != 0 && time.Since(time.Unix(0, last)) < ka {
		return
	}

	raw := *s.lastRaw
	if s.capture != nil {
		ctx, cancel := context.WithTimeout(s.ctx, ka/2)
		fresh, err := s.capture(ctx)
		cancel()
		if err != nil {
			s.cfg.Logger.Debug("sampler: keep-alive capture failed, re-forwarding last frame", "error", err)
		} else {
			raw = fresh
		}
	}

	id := s.nextID.Add(1)
	s.captured.Add(1)
	s.reorder[id] = &frame.Frame{
		ID:         id,
		CapturedAt: time.Now(),
		Pixels:     raw.Pixels,
		Changed:    false,
		KeepAlive:  true,
		View:       raw.View,
	}
	s.releaseReady()
}

// worker runs one compare slot of the bounded pool.
func (s *Sampler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.jobCh:
			res := s.det.Compare(job.prev, job.raw.Pixels)
			f := &frame.Frame{
				ID:           job.id,
				CapturedAt:   job.raw.CapturedAt,
				Pixels:       job.raw.Pixels,
				Changed:      res.Changed,
				DeltaPercent: res.DeltaPercent,
				View:         job.raw.View,
			}
			select {
			case s.resCh <- f:
			case <-s.ctx.Done():
				return
			}
		}
	}
}
