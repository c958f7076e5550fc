// Package pipeline wires the viewsync components into the synchronization
// surface consumed by agents: raw captures flow from a frame source through
// the delta sampler into the frame buffer, and input actions are correlated
// against the frames that result from them.
//
// A Pipeline manages exactly one active surface. Stopping it clears the
// buffer, so every outstanding waiter settles with a cancelled condition
// instead of hanging on a surface that no longer exists.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/viewsync/audit"
	"github.com/hazyhaar/viewsync/delta"
	"github.com/hazyhaar/viewsync/frame"
	"github.com/hazyhaar/viewsync/framebuffer"
	"github.com/hazyhaar/viewsync/sampler"
)

// Source delivers raw captures. Push-based: Start invokes emit once per
// capture tick until Stop or context cancellation.
type Source interface {
	Start(ctx context.Context, emit func(frame.Raw)) error
	Stop() error
	CaptureOnDemand(ctx context.Context) (frame.Raw, error)
}

// Stats combines the sampler and buffer snapshots.
type Stats struct {
	Sampler sampler.Stats     `json:"sampler"`
	Buffer  framebuffer.Stats `json:"buffer"`
}

// Pipeline is the public synchronization API.
type Pipeline struct {
	cfg  Config
	log  *slog.Logger
	det  *delta.Detector
	smp  *sampler.Sampler
	buf  *framebuffer.Buffer
	src  Source
	exec frame.Executor
	aud  *audit.Logger

	mu      sync.Mutex
	started bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSource attaches a frame source started and stopped with the pipeline.
func WithSource(src Source) Option {
	return func(p *Pipeline) { p.src = src }
}

// WithExecutor sets the default action executor for RegisterAction.
func WithExecutor(exec frame.Executor) Option {
	return func(p *Pipeline) { p.exec = exec }
}

// WithAudit records forwarded frames and executed actions to an audit log.
func WithAudit(aud *audit.Logger) Option {
	return func(p *Pipeline) { p.aud = aud }
}

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// New creates a Pipeline from configuration.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(p)
	}

	buf, err := framebuffer.New(framebuffer.Config{
		MaxSize:            cfg.MaxBufferSize,
		StabilityWait:      cfg.StabilityWait,
		MaxWait:            cfg.MaxWait,
		StabilityThreshold: cfg.StabilityThreshold,
		Logger:             p.log,
	})
	if err != nil {
		return nil, err
	}
	p.buf = buf

	p.det = delta.New(delta.Options{
		Threshold:      cfg.DeltaThreshold,
		ColorTolerance: cfg.ColorTolerance,
		Downsample:     cfg.Downsample,
	})

	var smpOpts []sampler.Option
	if p.src != nil {
		smpOpts = append(smpOpts, sampler.WithCapture(p.src.CaptureOnDemand))
	}
	p.smp = sampler.New(p.det, p.forward, sampler.Config{
		KeepAlive:  cfg.KeepAlive,
		Workers:    cfg.CompareWorkers,
		QueueDepth: cfg.QueueDepth,
		Logger:     p.log,
	}, smpOpts...)

	return p, nil
}

// forward is the sampler sink: store the frame and settle correlations,
// then record it.
func (p *Pipeline) forward(f *frame.Frame) {
	p.buf.AddFrame(f)
	if p.aud != nil {
		p.aud.FrameForwarded(f)
	}
}

// Start launches the sampler and, when configured, the frame source.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("pipeline: already started")
	}

	p.smp.Start(ctx)
	if p.src != nil {
		if err := p.src.Start(ctx, p.smp.Ingest); err != nil {
			p.smp.Stop()
			return fmt.Errorf("pipeline: start source: %w", err)
		}
	}
	p.started = true
	p.log.Info("pipeline: started",
		"delta_threshold", p.cfg.DeltaThreshold,
		"keep_alive", p.cfg.KeepAlive,
		"max_wait", p.cfg.MaxWait)
	return nil
}

// Stop halts capture and clears the buffer, settling every outstanding
// correlation and waiter with a cancelled condition.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	if p.src != nil {
		if err := p.src.Stop(); err != nil {
			p.log.Warn("pipeline: stop source", "error", err)
		}
	}
	p.smp.Stop()
	p.buf.Clear()
	p.started = false
	p.log.Info("pipeline: stopped")
}

// AddFrame hands a raw capture to the sampler. The normal path is the
// attached Source, but sources managed elsewhere can push through here.
func (p *Pipeline) AddFrame(raw frame.Raw) {
	p.smp.Ingest(raw)
}

// RegisterAction executes an action with the default executor and resolves
// it against the resulting frame. See framebuffer.Buffer.RegisterAction.
func (p *Pipeline) RegisterAction(ctx context.Context, a frame.Action) (frame.ActionOutcome, error) {
	return p.RegisterActionWith(ctx, a, p.exec)
}

// RegisterActionWith is RegisterAction with a caller-supplied executor.
func (p *Pipeline) RegisterActionWith(ctx context.Context, a frame.Action, exec frame.Executor) (frame.ActionOutcome, error) {
	out, err := p.buf.RegisterAction(ctx, a, exec)
	if p.aud != nil && err == nil {
		p.aud.ActionExecuted(a, out)
	}
	return out, err
}

// LatestFrame returns the newest buffered frame, or nil.
func (p *Pipeline) LatestFrame() *frame.Frame { return p.buf.Latest() }

// Frame returns the buffered frame with the given ID, or nil.
func (p *Pipeline) Frame(id int64) *frame.Frame { return p.buf.ByID(id) }

// FramesSince returns all buffered frames newer than the cutoff ID.
func (p *Pipeline) FramesSince(id int64) []*frame.Frame { return p.buf.Since(id) }

// WaitForNextFrame blocks until a frame newer than the current latest
// arrives or the timeout elapses.
func (p *Pipeline) WaitForNextFrame(ctx context.Context, timeout time.Duration) (*frame.Frame, error) {
	return p.buf.WaitForNextFrame(ctx, timeout)
}

// WaitForStableFrame blocks until the surface is quiet for duration, capped
// by timeout.
func (p *Pipeline) WaitForStableFrame(ctx context.Context, duration, timeout time.Duration) (*frame.Frame, error) {
	return p.buf.WaitForStableFrame(ctx, duration, timeout)
}

// Clear empties the buffer and cancels all waiters without stopping
// capture. Used on surface recovery.
func (p *Pipeline) Clear() { p.buf.Clear() }

// SetDeltaThreshold hot-updates the forwarding threshold.
func (p *Pipeline) SetDeltaThreshold(pct float64) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("pipeline: delta threshold must be in [0,100], got %v", pct)
	}
	p.det.SetThreshold(pct)
	return nil
}

// SetKeepAlive hot-updates the idle interval and restarts the keep-alive
// timer.
func (p *Pipeline) SetKeepAlive(d time.Duration) error {
	return p.smp.SetKeepAlive(d)
}

// Stats returns a combined snapshot.
func (p *Pipeline) Stats() Stats {
	return Stats{Sampler: p.smp.Stats(), Buffer: p.buf.Stats()}
}
