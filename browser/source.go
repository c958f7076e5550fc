package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/viewsync/frame"
)

// SourceConfig controls screencast quality and cadence.
type SourceConfig struct {
	// Format is "jpeg" or "png". Default: "jpeg".
	Format string

	// Quality is the JPEG compression quality in [0,100]. Default: 75.
	Quality int

	// EveryNth captures every n-th compositor frame, bounding cadence.
	// Default: 1 (every frame).
	EveryNth int

	// MaxWidth/MaxHeight bound the capture dimensions. 0 = unbounded.
	MaxWidth  int
	MaxHeight int

	Logger *slog.Logger
}

func (c *SourceConfig) defaults() {
	if c.Format == "" {
		c.Format = "jpeg"
	}
	if c.Quality <= 0 {
		c.Quality = 75
	}
	if c.EveryNth <= 0 {
		c.EveryNth = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Source delivers raw frames from a page via the CDP screencast protocol.
// It implements pipeline.Source.
type Source struct {
	cfg  SourceConfig
	page *rod.Page

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewSource creates a Source for an already-open page.
func NewSource(page *rod.Page, cfg SourceConfig) *Source {
	cfg.defaults()
	return &Source{cfg: cfg, page: page}
}

// Start subscribes to screencast frames and begins emitting. Every frame
// is acknowledged back to the browser, which throttles capture to the
// consumer's pace.
func (s *Source) Start(ctx context.Context, emit func(frame.Raw)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("browser: source already started")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	page := s.page.Context(ctx)

	go page.EachEvent(func(e *proto.PageScreencastFrame) {
		err := proto.PageScreencastFrameAck{SessionID: e.SessionID}.Call(page)
		if err != nil && ctx.Err() == nil {
			s.cfg.Logger.Debug("browser: screencast ack failed", "error", err)
		}
		emit(frame.Raw{
			Pixels:     e.Data,
			CapturedAt: time.Now(),
			View:       viewMetadata(e.Metadata),
		})
	})()

	format := proto.PageStartScreencastFormatJpeg
	if s.cfg.Format == "png" {
		format = proto.PageStartScreencastFormatPng
	}
	req := proto.PageStartScreencast{
		Format:        format,
		Quality:       intp(s.cfg.Quality),
		EveryNthFrame: intp(s.cfg.EveryNth),
	}
	if s.cfg.MaxWidth > 0 {
		req.MaxWidth = intp(s.cfg.MaxWidth)
	}
	if s.cfg.MaxHeight > 0 {
		req.MaxHeight = intp(s.cfg.MaxHeight)
	}
	if err := req.Call(page); err != nil {
		s.cancel()
		return fmt.Errorf("browser: start screencast: %w", err)
	}

	s.running = true
	s.cfg.Logger.Info("browser: screencast started",
		"format", s.cfg.Format, "quality", s.cfg.Quality, "every_nth", s.cfg.EveryNth)
	return nil
}

// Stop ends the screencast subscription.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	err := proto.PageStopScreencast{}.Call(s.page)
	s.cancel()
	if err != nil {
		return fmt.Errorf("browser: stop screencast: %w", err)
	}
	return nil
}

// CaptureOnDemand takes a one-off screenshot of the current viewport.
// Used by the keep-alive policy and explicit snapshot requests.
func (s *Source) CaptureOnDemand(ctx context.Context) (frame.Raw, error) {
	req := &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: intp(s.cfg.Quality),
	}
	if s.cfg.Format == "png" {
		req.Format = proto.PageCaptureScreenshotFormatPng
		req.Quality = nil
	}

	data, err := s.page.Context(ctx).Screenshot(false, req)
	if err != nil {
		return frame.Raw{}, fmt.Errorf("browser: capture on demand: %w", err)
	}
	return frame.Raw{Pixels: data, CapturedAt: time.Now()}, nil
}

func viewMetadata(m *proto.PageScreencastFrameMetadata) frame.ViewMetadata {
	if m == nil {
		return frame.ViewMetadata{}
	}
	return frame.ViewMetadata{
		ScrollX:      m.ScrollOffsetX,
		ScrollY:      m.ScrollOffsetY,
		PageScale:    m.PageScaleFactor,
		DeviceWidth:  int(m.DeviceWidth),
		DeviceHeight: int(m.DeviceHeight),
		OffsetTop:    m.OffsetTop,
	}
}

func intp(v int) *int { return &v }
