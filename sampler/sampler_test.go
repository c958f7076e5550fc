package sampler

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/hazyhaar/viewsync/delta"
	"github.com/hazyhaar/viewsync/frame"
)

func solidPNG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

func newTestSampler(t *testing.T, cfg Config) (*Sampler, chan *frame.Frame) {
	t.Helper()
	ch := make(chan *frame.Frame, 128)
	s := New(delta.New(delta.Options{}), func(f *frame.Frame) { ch <- f }, cfg)
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s, ch
}

func recvFrame(t *testing.T, ch chan *frame.Frame) *frame.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded frame")
		return nil
	}
}

func TestForwardOnChange(t *testing.T) {
	s, ch := newTestSampler(t, Config{KeepAlive: time.Minute})

	s.Ingest(frame.Raw{Pixels: solidPNG(t, red)})
	f1 := recvFrame(t, ch)
	if f1.ID != 1 || !f1.Changed || f1.DeltaPercent != 100 {
		t.Errorf("first frame = %+v, want ID 1, changed, 100%%", f1)
	}

	s.Ingest(frame.Raw{Pixels: solidPNG(t, blue)})
	f2 := recvFrame(t, ch)
	if f2.ID != 2 || !f2.Changed {
		t.Errorf("second frame = %+v, want ID 2, changed", f2)
	}
}

func TestDropUnchanged(t *testing.T) {
	s, ch := newTestSampler(t, Config{KeepAlive: time.Minute})
	img := solidPNG(t, red)

	s.Ingest(frame.Raw{Pixels: img})
	recvFrame(t, ch)

	s.Ingest(frame.Raw{Pixels: img})

	deadline := time.Now().Add(2 * time.Second)
	for s.Stats().Dropped == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("unchanged frame never dropped: stats %+v", s.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case f := <-ch:
		t.Errorf("unchanged frame forwarded: %+v", f)
	default:
	}
}

func TestKeepAliveForwardsDuringIdle(t *testing.T) {
	s, ch := newTestSampler(t, Config{KeepAlive: 60 * time.Millisecond})

	s.Ingest(frame.Raw{Pixels: solidPNG(t, red)})
	recvFrame(t, ch)

	ka := recvFrame(t, ch)
	if !ka.KeepAlive || ka.Changed {
		t.Errorf("idle frame = %+v, want keep-alive and unchanged", ka)
	}
	if ka.ID != 2 {
		t.Errorf("keep-alive frame ID = %d, want 2", ka.ID)
	}

	// The keep-alive must not have moved the delta baseline: a genuinely
	// different capture still registers as changed.
	s.Ingest(frame.Raw{Pixels: solidPNG(t, blue)})
	var f *frame.Frame
	for f = recvFrame(t, ch); f.KeepAlive; f = recvFrame(t, ch) {
	}
	if !f.Changed {
		t.Errorf("post-keep-alive frame = %+v, want changed", f)
	}
}

func TestForwardedIDsStrictlyIncrease(t *testing.T) {
	s, ch := newTestSampler(t, Config{KeepAlive: time.Minute, Workers: 4})

	const n = 20
	colors := []color.RGBA{red, blue}
	for i := 0; i < n; i++ {
		s.Ingest(frame.Raw{Pixels: solidPNG(t, colors[i%2])})
	}

	last := int64(0)
	for i := 0; i < n; i++ {
		f := recvFrame(t, ch)
		if f.ID <= last {
			t.Fatalf("frame %d: ID %d not greater than previous %d", i, f.ID, last)
		}
		last = f.ID
	}
}

func TestIngestDropsWhenInboxFull(t *testing.T) {
	// Not started: the inbox fills and overflow is counted, never blocked on.
	s := New(delta.New(delta.Options{}), func(*frame.Frame) {}, Config{QueueDepth: 2})

	img := solidPNG(t, red)
	for i := 0; i < 5; i++ {
		s.Ingest(frame.Raw{Pixels: img})
	}

	if got := s.Stats().InboxDrops; got != 3 {
		t.Errorf("InboxDrops = %d, want 3", got)
	}
}

func TestSetKeepAlive(t *testing.T) {
	s, _ := newTestSampler(t, Config{KeepAlive: time.Minute})

	if err := s.SetKeepAlive(0); err == nil {
		t.Error("SetKeepAlive(0) did not fail")
	}
	if err := s.SetKeepAlive(time.Second); err != nil {
		t.Errorf("SetKeepAlive(1s) failed: %v", err)
	}
}

func TestStatsCounters(t *testing.T) {
	s, ch := newTestSampler(t, Config{KeepAlive: time.Minute})

	s.Ingest(frame.Raw{Pixels: solidPNG(t, red)})
	recvFrame(t, ch)
	s.Ingest(frame.Raw{Pixels: solidPNG(t, blue)})
	recvFrame(t, ch)

	st := s.Stats()
	if st.Captured != 2 || st.Forwarded != 2 {
		t.Errorf("stats = %+v, want captured 2, forwarded 2", st)
	}
	if st.CurrentFrameID != 2 {
		t.Errorf("CurrentFrameID = %d, want 2", st.CurrentFrameID)
	}
	if st.AvgForwardInterval <= 0 {
		t.Errorf("AvgForwardInterval = %v, want > 0", st.AvgForwardInterval)
	}
}
