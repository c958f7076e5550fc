// Package delta computes changed-pixel percentages between two encoded
// frames. It decodes PNG or JPEG payloads, compares per-channel values
// against a colour tolerance that ignores anti-aliasing noise, and reports
// a changed verdict against a configurable threshold.
//
// The detector never returns an error: any condition that prevents a
// trustworthy comparison (decode failure, dimension mismatch, missing
// previous frame) is reported as a full change, so a possibly-changed
// frame is never silently dropped.
package delta

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sync/atomic"

	"golang.org/x/image/draw"
)

// Result is the outcome of one comparison.
type Result struct {
	Changed      bool
	DeltaPercent float64
}

// FullChange is the fail-safe verdict: treat the frame as entirely new.
var FullChange = Result{Changed: true, DeltaPercent: 100}

// Options tunes a Detector.
type Options struct {
	// Threshold is the changed-percentage bar in [0,100]. A frame whose
	// delta meets it is reported as changed. Default: 2.
	Threshold float64

	// ColorTolerance is the per-channel difference, as a fraction of the
	// maximum channel delta, below which two pixels count as equal.
	// Default: 0.1 — tuned to ignore anti-aliasing noise.
	ColorTolerance float64

	// Downsample divides both dimensions by this factor before comparing,
	// bounding compare cost on large viewports. 1 disables. Default: 1.
	Downsample int
}

func (o *Options) defaults() {
	if o.Threshold <= 0 {
		o.Threshold = 2
	}
	if o.ColorTolerance <= 0 {
		o.ColorTolerance = 0.1
	}
	if o.Downsample < 1 {
		o.Downsample = 1
	}
}

// Detector compares encoded frames. Safe for concurrent use; the threshold
// is hot-updatable.
type Detector struct {
	threshold  atomic.Uint64 // math.Float64bits
	tolerance  uint32        // absolute per-channel delta, 8-bit scale
	downsample int
}

// New creates a Detector.
func New(opts Options) *Detector {
	opts.defaults()
	d := &Detector{
		tolerance:  uint32(opts.ColorTolerance * 255),
		downsample: opts.Downsample,
	}
	d.threshold.Store(math.Float64bits(opts.Threshold))
	return d
}

// Threshold returns the current changed-percentage bar.
func (d *Detector) Threshold() float64 {
	return math.Float64frombits(d.threshold.Load())
}

// SetThreshold updates the changed-percentage bar. Values outside [0,100]
// are clamped.
func (d *Detector) SetThreshold(pct float64) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	d.threshold.Store(math.Float64bits(pct))
}

// Compare decodes prev and cur and reports the changed-pixel percentage.
// A nil prev (first capture, forced recapture) is a full change by
// definition and skips decoding entirely.
func (d *Detector) Compare(prev, cur []byte) Result {
	if len(prev) == 0 {
		return FullChange
	}

	prevImg, err := d.decode(prev)
	if err != nil {
		return FullChange
	}
	curImg, err := d.decode(cur)
	if err != nil {
		return FullChange
	}

	pb, cb := prevImg.Bounds(), curImg.Bounds()
	if pb.Dx() != cb.Dx() || pb.Dy() != cb.Dy() {
		// Dimension mismatch (resize, zoom) is always a full change,
		// never an error.
		return FullChange
	}

	pct := diffPercent(prevImg, curImg, d.tolerance)
	return Result{
		Changed:      pct >= d.Threshold(),
		DeltaPercent: pct,
	}
}

// decode parses the payload and converts it to RGBA, downsampling when
// configured.
func (d *Detector) decode(payload []byte) (*image.RGBA, error) {
	src, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if d.downsample > 1 {
		w = max(1, w/d.downsample)
		h = max(1, h/d.downsample)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	}
	return dst, nil
}

// diffPercent counts pixels whose per-channel difference exceeds the
// tolerance. Both images must share dimensions and be RGBA.
func diffPercent(a, b *image.RGBA, tolerance uint32) float64 {
	w, h := a.Bounds().Dx(), a.Bounds().Dy()
	total := w * h
	if total == 0 {
		return 0
	}

	diff := 0
	for y := 0; y < h; y++ {
		ao := a.PixOffset(a.Bounds().Min.X, a.Bounds().Min.Y+y)
		bo := b.PixOffset(b.Bounds().Min.X, b.Bounds().Min.Y+y)
		for x := 0; x < w; x++ {
			if pixelDiffers(a.Pix[ao:ao+4], b.Pix[bo:bo+4], tolerance) {
				diff++
			}
			ao += 4
			bo += 4
		}
	}

	return float64(diff) / float64(total) * 100
}

func pixelDiffers(p, q []byte, tolerance uint32) bool {
	for i := 0; i < 3; i++ { // alpha is ignored: screencasts are opaque
		d := uint32(p[i]) - uint32(q[i])
		if p[i] < q[i] {
			d = uint32(q[i]) - uint32(p[i])
		}
		if d > tolerance {
			return true
		}
	}
	return false
}
