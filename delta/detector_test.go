package delta

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func solidPNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// halfPNG paints the left half with a and the right half with b.
func halfPNG(t *testing.T, w, h int, a, b color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.SetRGBA(x, y, a)
			} else {
				img.SetRGBA(x, y, b)
			}
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

func TestCompareIdentical(t *testing.T) {
	d := New(Options{})
	img := solidPNG(t, 16, 16, red)

	res := d.Compare(img, img)
	if res.Changed {
		t.Errorf("identical frames reported changed: %+v", res)
	}
	if res.DeltaPercent != 0 {
		t.Errorf("DeltaPercent = %v, want 0", res.DeltaPercent)
	}
}

func TestCompareAllDifferent(t *testing.T) {
	d := New(Options{})
	res := d.Compare(solidPNG(t, 16, 16, red), solidPNG(t, 16, 16, blue))
	if !res.Changed {
		t.Errorf("fully different frames not reported changed: %+v", res)
	}
	if res.DeltaPercent != 100 {
		t.Errorf("DeltaPercent = %v, want 100", res.DeltaPercent)
	}
}

func TestCompareHalfDifferent(t *testing.T) {
	d := New(Options{})
	res := d.Compare(solidPNG(t, 16, 16, red), halfPNG(t, 16, 16, blue, red))
	if !res.Changed {
		t.Errorf("half-different frames not reported changed: %+v", res)
	}
	if res.DeltaPercent != 50 {
		t.Errorf("DeltaPercent = %v, want 50", res.DeltaPercent)
	}
}

func TestCompareNilPrevIsFullChange(t *testing.T) {
	d := New(Options{})
	res := d.Compare(nil, solidPNG(t, 16, 16, red))
	if res != FullChange {
		t.Errorf("nil prev: got %+v, want FullChange", res)
	}
}

func TestCompareGarbageIsFullChange(t *testing.T) {
	d := New(Options{})
	img := solidPNG(t, 16, 16, red)

	if res := d.Compare([]byte("not an image"), img); res != FullChange {
		t.Errorf("garbage prev: got %+v, want FullChange", res)
	}
	if res := d.Compare(img, []byte("not an image")); res != FullChange {
		t.Errorf("garbage cur: got %+v, want FullChange", res)
	}
}

func TestCompareDimensionMismatchIsFullChange(t *testing.T) {
	d := New(Options{})
	res := d.Compare(solidPNG(t, 16, 16, red), solidPNG(t, 32, 16, red))
	if res != FullChange {
		t.Errorf("dimension mismatch: got %+v, want FullChange", res)
	}
}

func TestColorToleranceAbsorbsNoise(t *testing.T) {
	d := New(Options{ColorTolerance: 0.1})

	// 10% of 255 is ~25 per channel; a delta of 10 stays under it.
	a := solidPNG(t, 16, 16, color.RGBA{R: 100, G: 100, B: 100, A: 255})
	b := solidPNG(t, 16, 16, color.RGBA{R: 110, G: 110, B: 110, A: 255})

	res := d.Compare(a, b)
	if res.Changed || res.DeltaPercent != 0 {
		t.Errorf("sub-tolerance noise: got %+v, want unchanged", res)
	}

	// A delta of 60 per channel must register.
	c := solidPNG(t, 16, 16, color.RGBA{R: 160, G: 160, B: 160, A: 255})
	res = d.Compare(a, c)
	if !res.Changed || res.DeltaPercent != 100 {
		t.Errorf("above-tolerance change: got %+v, want full change", res)
	}
}

func TestThresholdBoundary(t *testing.T) {
	// 50% delta against a 50% threshold counts as changed: the bar is
	// inclusive.
	d := New(Options{Threshold: 50})
	res := d.Compare(solidPNG(t, 16, 16, red), halfPNG(t, 16, 16, blue, red))
	if !res.Changed {
		t.Errorf("delta equal to threshold not reported changed: %+v", res)
	}

	d = New(Options{Threshold: 51})
	res = d.Compare(solidPNG(t, 16, 16, red), halfPNG(t, 16, 16, blue, red))
	if res.Changed {
		t.Errorf("delta below threshold reported changed: %+v", res)
	}
}

func TestSetThresholdClamps(t *testing.T) {
	d := New(Options{})

	d.SetThreshold(-5)
	if got := d.Threshold(); got != 0 {
		t.Errorf("Threshold() after SetThreshold(-5) = %v, want 0", got)
	}
	d.SetThreshold(150)
	if got := d.Threshold(); got != 100 {
		t.Errorf("Threshold() after SetThreshold(150) = %v, want 100", got)
	}
	d.SetThreshold(7.5)
	if got := d.Threshold(); got != 7.5 {
		t.Errorf("Threshold() = %v, want 7.5", got)
	}
}

func TestDownsampleStillDetectsChange(t *testing.T) {
	d := New(Options{Downsample: 4})

	res := d.Compare(solidPNG(t, 64, 64, red), solidPNG(t, 64, 64, red))
	if res.Changed {
		t.Errorf("downsampled identical frames reported changed: %+v", res)
	}

	res = d.Compare(solidPNG(t, 64, 64, red), solidPNG(t, 64, 64, blue))
	if !res.Changed || res.DeltaPercent != 100 {
		t.Errorf("downsampled full change: got %+v, want 100%% changed", res)
	}
}
