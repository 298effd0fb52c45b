package intensity

import (
	"image"
	"math"
	"reflect"
	"testing"

	"github.com/janelia-flyem/emtile/emtile"
)

func planeOf(w, h int, pix ...int16) *emtile.Plane16 {
	p := emtile.NewPlane16(w, h)
	copy(p.Pix, pix)
	return p
}

func TestSaturated(t *testing.T) {
	tests := []struct {
		v   int16
		sat bool
	}{
		{math.MinInt16, true},
		{-32765, true},
		{-32764, false},
		{0, false},
		{32763, false},
		{32764, true},
		{math.MaxInt16, true},
	}
	for _, tc := range tests {
		if got := Saturated(tc.v); got != tc.sat {
			t.Errorf("Saturated(%d) = %t, expected %t\n", tc.v, got, tc.sat)
		}
	}
}

func TestMapTruncation(t *testing.T) {
	s := Stats{Low: 255, High: -255, Span: -510}
	tests := []struct {
		p    int16
		out  uint8
		clip Clip
	}{
		{255, 0, NotClipped},
		{256, 0, HighClipped}, // -0.5 truncates to 0
		{257, 0, HighClipped}, // -1.0
		{1000, 0, HighClipped},
		{0, 127, NotClipped}, // 127.5
		{-255, 255, NotClipped},
		{-256, 255, LowClipped}, // 255.5 truncates to 255
		{-257, 255, LowClipped}, // 256.0
		{-5000, 255, LowClipped},
	}
	for _, tc := range tests {
		out, clip := s.Map(tc.p)
		if out != tc.out || clip != tc.clip {
			t.Errorf("Map(%d) = (%d, %d), expected (%d, %d)\n", tc.p, out, clip, tc.out, tc.clip)
		}
	}
}

func TestStatsWindow(t *testing.T) {
	s := ComputeStats([]*emtile.Plane16{planeOf(2, 2, 10, 20, 30, 40)}, nil)
	if s.Mean != 25 || s.Real != 4 || s.Excluded != 0 {
		t.Fatalf("bad stats: %s\n", s)
	}
	sigma := math.Sqrt(125)
	if math.Abs(s.StdDev-sigma) > 1e-9 {
		t.Errorf("expected std dev %g, got %g\n", sigma, s.StdDev)
	}
	if math.Abs(s.Low-(25+4*sigma)) > 1e-9 || math.Abs(s.High-(25-4*sigma)) > 1e-9 {
		t.Errorf("window should be swapped: low %g high %g\n", s.Low, s.High)
	}
	if s.Span >= 0 {
		t.Errorf("expected negative span after swap, got %g\n", s.Span)
	}
}

func TestStatsWindowClamped(t *testing.T) {
	s := ComputeStats([]*emtile.Plane16{planeOf(2, 1, -30000, 30000)}, nil)
	if s.Low != math.MaxInt16 || s.High != math.MinInt16 {
		t.Errorf("window should clamp to the int16 range, got %g..%g\n", s.Low, s.High)
	}
}

func TestSaturatedCorner(t *testing.T) {
	p := emtile.NewPlane16(16, 16)
	p.Fill(image.Rect(0, 0, 2, 2), math.MaxInt16)
	res := Compress(p)
	if res.Stats.Span != 0 || res.Stats.Excluded != 4 || res.Stats.Real != 252 {
		t.Errorf("unexpected stats: %s\n", res.Stats)
	}
	out := res.Planes[0].Plane
	for i, v := range out.Pix {
		if v != 0 {
			t.Fatalf("expected uniform 0 output, pixel %d = %d\n", i, v)
		}
	}
	if res.HighClipped() != 4 || res.LowClipped() != 0 {
		t.Errorf("expected 4 high clipped and 0 low clipped, got %d and %d\n", res.HighClipped(), res.LowClipped())
	}
}

func TestZeroSpanBelowWindow(t *testing.T) {
	p := planeOf(3, 1, 0, 0, math.MinInt16)
	res := Compress(p)
	if got := res.Planes[0].Plane.Pix; got[0] != 0 || got[2] != 255 {
		t.Errorf("unexpected output %v\n", got)
	}
	if res.LowClipped() != 1 || res.HighClipped() != 0 {
		t.Errorf("expected one low clipped pixel, got %d low %d high\n", res.LowClipped(), res.HighClipped())
	}
}

func TestLayerWideStats(t *testing.T) {
	a := planeOf(2, 1, 0, 0)
	b := planeOf(2, 1, 100, 100)
	res := CompressLayer([]*emtile.Plane16{a, b}, nil)
	if res.Stats.Mean != 50 || res.Stats.StdDev != 50 || res.Stats.Real != 4 {
		t.Fatalf("expected stats over the union of planes, got %s\n", res.Stats)
	}
	// Window is 250 down to -150; 0 maps to 255*250/400.
	if v := res.Planes[0].Plane.Pix[0]; v != 159 {
		t.Errorf("expected 159, got %d\n", v)
	}
	if v := res.Planes[1].Plane.Pix[0]; v != 95 {
		t.Errorf("expected 95, got %d\n", v)
	}
	if len(res.Planes) != 2 || res.Total() != 4 {
		t.Errorf("expected one output per input plane\n")
	}
}

func TestExcludedRegions(t *testing.T) {
	p := emtile.NewPlane16(8, 8)
	for i := range p.Pix {
		p.Pix[i] = int16(100 + i%3)
	}
	bad := image.Rect(0, 0, 4, 2)
	withBad := p.Clone()
	withBad.Fill(bad, 20000)

	clean := ComputeStats([]*emtile.Plane16{withBad}, []image.Rectangle{bad})
	res := CompressLayer([]*emtile.Plane16{withBad}, []image.Rectangle{bad})
	if !reflect.DeepEqual(clean, res.Stats) {
		t.Errorf("masked stats differ:\n%s\n%s\n", clean, res.Stats)
	}
	if clean.Excluded != 8 || clean.Real != 56 {
		t.Errorf("expected 8 excluded pixels, got %s\n", clean)
	}
	if withBad.At(0, 0) != 20000 {
		t.Errorf("input plane was modified\n")
	}
	out := res.Planes[0].Plane
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			if out.At(x, y) != 0 {
				t.Errorf("masked pixel (%d,%d) = %d, expected 0\n", x, y, out.At(x, y))
			}
		}
	}
	if res.HighClipped() < 8 {
		t.Errorf("masked pixels should count as high clipped, got %d\n", res.HighClipped())
	}
}

func TestCompressionDeterministic(t *testing.T) {
	p := emtile.NewPlane16(64, 48)
	seed := uint32(12345)
	for i := range p.Pix {
		seed = seed*1664525 + 1013904223
		p.Pix[i] = int16(seed >> 16)
	}
	first := Compress(p)
	for i := 0; i < 3; i++ {
		again := Compress(p)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs from first run\n", i)
		}
	}
}
