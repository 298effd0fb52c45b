/*
Package intensity maps signed 16-bit detector planes onto 8-bit planes.

The mapping is a statistical tone map: saturated pixels near either end of the
int16 range are ignored, the mean and standard deviation of the remaining pixels set
a window of four standard deviations either side of the mean, and the window is
inverted so that bright detector values become dark output values.  Stats may be
computed over one plane or over every plane of a layer.
*/
package intensity

import (
	"fmt"
	"image"
	"math"

	"github.com/boljen/go-bitmap"

	"github.com/janelia-flyem/emtile/emtile"
)

const (
	// SaturationMargin is the distance from either int16 limit within which a pixel
	// is considered saturated.
	SaturationMargin = 3

	// Sigmas is the half-width of the intensity window in standard deviations.
	Sigmas = 4

	// Sentinel is written into excluded regions.  It is always saturated.
	Sentinel int16 = math.MaxInt16
)

// Saturated reports whether p lies within SaturationMargin of the int16 range limits.
func Saturated(p int16) bool {
	return p <= math.MinInt16+SaturationMargin || p >= math.MaxInt16-SaturationMargin
}

// Stats describes the intensity window derived from a set of planes.  Low and High
// are already swapped: Low is the upper end of the window and maps to 0.
type Stats struct {
	Mean   float64
	StdDev float64

	// Real is the number of pixels used for the statistics; Excluded counts the
	// saturated and masked pixels that were skipped.
	Real     int
	Excluded int

	Low  float64
	High float64
	Span float64
}

func (s Stats) String() string {
	return fmt.Sprintf("mean %.2f, std dev %.2f over %d pixels (%d excluded), window %.1f..%.1f",
		s.Mean, s.StdDev, s.Real, s.Excluded, s.Low, s.High)
}

// Clip says whether a mapped value fell outside the output range.
type Clip uint8

const (
	NotClipped Clip = iota
	LowClipped
	HighClipped
)

// Map converts one pixel.  Computed values at or below -1 become 0 and values at or
// above 256 become 255; anything in between is truncated toward zero.  Values below
// 0 count as high clipped because the window is inverted.
func (s Stats) Map(p int16) (uint8, Clip) {
	if s.Span == 0 {
		switch {
		case float64(p) > s.Low:
			return 0, HighClipped
		case float64(p) < s.Low:
			return 255, LowClipped
		default:
			return 0, NotClipped
		}
	}
	v := 255 * (float64(p) - s.Low) / s.Span
	var clip Clip
	switch {
	case v < 0:
		clip = HighClipped
	case v > 255:
		clip = LowClipped
	}
	switch {
	case v <= -1:
		return 0, clip
	case v >= 256:
		return 255, clip
	default:
		return uint8(int(v)), clip
	}
}

// exclusion marks the pixels of one plane that do not contribute to statistics.
type exclusion struct {
	mask bitmap.Bitmap
	n    int
}

func newExclusion(p *emtile.Plane16, regions []image.Rectangle) exclusion {
	ex := exclusion{mask: bitmap.New(len(p.Pix))}
	bounds := image.Rect(0, 0, p.Width, p.Height)
	for _, r := range regions {
		r = r.Intersect(bounds)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				ex.mark(y*p.Width + x)
			}
		}
	}
	for i, v := range p.Pix {
		if Saturated(v) {
			ex.mark(i)
		}
	}
	return ex
}

func (ex *exclusion) mark(i int) {
	if !ex.mask.Get(i) {
		ex.mask.Set(i, true)
		ex.n++
	}
}

// ComputeStats derives the intensity window over the union of planes, skipping
// saturated pixels and any pixel inside regions.  With no usable pixels the mean and
// standard deviation are zero.
func ComputeStats(planes []*emtile.Plane16, regions []image.Rectangle) Stats {
	exclusions := make([]exclusion, len(planes))
	for i, p := range planes {
		exclusions[i] = newExclusion(p, regions)
	}
	return computeStats(planes, exclusions)
}

func computeStats(planes []*emtile.Plane16, exclusions []exclusion) Stats {
	var s Stats
	var sum float64
	for i, p := range planes {
		ex := exclusions[i]
		s.Excluded += ex.n
		for j, v := range p.Pix {
			if !ex.mask.Get(j) {
				sum += float64(v)
				s.Real++
			}
		}
	}
	if s.Real > 0 {
		s.Mean = sum / float64(s.Real)
		var sq float64
		for i, p := range planes {
			ex := exclusions[i]
			for j, v := range p.Pix {
				if !ex.mask.Get(j) {
					d := float64(v) - s.Mean
					sq += d * d
				}
			}
		}
		s.StdDev = math.Sqrt(sq / float64(s.Real))
	} else {
		emtile.Warningf("No unsaturated pixels in %d planes; using a zero-width intensity window\n", len(planes))
	}
	low := clampInt16(s.Mean - Sigmas*s.StdDev)
	high := clampInt16(s.Mean + Sigmas*s.StdDev)
	s.Low, s.High = high, low
	s.Span = s.High - s.Low
	return s
}

func clampInt16(v float64) float64 {
	return math.Max(math.MinInt16, math.Min(math.MaxInt16, v))
}

// Compressed is one mapped plane with its clip counts.
type Compressed struct {
	Plane       *emtile.Plane8
	LowClipped  int
	HighClipped int
}

// Total returns the number of pixels in the plane.
func (c Compressed) Total() int {
	return len(c.Plane.Pix)
}

// Apply maps p through the window.
func (s Stats) Apply(p *emtile.Plane16) Compressed {
	out := Compressed{Plane: emtile.NewPlane8(p.Width, p.Height)}
	for i, v := range p.Pix {
		b, clip := s.Map(v)
		out.Plane.Pix[i] = b
		switch clip {
		case LowClipped:
			out.LowClipped++
		case HighClipped:
			out.HighClipped++
		}
	}
	return out
}

// Result is the outcome of compressing a set of planes with one shared window.
type Result struct {
	Stats  Stats
	Planes []Compressed
}

// LowClipped returns the low clip count over all planes.
func (r *Result) LowClipped() int {
	var n int
	for _, c := range r.Planes {
		n += c.LowClipped
	}
	return n
}

// HighClipped returns the high clip count over all planes.
func (r *Result) HighClipped() int {
	var n int
	for _, c := range r.Planes {
		n += c.HighClipped
	}
	return n
}

// Total returns the pixel count over all planes.
func (r *Result) Total() int {
	var n int
	for _, c := range r.Planes {
		n += c.Total()
	}
	return n
}

// Compress maps a single plane using its own statistics.
func Compress(p *emtile.Plane16) *Result {
	return CompressLayer([]*emtile.Plane16{p}, nil)
}

// CompressLayer maps every plane of a layer through one window computed over all of
// them.  Pixels inside regions are replaced by Sentinel before mapping so a bad
// detector area neither skews the statistics nor shows through in the output.
// The input planes are not modified.
func CompressLayer(planes []*emtile.Plane16, regions []image.Rectangle) *Result {
	work := planes
	if len(regions) > 0 {
		work = make([]*emtile.Plane16, len(planes))
		for i, p := range planes {
			c := p.Clone()
			for _, r := range regions {
				c.Fill(r, Sentinel)
			}
			work[i] = c
		}
	}
	exclusions := make([]exclusion, len(work))
	for i, p := range work {
		exclusions[i] = newExclusion(p, nil)
	}
	res := &Result{Stats: computeStats(work, exclusions)}
	res.Planes = make([]Compressed, len(work))
	for i, p := range work {
		res.Planes[i] = res.Stats.Apply(p)
	}
	total := res.Total()
	emtile.Debugf("Compressed %d planes: %s\n", len(planes), res.Stats)
	emtile.Infof("Intensity compression clipped %d low (%.3f%%), %d high (%.3f%%) of %d pixels\n",
		res.LowClipped(), emtile.Percent(res.LowClipped(), total),
		res.HighClipped(), emtile.Percent(res.HighClipped(), total), total)
	return res
}
