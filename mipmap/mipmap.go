// Package mipmap builds power-of-two downsample pyramids from 8-bit planes.
package mipmap

import (
	"fmt"

	"github.com/janelia-flyem/emtile/emtile"
)

// UnknownDepth marks the synthetic depth axis of a level's pixel size.  Viewers treat
// a zero size as real, so a negative sentinel is used instead.
const UnknownDepth = -1.0

// PixelSize is the physical size of one pixel along x, y, and depth.
type PixelSize [3]float64

// Double returns the pixel size of the next coarser level.
func (s PixelSize) Double() PixelSize {
	return PixelSize{2 * s[0], 2 * s[1], s[2]}
}

// Level is one resolution of a pyramid.  Level 0 holds the source planes.
type Level struct {
	Level     int
	Planes    []*emtile.Plane8
	PixelSize PixelSize
}

func (l Level) String() string {
	if len(l.Planes) == 0 {
		return fmt.Sprintf("mipmap level %d (empty)", l.Level)
	}
	return fmt.Sprintf("mipmap level %d: %d x %d x %d channels", l.Level, l.Planes[0].Width, l.Planes[0].Height, len(l.Planes))
}

// Supported returns how many times a width x height image can be halved before
// either dimension would drop below 1.
func Supported(width, height int) int {
	n := 0
	for width >= 2 && height >= 2 {
		width /= 2
		height /= 2
		n++
	}
	return n
}

// NumLevels returns the number of downsampled levels built for a width x height
// image when at most maxLevel are requested.
func NumLevels(maxLevel, width, height int) int {
	n := Supported(width, height)
	if maxLevel < n {
		n = maxLevel
	}
	if n < 0 {
		n = 0
	}
	return n
}

// Downsample averages each 2x2 window of p, truncating the mean.  An odd trailing
// row or column is dropped.
func Downsample(p *emtile.Plane8) *emtile.Plane8 {
	w, h := p.Width/2, p.Height/2
	out := emtile.NewPlane8(w, h)
	for y := 0; y < h; y++ {
		r0 := p.Pix[2*y*p.Width:]
		r1 := p.Pix[(2*y+1)*p.Width:]
		for x := 0; x < w; x++ {
			sum := int(r0[2*x]) + int(r0[2*x+1]) + int(r1[2*x]) + int(r1[2*x+1])
			out.Pix[y*w+x] = uint8(sum / 4)
		}
	}
	return out
}

// Pyramid returns level 0 (the planes themselves) followed by up to maxLevel
// downsampled levels.  Every channel is downsampled independently.
func Pyramid(planes []*emtile.Plane8, pixelSize float64, maxLevel int) ([]Level, error) {
	if len(planes) == 0 {
		return nil, fmt.Errorf("no planes to downsample")
	}
	w, h := planes[0].Width, planes[0].Height
	for c, p := range planes {
		if p.Width != w || p.Height != h {
			return nil, fmt.Errorf("channel %d is %d x %d, expected %d x %d", c, p.Width, p.Height, w, h)
		}
	}
	n := NumLevels(maxLevel, w, h)
	levels := make([]Level, 0, n+1)
	levels = append(levels, Level{
		Level:     0,
		Planes:    planes,
		PixelSize: PixelSize{pixelSize, pixelSize, UnknownDepth},
	})
	for i := 1; i <= n; i++ {
		prev := levels[i-1]
		next := Level{Level: i, PixelSize: prev.PixelSize.Double()}
		for _, p := range prev.Planes {
			next.Planes = append(next.Planes, Downsample(p))
		}
		levels = append(levels, next)
	}
	return levels, nil
}
