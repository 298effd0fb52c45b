package emtile

import (
	"fmt"
	"image"
)

// Plane16 is a single channel of signed 16-bit pixels in row-major order.
type Plane16 struct {
	Width  int
	Height int
	Pix    []int16
}

// NewPlane16 returns a zeroed plane of the given size.
func NewPlane16(width, height int) *Plane16 {
	return &Plane16{
		Width:  width,
		Height: height,
		Pix:    make([]int16, width*height),
	}
}

// At returns the pixel at (x, y).
func (p *Plane16) At(x, y int) int16 {
	return p.Pix[y*p.Width+x]
}

// Set stores v at (x, y).
func (p *Plane16) Set(x, y int, v int16) {
	p.Pix[y*p.Width+x] = v
}

// Clone returns a deep copy of the plane.
func (p *Plane16) Clone() *Plane16 {
	c := &Plane16{Width: p.Width, Height: p.Height, Pix: make([]int16, len(p.Pix))}
	copy(c.Pix, p.Pix)
	return c
}

// Fill sets every pixel within r, clipped to the plane bounds, to v.
func (p *Plane16) Fill(r image.Rectangle, v int16) {
	r = r.Intersect(image.Rect(0, 0, p.Width, p.Height))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := p.Pix[y*p.Width : (y+1)*p.Width]
		for x := r.Min.X; x < r.Max.X; x++ {
			row[x] = v
		}
	}
}

func (p *Plane16) String() string {
	return fmt.Sprintf("16-bit plane %d x %d", p.Width, p.Height)
}

// Plane8 is a single channel of unsigned 8-bit pixels in row-major order.
type Plane8 struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewPlane8 returns a zeroed plane of the given size.
func NewPlane8(width, height int) *Plane8 {
	return &Plane8{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height),
	}
}

func (p *Plane8) At(x, y int) uint8 {
	return p.Pix[y*p.Width+x]
}

func (p *Plane8) Set(x, y int, v uint8) {
	p.Pix[y*p.Width+x] = v
}

// Gray returns an image.Gray that shares the plane's pixel data.
func (p *Plane8) Gray() *image.Gray {
	return &image.Gray{
		Pix:    p.Pix,
		Stride: p.Width,
		Rect:   image.Rect(0, 0, p.Width, p.Height),
	}
}

func (p *Plane8) String() string {
	return fmt.Sprintf("8-bit plane %d x %d", p.Width, p.Height)
}
