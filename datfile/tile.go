package datfile

import (
	"encoding/binary"
	"fmt"

	"github.com/janelia-flyem/emtile/emtile"
)

// Tile is a complete decoded dat file.  Payload holds the pixel bytes exactly as
// stored (big-endian for 16-bit data) and Recipe holds every byte past FileLength.
type Tile struct {
	Name    string
	Header  *Header
	Payload []byte
	Recipe  []byte
}

// DecodeTile splits a full dat file into header, pixel payload and trailer.
func DecodeTile(name string, b []byte) (*Tile, error) {
	h, err := DecodeHeader(name, b)
	if err != nil {
		return nil, err
	}
	if h.ChanNum == 0 || h.XResolution == 0 || h.YResolution == 0 {
		return nil, &HeaderInvalidError{name, fmt.Sprintf("empty geometry %d x %d x %d channels",
			h.XResolution, h.YResolution, h.ChanNum)}
	}
	expected := HeaderSize + h.PayloadSize()
	if h.FileLength != expected {
		return nil, &HeaderInvalidError{name, fmt.Sprintf("declared file length %d, geometry implies %d",
			h.FileLength, expected)}
	}
	if int64(len(b)) < h.FileLength {
		return nil, fmt.Errorf("dat file %q is truncated: %d bytes, header declares %d", name, len(b), h.FileLength)
	}
	return &Tile{
		Name:    name,
		Header:  h,
		Payload: b[HeaderSize:h.FileLength],
		Recipe:  b[h.FileLength:],
	}, nil
}

// Width returns the number of pixels per row.
func (t *Tile) Width() int {
	return int(t.Header.XResolution)
}

// Height returns the number of rows.
func (t *Tile) Height() int {
	return int(t.Header.YResolution)
}

// Channels returns the number of interleaved channels.
func (t *Tile) Channels() int {
	return int(t.Header.ChanNum)
}

// Bytes returns the original file contents.
func (t *Tile) Bytes() []byte {
	out := make([]byte, 0, HeaderSize+len(t.Payload)+len(t.Recipe))
	out = append(out, t.Header.Raw...)
	out = append(out, t.Payload...)
	return append(out, t.Recipe...)
}

// Channel16 extracts channel c of a 16-bit tile.
func (t *Tile) Channel16(c int) (*emtile.Plane16, error) {
	if t.Header.BitDepth() != 16 {
		return nil, fmt.Errorf("tile %q is %d-bit, not 16-bit", t.Name, t.Header.BitDepth())
	}
	nc := t.Channels()
	if c < 0 || c >= nc {
		return nil, fmt.Errorf("tile %q has no channel %d (%d channels)", t.Name, c, nc)
	}
	p := emtile.NewPlane16(t.Width(), t.Height())
	for i := range p.Pix {
		off := (i*nc + c) * 2
		p.Pix[i] = int16(binary.BigEndian.Uint16(t.Payload[off : off+2]))
	}
	return p, nil
}

// Channel8 extracts channel c of an 8-bit tile.
func (t *Tile) Channel8(c int) (*emtile.Plane8, error) {
	if t.Header.BitDepth() != 8 {
		return nil, fmt.Errorf("tile %q is %d-bit, not 8-bit", t.Name, t.Header.BitDepth())
	}
	nc := t.Channels()
	if c < 0 || c >= nc {
		return nil, fmt.Errorf("tile %q has no channel %d (%d channels)", t.Name, c, nc)
	}
	p := emtile.NewPlane8(t.Width(), t.Height())
	for i := range p.Pix {
		p.Pix[i] = t.Payload[i*nc+c]
	}
	return p, nil
}

// Channels16 extracts every channel of a 16-bit tile.
func (t *Tile) Channels16() ([]*emtile.Plane16, error) {
	planes := make([]*emtile.Plane16, t.Channels())
	for c := range planes {
		p, err := t.Channel16(c)
		if err != nil {
			return nil, err
		}
		planes[c] = p
	}
	return planes, nil
}

// NewTile16 builds a 16-bit tile from per-channel planes.  The header's geometry
// and FileLength are rewritten to match the planes.
func NewTile16(name string, h *Header, planes []*emtile.Plane16, recipe []byte) (*Tile, error) {
	if len(planes) == 0 {
		return nil, fmt.Errorf("no channels given for tile %q", name)
	}
	w, ht := planes[0].Width, planes[0].Height
	for c, p := range planes {
		if p.Width != w || p.Height != ht {
			return nil, fmt.Errorf("channel %d is %d x %d, expected %d x %d", c, p.Width, p.Height, w, ht)
		}
	}
	h.EightBit = 0
	if _, err := h.Encode(w, ht, len(planes)); err != nil {
		return nil, err
	}
	nc := len(planes)
	payload := make([]byte, w*ht*nc*2)
	for c, p := range planes {
		for i, v := range p.Pix {
			off := (i*nc + c) * 2
			binary.BigEndian.PutUint16(payload[off:off+2], uint16(v))
		}
	}
	return &Tile{Name: name, Header: h, Payload: payload, Recipe: recipe}, nil
}

// NewTile8 builds an 8-bit tile from per-channel planes.
func NewTile8(name string, h *Header, planes []*emtile.Plane8, recipe []byte) (*Tile, error) {
	if len(planes) == 0 {
		return nil, fmt.Errorf("no channels given for tile %q", name)
	}
	w, ht := planes[0].Width, planes[0].Height
	for c, p := range planes {
		if p.Width != w || p.Height != ht {
			return nil, fmt.Errorf("channel %d is %d x %d, expected %d x %d", c, p.Width, p.Height, w, ht)
		}
	}
	h.EightBit = 1
	if _, err := h.Encode(w, ht, len(planes)); err != nil {
		return nil, err
	}
	nc := len(planes)
	payload := make([]byte, w*ht*nc)
	for c, p := range planes {
		for i, v := range p.Pix {
			payload[i*nc+c] = v
		}
	}
	return &Tile{Name: name, Header: h, Payload: payload, Recipe: recipe}, nil
}
