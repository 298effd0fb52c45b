package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/noxer/bytewriter"

	"github.com/janelia-flyem/emtile/container"
	"github.com/janelia-flyem/emtile/datfile"
)

// contextBytes is how many bytes either side of a mismatch are reported.
const contextBytes = 8

// ErrByteMismatch is matched by every *ByteMismatchError.
var ErrByteMismatch = errors.New("restored bytes differ from original")

// ByteMismatchError reports the first difference between a restored tile and its
// source file.
type ByteMismatchError struct {
	Group  string
	Offset int64

	// Region is "header", "payload", or "recipe" depending on where Offset falls
	// in the original file.
	Region string

	// Expected and Actual are windows of the original and restored bytes around
	// Offset, both starting at ContextStart.
	ContextStart int64
	Expected     []byte
	Actual       []byte

	ExpectedLen int64
	ActualLen   int64
}

func (e *ByteMismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "group %q: restored bytes differ from original at offset %d (%s)", e.Group, e.Offset, e.Region)
	if e.ExpectedLen != e.ActualLen {
		fmt.Fprintf(&b, ", original is %d bytes, restored is %d", e.ExpectedLen, e.ActualLen)
	}
	fmt.Fprintf(&b, "; from offset %d expected % x, got % x", e.ContextStart, e.Expected, e.Actual)
	return b.String()
}

func (e *ByteMismatchError) Is(target error) bool {
	return target == ErrByteMismatch
}

// Restore rebuilds the exact bytes of the tile stored in a raw group: the verbatim
// header, the channels re-interleaved in original order and big-endian byte order,
// then the verbatim trailer.
func Restore(g *container.Group) ([]byte, error) {
	header, err := g.Attrs.Bytes(HeaderBlobAttr)
	if err != nil {
		return nil, fmt.Errorf("group %q is not a raw tile: %w", g.Name, err)
	}
	recipe, err := g.Attrs.Bytes(RecipeBlobAttr)
	if err != nil {
		return nil, fmt.Errorf("group %q is not a raw tile: %w", g.Name, err)
	}
	h, err := datfile.DecodeHeader(g.Name, header)
	if err != nil {
		return nil, err
	}
	nc := int(h.ChanNum)
	channels := make([]container.Array, nc)
	for c := range channels {
		d, err := g.Dataset(ChannelName(c))
		if err != nil {
			return nil, err
		}
		if channels[c], err = d.Read(); err != nil {
			return nil, err
		}
		if c > 0 && !sameShape(channels[c].Shape, channels[0].Shape) {
			return nil, fmt.Errorf("group %q channel %d has shape %v, channel 0 has %v", g.Name, c, channels[c].Shape, channels[0].Shape)
		}
	}
	payload, err := interleave(h, channels)
	if err != nil {
		return nil, fmt.Errorf("group %q: %w", g.Name, err)
	}
	out := make([]byte, len(header)+len(payload)+len(recipe))
	w := bytewriter.New(out)
	for _, part := range [][]byte{header, payload, recipe} {
		if _, err := w.Write(part); err != nil {
			return nil, fmt.Errorf("group %q: assembling restored tile: %w", g.Name, err)
		}
	}
	return out, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// interleave packs per-channel arrays into the dat payload layout.  Stored arrays
// are decoded into host values, so 16-bit pixels are explicitly written big-endian.
func interleave(h *datfile.Header, channels []container.Array) ([]byte, error) {
	nc := len(channels)
	if nc == 0 {
		return nil, nil
	}
	n := channels[0].Len()
	if expected := int(h.XResolution) * int(h.YResolution); n != expected {
		return nil, fmt.Errorf("channel holds %d pixels, header declares %d x %d", n, h.XResolution, h.YResolution)
	}
	switch h.BitDepth() {
	case 8:
		payload := make([]byte, n*nc)
		for c, arr := range channels {
			if arr.DType != container.Uint8 {
				return nil, fmt.Errorf("channel %d is %s in an 8-bit tile", c, arr.DType)
			}
			for i, v := range arr.Uint8 {
				payload[i*nc+c] = v
			}
		}
		return payload, nil
	default:
		payload := make([]byte, 2*n*nc)
		for c, arr := range channels {
			if arr.DType != container.Int16 {
				return nil, fmt.Errorf("channel %d is %s in a 16-bit tile", c, arr.DType)
			}
			for i, v := range arr.Int16 {
				off := 2 * (i*nc + c)
				binary.BigEndian.PutUint16(payload[off:off+2], uint16(v))
			}
		}
		return payload, nil
	}
}

// Validate restores the group and compares the result byte for byte with the
// original file.  Any difference is a *ByteMismatchError.
func Validate(g *container.Group, original []byte) error {
	restored, err := Restore(g)
	if err != nil {
		return err
	}
	return compareBytes(g.Name, original, restored)
}

func compareBytes(group string, expected, actual []byte) error {
	n := len(expected)
	if len(actual) < n {
		n = len(actual)
	}
	offset := -1
	for i := 0; i < n; i++ {
		if expected[i] != actual[i] {
			offset = i
			break
		}
	}
	if offset < 0 {
		if len(expected) == len(actual) {
			return nil
		}
		offset = n
	}
	start := offset - contextBytes
	if start < 0 {
		start = 0
	}
	return &ByteMismatchError{
		Group:        group,
		Offset:       int64(offset),
		Region:       region(expected, offset),
		ContextStart: int64(start),
		Expected:     window(expected, start, offset+contextBytes),
		Actual:       window(actual, start, offset+contextBytes),
		ExpectedLen:  int64(len(expected)),
		ActualLen:    int64(len(actual)),
	}
}

func window(b []byte, start, end int) []byte {
	if end > len(b) {
		end = len(b)
	}
	if start >= end {
		return nil
	}
	return append([]byte(nil), b[start:end]...)
}

// region names the part of a dat file holding offset.
func region(original []byte, offset int) string {
	if offset < datfile.HeaderSize {
		return "header"
	}
	h, err := datfile.DecodeHeader("", original)
	if err != nil || int64(offset) < h.FileLength {
		return "payload"
	}
	return "recipe"
}
