package datfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	// HeaderSize is the byte length of the fixed header prefix.
	HeaderSize = 1024

	// MagicNumber is the first big-endian uint32 of every dat file.
	MagicNumber uint32 = 3555587570
)

// ErrHeaderInvalid matches any HeaderInvalidError via errors.Is.
var ErrHeaderInvalid = errors.New("invalid dat header")

// HeaderInvalidError names the file whose header could not be used.
type HeaderInvalidError struct {
	File   string
	Reason string
}

func (e *HeaderInvalidError) Error() string {
	return fmt.Sprintf("dat file %q has invalid header: %s", e.File, e.Reason)
}

func (e *HeaderInvalidError) Is(target error) bool {
	return target == ErrHeaderInvalid
}

// Header holds the retained fields of a dat header.  Raw keeps the header prefix
// exactly as read so fields that are not modeled survive a decode/encode cycle.
type Header struct {
	FileMagicNum   uint32
	FileVersion    uint16
	FileType       uint16
	SWdate         string
	TimeStep       float64
	ChanNum        uint8
	EightBit       uint8
	XResolution    uint32
	YResolution    uint32
	Oversampling   uint8
	ZeissScanSpeed uint8
	ScanRate       float32
	SampleID       string
	Notes          string
	Mag            float32
	PixelSize      float32
	WD             float32
	EHT            float32
	StageX         float32
	StageY         float32
	StageZ         float32
	StageT         float32
	StageR         float32
	FirstX         int32
	FirstY         int32
	FileLength     int64

	Raw []byte
}

// DecodeHeader decodes the header prefix of the named file.  Only the first
// HeaderSize bytes of b are examined.
func DecodeHeader(name string, b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, &HeaderInvalidError{name, fmt.Sprintf("need %d header bytes, got %d", HeaderSize, len(b))}
	}
	h := &Header{Raw: make([]byte, HeaderSize)}
	copy(h.Raw, b[:HeaderSize])
	for _, f := range fields {
		f.decode(h, h.Raw[f.Offset:f.Offset+f.Size])
	}
	if h.FileMagicNum != MagicNumber {
		return nil, &HeaderInvalidError{name, fmt.Sprintf("magic number %d, expected %d", h.FileMagicNum, MagicNumber)}
	}
	if h.PixelSize == 0 || math.IsNaN(float64(h.PixelSize)) {
		return nil, &HeaderInvalidError{name, "pixel size is missing or zero"}
	}
	return h, nil
}

// CheckMagic returns an error if b does not begin with the dat magic number.
func CheckMagic(name string, b []byte) error {
	if len(b) < 4 {
		return &HeaderInvalidError{name, "too short to hold a magic number"}
	}
	if magic := binary.BigEndian.Uint32(b[0:4]); magic != MagicNumber {
		return &HeaderInvalidError{name, fmt.Sprintf("magic number %d, expected %d", magic, MagicNumber)}
	}
	return nil
}

// BitDepth returns 8 or 16.
func (h *Header) BitDepth() int {
	if h.EightBit == 1 {
		return 8
	}
	return 16
}

// BytesPerPixel returns the stored size of one pixel of one channel.
func (h *Header) BytesPerPixel() int {
	return h.BitDepth() / 8
}

// PayloadSize is the byte length of the pixel data implied by the geometry fields.
func (h *Header) PayloadSize() int64 {
	return int64(h.XResolution) * int64(h.YResolution) * int64(h.ChanNum) * int64(h.BytesPerPixel())
}

// Sample returns the sample identifier, falling back to the first token of the
// free-text notes when the SampleID field is blank.  ok is false if neither
// field yields an identifier.
func (h *Header) Sample() (id string, ok bool) {
	if s := strings.TrimSpace(h.SampleID); s != "" {
		return s, true
	}
	tokens := strings.FieldsFunc(h.Notes, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(tokens) == 0 {
		return "", false
	}
	return tokens[0], true
}

// HasFirstStage returns true when the first-stage position override is present.
func (h *Header) HasFirstStage() bool {
	return h.FirstX != 0 || h.FirstY != 0
}

// StageXY returns the stage position, honoring the first-stage override.
func (h *Header) StageXY() (x, y float64) {
	if h.HasFirstStage() {
		return float64(h.FirstX), float64(h.FirstY)
	}
	return float64(h.StageX), float64(h.StageY)
}

// Encode recomputes FileLength for the given geometry and serializes the header.
// Fields whose values are unchanged keep their original bytes from Raw.
func (h *Header) Encode(width, height, channels int) ([]byte, error) {
	if width <= 0 || height <= 0 || channels <= 0 || channels > math.MaxUint8 {
		return nil, fmt.Errorf("bad tile geometry %d x %d x %d channels", width, height, channels)
	}
	if h.PixelSize == 0 {
		return nil, fmt.Errorf("can't encode header with zero pixel size")
	}
	h.XResolution = uint32(width)
	h.YResolution = uint32(height)
	h.ChanNum = uint8(channels)
	h.FileMagicNum = MagicNumber
	h.FileLength = HeaderSize + h.PayloadSize()

	out := make([]byte, HeaderSize)
	var orig *Header
	if len(h.Raw) >= HeaderSize {
		copy(out, h.Raw[:HeaderSize])
		orig = &Header{}
		for _, f := range fields {
			f.decode(orig, out[f.Offset:f.Offset+f.Size])
		}
	}
	for _, f := range fields {
		if orig != nil && f.equal(orig, h) {
			continue
		}
		if err := f.encode(h, out[f.Offset:f.Offset+f.Size]); err != nil {
			return nil, fmt.Errorf("encoding header field %s: %w", f.Name, err)
		}
	}
	h.Raw = out
	return bytes.Clone(out), nil
}

// Attribute is a named header value: int64, float64, or string.
type Attribute struct {
	Name  string
	Value interface{}
}

// Attributes returns every retained field in offset order.
func (h *Header) Attributes() []Attribute {
	attrs := make([]Attribute, len(fields))
	for i, f := range fields {
		attrs[i] = Attribute{f.Name, f.value(h)}
	}
	return attrs
}

// Value returns the named retained field.
func (h *Header) Value(name string) (interface{}, bool) {
	f, found := fieldIndex[name]
	if !found {
		return nil, false
	}
	return f.value(h), true
}

// FieldNames returns the names of all retained fields in offset order.
func FieldNames() []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
