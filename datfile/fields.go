package datfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// field describes one retained header value at a fixed byte offset.
type field struct {
	Name   string
	Offset int
	Size   int

	decode func(h *Header, b []byte)
	encode func(h *Header, b []byte) error
	value  func(h *Header) interface{}
	equal  func(a, b *Header) bool
}

var fields = []field{
	u32Field("FileMagicNum", 0, func(h *Header) *uint32 { return &h.FileMagicNum }),
	u16Field("FileVersion", 4, func(h *Header) *uint16 { return &h.FileVersion }),
	u16Field("FileType", 6, func(h *Header) *uint16 { return &h.FileType }),
	strField("SWdate", 8, 10, func(h *Header) *string { return &h.SWdate }),
	f64Field("TimeStep", 24, func(h *Header) *float64 { return &h.TimeStep }),
	u8Field("ChanNum", 32, func(h *Header) *uint8 { return &h.ChanNum }),
	u8Field("EightBit", 33, func(h *Header) *uint8 { return &h.EightBit }),
	u32Field("XResolution", 100, func(h *Header) *uint32 { return &h.XResolution }),
	u32Field("YResolution", 104, func(h *Header) *uint32 { return &h.YResolution }),
	u8Field("Oversampling", 108, func(h *Header) *uint8 { return &h.Oversampling }),
	u8Field("ZeissScanSpeed", 111, func(h *Header) *uint8 { return &h.ZeissScanSpeed }),
	f32Field("ScanRate", 112, func(h *Header) *float32 { return &h.ScanRate }),
	strField("SampleID", 155, 25, func(h *Header) *string { return &h.SampleID }),
	strField("Notes", 180, 200, func(h *Header) *string { return &h.Notes }),
	f32Field("Mag", 460, func(h *Header) *float32 { return &h.Mag }),
	f32Field("PixelSize", 464, func(h *Header) *float32 { return &h.PixelSize }),
	f32Field("WD", 468, func(h *Header) *float32 { return &h.WD }),
	f32Field("EHT", 472, func(h *Header) *float32 { return &h.EHT }),
	f32Field("StageX", 534, func(h *Header) *float32 { return &h.StageX }),
	f32Field("StageY", 538, func(h *Header) *float32 { return &h.StageY }),
	f32Field("StageZ", 542, func(h *Header) *float32 { return &h.StageZ }),
	f32Field("StageT", 546, func(h *Header) *float32 { return &h.StageT }),
	f32Field("StageR", 550, func(h *Header) *float32 { return &h.StageR }),
	i32Field("FirstX", 730, func(h *Header) *int32 { return &h.FirstX }),
	i32Field("FirstY", 734, func(h *Header) *int32 { return &h.FirstY }),
	i64Field("FileLength", 1000, func(h *Header) *int64 { return &h.FileLength }),
}

var fieldIndex = func() map[string]field {
	m := make(map[string]field, len(fields))
	for _, f := range fields {
		m[f.Name] = f
	}
	return m
}()

func u8Field(name string, offset int, p func(*Header) *uint8) field {
	return field{
		Name: name, Offset: offset, Size: 1,
		decode: func(h *Header, b []byte) { *p(h) = b[0] },
		encode: func(h *Header, b []byte) error { b[0] = *p(h); return nil },
		value:  func(h *Header) interface{} { return int64(*p(h)) },
		equal:  func(a, b *Header) bool { return *p(a) == *p(b) },
	}
}

func u16Field(name string, offset int, p func(*Header) *uint16) field {
	return field{
		Name: name, Offset: offset, Size: 2,
		decode: func(h *Header, b []byte) { *p(h) = binary.BigEndian.Uint16(b) },
		encode: func(h *Header, b []byte) error { binary.BigEndian.PutUint16(b, *p(h)); return nil },
		value:  func(h *Header) interface{} { return int64(*p(h)) },
		equal:  func(a, b *Header) bool { return *p(a) == *p(b) },
	}
}

func u32Field(name string, offset int, p func(*Header) *uint32) field {
	return field{
		Name: name, Offset: offset, Size: 4,
		decode: func(h *Header, b []byte) { *p(h) = binary.BigEndian.Uint32(b) },
		encode: func(h *Header, b []byte) error { binary.BigEndian.PutUint32(b, *p(h)); return nil },
		value:  func(h *Header) interface{} { return int64(*p(h)) },
		equal:  func(a, b *Header) bool { return *p(a) == *p(b) },
	}
}

func i32Field(name string, offset int, p func(*Header) *int32) field {
	return field{
		Name: name, Offset: offset, Size: 4,
		decode: func(h *Header, b []byte) { *p(h) = int32(binary.BigEndian.Uint32(b)) },
		encode: func(h *Header, b []byte) error { binary.BigEndian.PutUint32(b, uint32(*p(h))); return nil },
		value:  func(h *Header) interface{} { return int64(*p(h)) },
		equal:  func(a, b *Header) bool { return *p(a) == *p(b) },
	}
}

func i64Field(name string, offset int, p func(*Header) *int64) field {
	return field{
		Name: name, Offset: offset, Size: 8,
		decode: func(h *Header, b []byte) { *p(h) = int64(binary.BigEndian.Uint64(b)) },
		encode: func(h *Header, b []byte) error { binary.BigEndian.PutUint64(b, uint64(*p(h))); return nil },
		value:  func(h *Header) interface{} { return *p(h) },
		equal:  func(a, b *Header) bool { return *p(a) == *p(b) },
	}
}

// Float fields compare by bit pattern so a NaN in the original bytes is not rewritten.
func f32Field(name string, offset int, p func(*Header) *float32) field {
	return field{
		Name: name, Offset: offset, Size: 4,
		decode: func(h *Header, b []byte) { *p(h) = math.Float32frombits(binary.BigEndian.Uint32(b)) },
		encode: func(h *Header, b []byte) error {
			binary.BigEndian.PutUint32(b, math.Float32bits(*p(h)))
			return nil
		},
		value: func(h *Header) interface{} { return float64(*p(h)) },
		equal: func(a, b *Header) bool { return math.Float32bits(*p(a)) == math.Float32bits(*p(b)) },
	}
}

func f64Field(name string, offset int, p func(*Header) *float64) field {
	return field{
		Name: name, Offset: offset, Size: 8,
		decode: func(h *Header, b []byte) { *p(h) = math.Float64frombits(binary.BigEndian.Uint64(b)) },
		encode: func(h *Header, b []byte) error {
			binary.BigEndian.PutUint64(b, math.Float64bits(*p(h)))
			return nil
		},
		value: func(h *Header) interface{} { return *p(h) },
		equal: func(a, b *Header) bool { return math.Float64bits(*p(a)) == math.Float64bits(*p(b)) },
	}
}

// Strings are NUL padded; anything after the first NUL is ignored on decode.
func strField(name string, offset, size int, p func(*Header) *string) field {
	return field{
		Name: name, Offset: offset, Size: size,
		decode: func(h *Header, b []byte) {
			if i := bytes.IndexByte(b, 0); i >= 0 {
				b = b[:i]
			}
			*p(h) = strings.TrimRight(string(b), " ")
		},
		encode: func(h *Header, b []byte) error {
			s := *p(h)
			if len(s) > size {
				return fmt.Errorf("%d byte value exceeds %d byte field", len(s), size)
			}
			copy(b, s)
			for i := len(s); i < size; i++ {
				b[i] = 0
			}
			return nil
		},
		value: func(h *Header) interface{} { return *p(h) },
		equal: func(a, b *Header) bool { return *p(a) == *p(b) },
	}
}
