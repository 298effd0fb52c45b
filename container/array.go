package container

import (
	"encoding/binary"
	"fmt"
)

// Array is an N-dimensional block of elements in row-major order.  Exactly one of
// Uint8 or Int16 holds the data, matching DType.
type Array struct {
	DType DType
	Shape []int
	Uint8 []uint8
	Int16 []int16
}

// Uint8Array wraps data with the given shape.
func Uint8Array(data []uint8, shape ...int) Array {
	return Array{DType: Uint8, Shape: shape, Uint8: data}
}

// Int16Array wraps data with the given shape.
func Int16Array(data []int16, shape ...int) Array {
	return Array{DType: Int16, Shape: shape, Int16: data}
}

// Len returns the number of elements implied by the shape.
func (a Array) Len() int {
	if len(a.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

func (a Array) check() error {
	if len(a.Shape) == 0 {
		return fmt.Errorf("array has no dimensions")
	}
	for i, d := range a.Shape {
		if d < 0 {
			return fmt.Errorf("array dimension %d is negative (%d)", i, d)
		}
	}
	var n int
	switch a.DType {
	case Uint8:
		n = len(a.Uint8)
	case Int16:
		n = len(a.Int16)
	default:
		return fmt.Errorf("array has unsupported %s", a.DType)
	}
	if n != a.Len() {
		return fmt.Errorf("array of shape %v holds %d elements, expected %d", a.Shape, n, a.Len())
	}
	return nil
}

// appendElems appends n little-endian elements starting at offset.
func (a Array) appendElems(b []byte, offset, n int) []byte {
	switch a.DType {
	case Uint8:
		return append(b, a.Uint8[offset:offset+n]...)
	case Int16:
		for _, v := range a.Int16[offset : offset+n] {
			b = binary.LittleEndian.AppendUint16(b, uint16(v))
		}
	}
	return b
}

// setElems decodes n little-endian elements from b into the array at offset and
// returns the unread bytes.
func (a Array) setElems(b []byte, offset, n int) []byte {
	switch a.DType {
	case Uint8:
		copy(a.Uint8[offset:offset+n], b[:n])
		return b[n:]
	case Int16:
		dst := a.Int16[offset : offset+n]
		for i := range dst {
			dst[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
		}
		return b[2*n:]
	}
	return b
}

func newArray(dtype DType, shape []int) Array {
	a := Array{DType: dtype, Shape: append([]int(nil), shape...)}
	switch dtype {
	case Uint8:
		a.Uint8 = make([]uint8, a.Len())
	case Int16:
		a.Int16 = make([]int16, a.Len())
	}
	return a
}
