package container

import (
	"fmt"
	"sort"

	"github.com/tinylib/msgp/msgp"
)

// attribute kinds as stored in the index.
const (
	kindString uint8 = iota + 1
	kindInt
	kindFloat
	kindBool
	kindFloats
	kindBytes
)

// Attributes are named values attached to a group or dataset.  Values are one of
// string, int64, float64, bool, []float64, or []byte.  Byte values are stored and
// returned byte-for-byte.
type Attributes struct {
	m map[string]interface{}
}

// Set stores a value under name, replacing any previous value.  Integer and float32
// values are widened; other types are rejected.
func (a *Attributes) Set(name string, value interface{}) error {
	var v interface{}
	switch x := value.(type) {
	case string, int64, float64, bool:
		v = x
	case int:
		v = int64(x)
	case int32:
		v = int64(x)
	case uint8:
		v = int64(x)
	case uint16:
		v = int64(x)
	case uint32:
		v = int64(x)
	case float32:
		v = float64(x)
	case []float64:
		v = append([]float64(nil), x...)
	case []byte:
		v = append([]byte(nil), x...)
	default:
		return fmt.Errorf("attribute %q has unsupported type %T", name, value)
	}
	if a.m == nil {
		a.m = make(map[string]interface{})
	}
	a.m[name] = v
	return nil
}

// Has reports whether name is set.
func (a *Attributes) Has(name string) bool {
	_, found := a.m[name]
	return found
}

// Names returns the attribute names in sorted order.
func (a *Attributes) Names() []string {
	names := make([]string, 0, len(a.m))
	for name := range a.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of attributes.
func (a *Attributes) Len() int {
	return len(a.m)
}

// Value returns the raw value stored under name.
func (a *Attributes) Value(name string) (interface{}, error) {
	v, found := a.m[name]
	if !found {
		return nil, fmt.Errorf("attribute %q: %w", name, ErrNotFound)
	}
	return v, nil
}

func attrAs[T any](a *Attributes, name string) (T, error) {
	var zero T
	v, err := a.Value(name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("attribute %q is %T, not %T", name, v, zero)
	}
	return t, nil
}

// String returns a string attribute.
func (a *Attributes) String(name string) (string, error) {
	return attrAs[string](a, name)
}

// Int returns an integer attribute.
func (a *Attributes) Int(name string) (int64, error) {
	return attrAs[int64](a, name)
}

// Float returns a float attribute.
func (a *Attributes) Float(name string) (float64, error) {
	return attrAs[float64](a, name)
}

// Bool returns a boolean attribute.
func (a *Attributes) Bool(name string) (bool, error) {
	return attrAs[bool](a, name)
}

// Floats returns a float list attribute.
func (a *Attributes) Floats(name string) ([]float64, error) {
	return attrAs[[]float64](a, name)
}

// Bytes returns an opaque byte attribute.
func (a *Attributes) Bytes(name string) ([]byte, error) {
	return attrAs[[]byte](a, name)
}

// appendMsg encodes the attributes as a map of name to [kind, value].
func (a *Attributes) appendMsg(b []byte) []byte {
	names := a.Names()
	b = msgp.AppendMapHeader(b, uint32(len(names)))
	for _, name := range names {
		b = msgp.AppendString(b, name)
		b = msgp.AppendArrayHeader(b, 2)
		switch v := a.m[name].(type) {
		case string:
			b = msgp.AppendUint8(b, kindString)
			b = msgp.AppendString(b, v)
		case int64:
			b = msgp.AppendUint8(b, kindInt)
			b = msgp.AppendInt64(b, v)
		case float64:
			b = msgp.AppendUint8(b, kindFloat)
			b = msgp.AppendFloat64(b, v)
		case bool:
			b = msgp.AppendUint8(b, kindBool)
			b = msgp.AppendBool(b, v)
		case []float64:
			b = msgp.AppendUint8(b, kindFloats)
			b = msgp.AppendArrayHeader(b, uint32(len(v)))
			for _, f := range v {
				b = msgp.AppendFloat64(b, f)
			}
		case []byte:
			b = msgp.AppendUint8(b, kindBytes)
			b = msgp.AppendBytes(b, v)
		}
	}
	return b
}

func (a *Attributes) readMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, err
	}
	a.m = make(map[string]interface{}, n)
	for i := uint32(0); i < n; i++ {
		var name string
		if name, b, err = msgp.ReadStringBytes(b); err != nil {
			return nil, err
		}
		var sz uint32
		if sz, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
			return nil, err
		}
		if sz != 2 {
			return nil, fmt.Errorf("attribute %q encoded with %d elements", name, sz)
		}
		var kind uint8
		if kind, b, err = msgp.ReadUint8Bytes(b); err != nil {
			return nil, err
		}
		var v interface{}
		switch kind {
		case kindString:
			v, b, err = msgp.ReadStringBytes(b)
		case kindInt:
			v, b, err = msgp.ReadInt64Bytes(b)
		case kindFloat:
			v, b, err = msgp.ReadFloat64Bytes(b)
		case kindBool:
			v, b, err = msgp.ReadBoolBytes(b)
		case kindFloats:
			var fs []float64
			fs, b, err = readFloats(b)
			v = fs
		case kindBytes:
			var bs []byte
			bs, b, err = msgp.ReadBytesBytes(b, nil)
			v = bs
		default:
			return nil, fmt.Errorf("attribute %q has unknown kind %d", name, kind)
		}
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		a.m[name] = v
	}
	return b, nil
}

func readFloats(b []byte) ([]float64, []byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, nil, err
	}
	fs := make([]float64, n)
	for i := range fs {
		if fs[i], b, err = msgp.ReadFloat64Bytes(b); err != nil {
			return nil, nil, err
		}
	}
	return fs, b, nil
}

func appendInts(b []byte, v []int) []byte {
	b = msgp.AppendArrayHeader(b, uint32(len(v)))
	for _, x := range v {
		b = msgp.AppendInt64(b, int64(x))
	}
	return b
}

func readInts(b []byte) ([]int, []byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, nil, err
	}
	v := make([]int, n)
	for i := range v {
		var x int64
		if x, b, err = msgp.ReadInt64Bytes(b); err != nil {
			return nil, nil, err
		}
		v[i] = int(x)
	}
	return v, b, nil
}
