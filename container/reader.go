package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/tinylib/msgp/msgp"
)

// File is an opened, complete container.
type File struct {
	Version string
	Attrs   Attributes

	r      io.ReaderAt
	size   int64
	groups []*Group
	byName map[string]*Group
}

// Open reads the footer and index of a container of the given size.  Files without
// a valid footer fail with ErrIncomplete.
func Open(r io.ReaderAt, size int64) (*File, error) {
	if size < int64(len(Magic))+footerSize {
		return nil, fmt.Errorf("%d byte file too small for container: %w", size, ErrIncomplete)
	}
	head := make([]byte, len(Magic))
	if _, err := r.ReadAt(head, 0); err != nil {
		return nil, fmt.Errorf("reading container magic: %w", err)
	}
	if !bytes.Equal(head, Magic[:]) {
		return nil, fmt.Errorf("bad container magic %q: %w", head, ErrCorrupt)
	}
	footer := make([]byte, footerSize)
	if _, err := r.ReadAt(footer, size-footerSize); err != nil {
		return nil, fmt.Errorf("reading container footer: %w", err)
	}
	if !bytes.Equal(footer[20:], footerMagic[:]) {
		return nil, ErrIncomplete
	}
	indexOffset := int64(binary.LittleEndian.Uint64(footer[0:8]))
	indexLen := int64(binary.LittleEndian.Uint64(footer[8:16]))
	indexCRC := binary.LittleEndian.Uint32(footer[16:20])
	if indexOffset < int64(len(Magic)) || indexLen < 0 || indexOffset+indexLen != size-footerSize {
		return nil, fmt.Errorf("footer places index at %d+%d in %d byte file: %w", indexOffset, indexLen, size, ErrIncomplete)
	}
	index := make([]byte, indexLen)
	if _, err := r.ReadAt(index, indexOffset); err != nil {
		return nil, fmt.Errorf("reading container index: %w", err)
	}
	if crc32.ChecksumIEEE(index) != indexCRC {
		return nil, fmt.Errorf("container index checksum mismatch: %w", ErrCorrupt)
	}
	f := &File{r: r, size: size, byName: make(map[string]*Group)}
	if err := f.readIndex(index, indexOffset); err != nil {
		return nil, fmt.Errorf("decoding container index: %v: %w", err, ErrCorrupt)
	}
	if err := checkVersion(f.Version); err != nil {
		return nil, err
	}
	return f, nil
}

// OpenBytes opens a container held in memory.
func OpenBytes(b []byte) (*File, error) {
	return Open(bytes.NewReader(b), int64(len(b)))
}

// Groups returns the groups in creation order.
func (f *File) Groups() []*Group {
	return f.groups
}

// Group returns the named group.
func (f *File) Group(name string) (*Group, error) {
	g, found := f.byName[name]
	if !found {
		return nil, fmt.Errorf("group %q: %w", name, ErrNotFound)
	}
	return g, nil
}

// Read decodes the complete dataset.
func (d *Dataset) Read() (Array, error) {
	if d.group == nil || d.group.f == nil {
		return Array{}, fmt.Errorf("dataset %q was not read from a container file", d.Name)
	}
	f := d.group.f
	out := newArray(d.DType, d.Shape)
	grid := newChunkGrid(d.Shape, d.Chunk)
	if n := grid.numChunks(); n != len(d.chunks) {
		return Array{}, fmt.Errorf("dataset %q has %d chunks, shape needs %d: %w", d.Name, len(d.chunks), n, ErrCorrupt)
	}
	elemSize := d.DType.Size()
	for i, ref := range d.chunks {
		stored := make([]byte, ref.Length)
		if _, err := f.r.ReadAt(stored, ref.Offset); err != nil {
			return Array{}, fmt.Errorf("reading dataset %q chunk %d: %w", d.Name, i, err)
		}
		raw, err := decodeChunk(stored, ref, elemSize, d.Compression)
		if err != nil {
			return Array{}, fmt.Errorf("dataset %q chunk %d: %w", d.Name, i, err)
		}
		_, extent := grid.bounds(i)
		expected := elemSize
		for _, e := range extent {
			expected *= e
		}
		if len(raw) != expected {
			return Array{}, fmt.Errorf("dataset %q chunk %d holds %d bytes, extent %v needs %d: %w",
				d.Name, i, len(raw), extent, expected, ErrCorrupt)
		}
		grid.visit(i, func(offset, n int) {
			raw = out.setElems(raw, offset, n)
		})
	}
	return out, nil
}

func (f *File) readIndex(b []byte, limit int64) error {
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return err
	}
	if sz != 3 {
		return fmt.Errorf("index has %d elements", sz)
	}
	if f.Version, b, err = msgp.ReadStringBytes(b); err != nil {
		return err
	}
	if b, err = f.Attrs.readMsg(b); err != nil {
		return err
	}
	var n uint32
	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		g := newGroup("")
		g.f = f
		if b, err = g.readMsg(b, limit); err != nil {
			return err
		}
		if _, found := f.byName[g.Name]; found {
			return fmt.Errorf("duplicate group %q", g.Name)
		}
		f.groups = append(f.groups, g)
		f.byName[g.Name] = g
	}
	if len(b) != 0 {
		return fmt.Errorf("%d trailing index bytes", len(b))
	}
	return nil
}

func (g *Group) readMsg(b []byte, limit int64) ([]byte, error) {
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, err
	}
	if sz != 3 {
		return nil, fmt.Errorf("group has %d elements", sz)
	}
	if g.Name, b, err = msgp.ReadStringBytes(b); err != nil {
		return nil, err
	}
	if b, err = g.Attrs.readMsg(b); err != nil {
		return nil, fmt.Errorf("group %q: %w", g.Name, err)
	}
	var n uint32
	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		d := &Dataset{group: g}
		if b, err = d.readMsg(b, limit); err != nil {
			return nil, fmt.Errorf("group %q: %w", g.Name, err)
		}
		g.datasets = append(g.datasets, d)
		g.byName[d.Name] = d
	}
	return b, nil
}

func (d *Dataset) readMsg(b []byte, limit int64) ([]byte, error) {
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, err
	}
	if sz != 8 {
		return nil, fmt.Errorf("dataset has %d elements", sz)
	}
	if d.Name, b, err = msgp.ReadStringBytes(b); err != nil {
		return nil, err
	}
	var u uint8
	if u, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return nil, err
	}
	d.DType = DType(u)
	if d.DType.Size() == 0 {
		return nil, fmt.Errorf("dataset %q has %s", d.Name, d.DType)
	}
	if d.Shape, b, err = readInts(b); err != nil {
		return nil, err
	}
	if d.Chunk, b, err = readInts(b); err != nil {
		return nil, err
	}
	if len(d.Chunk) != len(d.Shape) {
		return nil, fmt.Errorf("dataset %q chunk rank %d differs from shape rank %d", d.Name, len(d.Chunk), len(d.Shape))
	}
	if u, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return nil, err
	}
	d.Compression = Compression(u)
	if u, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return nil, err
	}
	d.ByteOrder = ByteOrder(u)
	if d.ByteOrder != LittleEndian {
		return nil, fmt.Errorf("dataset %q stored %s, only little-endian is supported", d.Name, d.ByteOrder)
	}
	if b, err = d.Attrs.readMsg(b); err != nil {
		return nil, fmt.Errorf("dataset %q: %w", d.Name, err)
	}
	var n uint32
	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return nil, err
	}
	d.chunks = make([]chunkRef, n)
	for i := range d.chunks {
		c := &d.chunks[i]
		if sz, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
			return nil, err
		}
		if sz != 4 {
			return nil, fmt.Errorf("dataset %q chunk %d has %d elements", d.Name, i, sz)
		}
		if c.Offset, b, err = msgp.ReadInt64Bytes(b); err != nil {
			return nil, err
		}
		if c.Length, b, err = msgp.ReadInt64Bytes(b); err != nil {
			return nil, err
		}
		if c.RawLen, b, err = msgp.ReadInt64Bytes(b); err != nil {
			return nil, err
		}
		if c.CRC, b, err = msgp.ReadUint32Bytes(b); err != nil {
			return nil, err
		}
		if c.Offset < int64(len(Magic)) || c.Length < 0 || c.Offset+c.Length > limit {
			return nil, fmt.Errorf("dataset %q chunk %d at %d+%d lies outside chunk data", d.Name, i, c.Offset, c.Length)
		}
	}
	return b, nil
}
