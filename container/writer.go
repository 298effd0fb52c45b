package container

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/tinylib/msgp/msgp"
)

// Group is a named node holding attributes and datasets.
type Group struct {
	Name  string
	Attrs Attributes

	datasets []*Dataset
	byName   map[string]*Dataset

	w *Writer
	f *File
}

func newGroup(name string) *Group {
	return &Group{Name: name, byName: make(map[string]*Dataset)}
}

// Datasets returns the group's datasets in creation order.
func (g *Group) Datasets() []*Dataset {
	return g.datasets
}

// Dataset returns the named dataset.
func (g *Group) Dataset(name string) (*Dataset, error) {
	d, found := g.byName[name]
	if !found {
		return nil, fmt.Errorf("dataset %q in group %q: %w", name, g.Name, ErrNotFound)
	}
	return d, nil
}

// Dataset is a chunked N-dimensional array inside a group.
type Dataset struct {
	Name        string
	DType       DType
	Shape       []int
	Chunk       []int
	Compression Compression
	ByteOrder   ByteOrder
	Attrs       Attributes

	chunks []chunkRef
	group  *Group
}

// StoredBytes returns the total size of the dataset's stored chunks.
func (d *Dataset) StoredBytes() int64 {
	var n int64
	for _, c := range d.chunks {
		n += c.Length
	}
	return n
}

// NumChunks returns the number of stored chunks.
func (d *Dataset) NumChunks() int {
	return len(d.chunks)
}

// Writer streams a container to an io.Writer.  Chunk data is written as datasets are
// created; the index and footer are written by Close.
type Writer struct {
	out    io.Writer
	offset int64
	err    error
	closed bool

	Attrs  Attributes
	groups []*Group
	byName map[string]*Group
}

// NewWriter writes the container magic to out and returns a writer.
func NewWriter(out io.Writer) (*Writer, error) {
	w := &Writer{out: out, byName: make(map[string]*Group)}
	if err := w.write(Magic[:]); err != nil {
		return nil, fmt.Errorf("writing container magic: %w", err)
	}
	return w, nil
}

func (w *Writer) write(b []byte) error {
	if w.err != nil {
		return w.err
	}
	n, err := w.out.Write(b)
	w.offset += int64(n)
	if err != nil {
		w.err = err
	}
	return err
}

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() int64 {
	return w.offset
}

// CreateGroup adds a new group.  Group names are create-once.
func (w *Writer) CreateGroup(name string) (*Group, error) {
	if w.closed {
		return nil, ErrClosed
	}
	if name == "" {
		return nil, fmt.Errorf("group name may not be empty")
	}
	if _, found := w.byName[name]; found {
		return nil, fmt.Errorf("group %q: %w", name, ErrExists)
	}
	g := newGroup(name)
	g.w = w
	w.groups = append(w.groups, g)
	w.byName[name] = g
	return g, nil
}

// CreateDataset writes data as a new dataset of g.  The chunk shape is clamped to
// the data shape, so an oversized chunk request is accepted.  Chunks are written
// immediately.
func (g *Group) CreateDataset(name string, data Array, chunk []int, c Compression) (*Dataset, error) {
	w := g.w
	if w == nil {
		return nil, fmt.Errorf("group %q was not opened for writing", g.Name)
	}
	if w.closed {
		return nil, ErrClosed
	}
	if _, found := g.byName[name]; found {
		return nil, fmt.Errorf("dataset %q in group %q: %w", name, g.Name, ErrExists)
	}
	if err := data.check(); err != nil {
		return nil, fmt.Errorf("dataset %q in group %q: %w", name, g.Name, err)
	}
	d := &Dataset{
		Name:        name,
		DType:       data.DType,
		Shape:       append([]int(nil), data.Shape...),
		Chunk:       ClampChunk(data.Shape, chunk),
		Compression: c,
		ByteOrder:   LittleEndian,
		group:       g,
	}
	grid := newChunkGrid(d.Shape, d.Chunk)
	elemSize := d.DType.Size()
	var raw []byte
	for i := 0; i < grid.numChunks(); i++ {
		raw = raw[:0]
		grid.visit(i, func(offset, n int) {
			raw = data.appendElems(raw, offset, n)
		})
		stored, crc, err := encodeChunk(raw, elemSize, c)
		if err != nil {
			return nil, fmt.Errorf("dataset %q chunk %d: %w", name, i, err)
		}
		ref := chunkRef{Offset: w.offset, Length: int64(len(stored)), RawLen: int64(len(raw)), CRC: crc}
		if err := w.write(stored); err != nil {
			return nil, fmt.Errorf("writing dataset %q chunk %d: %w", name, i, err)
		}
		d.chunks = append(d.chunks, ref)
	}
	g.datasets = append(g.datasets, d)
	g.byName[name] = d
	return d, nil
}

// Close writes the index and footer.  The container is only readable after Close
// succeeds.  Close does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	index := w.appendIndex(nil)
	indexOffset := w.offset
	if err := w.write(index); err != nil {
		return fmt.Errorf("writing container index: %w", err)
	}
	footer := make([]byte, 0, footerSize)
	footer = binary.LittleEndian.AppendUint64(footer, uint64(indexOffset))
	footer = binary.LittleEndian.AppendUint64(footer, uint64(len(index)))
	footer = binary.LittleEndian.AppendUint32(footer, crc32.ChecksumIEEE(index))
	footer = append(footer, footerMagic[:]...)
	if err := w.write(footer); err != nil {
		return fmt.Errorf("writing container footer: %w", err)
	}
	return nil
}

// appendIndex encodes [version, attrs, [group...]].
func (w *Writer) appendIndex(b []byte) []byte {
	b = msgp.AppendArrayHeader(b, 3)
	b = msgp.AppendString(b, Version.String())
	b = w.Attrs.appendMsg(b)
	b = msgp.AppendArrayHeader(b, uint32(len(w.groups)))
	for _, g := range w.groups {
		b = g.appendMsg(b)
	}
	return b
}

// appendMsg encodes [name, attrs, [dataset...]].
func (g *Group) appendMsg(b []byte) []byte {
	b = msgp.AppendArrayHeader(b, 3)
	b = msgp.AppendString(b, g.Name)
	b = g.Attrs.appendMsg(b)
	b = msgp.AppendArrayHeader(b, uint32(len(g.datasets)))
	for _, d := range g.datasets {
		b = d.appendMsg(b)
	}
	return b
}

// appendMsg encodes [name, dtype, shape, chunk, compression, byte order, attrs, chunks].
func (d *Dataset) appendMsg(b []byte) []byte {
	b = msgp.AppendArrayHeader(b, 8)
	b = msgp.AppendString(b, d.Name)
	b = msgp.AppendUint8(b, uint8(d.DType))
	b = appendInts(b, d.Shape)
	b = appendInts(b, d.Chunk)
	b = msgp.AppendUint8(b, uint8(d.Compression))
	b = msgp.AppendUint8(b, uint8(d.ByteOrder))
	b = d.Attrs.appendMsg(b)
	b = msgp.AppendArrayHeader(b, uint32(len(d.chunks)))
	for _, c := range d.chunks {
		b = msgp.AppendArrayHeader(b, 4)
		b = msgp.AppendInt64(b, c.Offset)
		b = msgp.AppendInt64(b, c.Length)
		b = msgp.AppendInt64(b, c.RawLen)
		b = msgp.AppendUint32(b, c.CRC)
	}
	return b
}
