package container

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ClampChunk returns the effective chunk shape for data of the given shape.  Missing
// or non-positive chunk dimensions take the data dimension, and no chunk dimension
// exceeds its data dimension.  An oversized request is not an error.
func ClampChunk(shape, chunk []int) []int {
	out := make([]int, len(shape))
	for i, n := range shape {
		c := n
		if i < len(chunk) && chunk[i] > 0 && chunk[i] < n {
			c = chunk[i]
		}
		out[i] = c
	}
	return out
}

// chunkGrid iterates the chunks of a dataset in row-major grid order.
type chunkGrid struct {
	shape []int
	chunk []int
	dims  []int // chunks along each axis
}

func newChunkGrid(shape, chunk []int) chunkGrid {
	g := chunkGrid{shape: shape, chunk: chunk, dims: make([]int, len(shape))}
	for i := range shape {
		if chunk[i] == 0 {
			g.dims[i] = 0
			continue
		}
		g.dims[i] = (shape[i] + chunk[i] - 1) / chunk[i]
	}
	return g
}

// numChunks returns the total chunk count, zero if any dimension is empty.
func (g chunkGrid) numChunks() int {
	if len(g.dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range g.dims {
		n *= d
	}
	return n
}

// bounds returns the start and extent of chunk i along each axis.
func (g chunkGrid) bounds(i int) (start, extent []int) {
	start = make([]int, len(g.shape))
	extent = make([]int, len(g.shape))
	for ax := len(g.shape) - 1; ax >= 0; ax-- {
		pos := i % g.dims[ax]
		i /= g.dims[ax]
		start[ax] = pos * g.chunk[ax]
		extent[ax] = g.chunk[ax]
		if start[ax]+extent[ax] > g.shape[ax] {
			extent[ax] = g.shape[ax] - start[ax]
		}
	}
	return
}

// visit calls fn with the flat element offset of every row of chunk i.  A row is a
// contiguous run of extent[last] elements.
func (g chunkGrid) visit(i int, fn func(offset, n int)) {
	start, extent := g.bounds(i)
	nd := len(g.shape)
	strides := make([]int, nd)
	stride := 1
	for ax := nd - 1; ax >= 0; ax-- {
		strides[ax] = stride
		stride *= g.shape[ax]
	}
	rows := 1
	for ax := 0; ax < nd-1; ax++ {
		rows *= extent[ax]
	}
	idx := make([]int, nd)
	for r := 0; r < rows; r++ {
		rem := r
		for ax := nd - 2; ax >= 0; ax-- {
			idx[ax] = rem % extent[ax]
			rem /= extent[ax]
		}
		offset := start[nd-1]
		for ax := 0; ax < nd-1; ax++ {
			offset += (start[ax] + idx[ax]) * strides[ax]
		}
		fn(offset, extent[nd-1])
	}
}

// shuffle groups byte k of every element together, which makes multi-byte pixel data
// compress better.
func shuffle(data []byte, size int) []byte {
	if size <= 1 {
		return data
	}
	n := len(data) / size
	out := make([]byte, len(data))
	for i := 0; i < n; i++ {
		for k := 0; k < size; k++ {
			out[k*n+i] = data[i*size+k]
		}
	}
	return out
}

func unshuffle(data []byte, size int) []byte {
	if size <= 1 {
		return data
	}
	n := len(data) / size
	out := make([]byte, len(data))
	for i := 0; i < n; i++ {
		for k := 0; k < size; k++ {
			out[i*size+k] = data[k*n+i]
		}
	}
	return out
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case Uncompressed:
		return data, nil
	case Zlib:
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Zstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	case Snappy:
		return snappy.Encode(nil, data), nil
	case LZ4:
		var buf bytes.Buffer
		lw := lz4.NewWriter(&buf)
		if _, err := lw.Write(data); err != nil {
			return nil, err
		}
		if err := lw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("illegal compression (%s) during chunk encoding", c)
	}
}

func decompress(data []byte, c Compression, rawLen int) ([]byte, error) {
	switch c {
	case Uncompressed:
		return data, nil
	case Zlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return readN(zr, rawLen)
	case Zstd:
		return zstdDecoder.DecodeAll(data, make([]byte, 0, rawLen))
	case Snappy:
		return snappy.Decode(nil, data)
	case LZ4:
		return readN(lz4.NewReader(bytes.NewReader(data)), rawLen)
	default:
		return nil, fmt.Errorf("illegal compression (%s) during chunk decoding", c)
	}
}

func readN(r io.Reader, n int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(n)
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// chunkRef locates one stored chunk.
type chunkRef struct {
	Offset int64
	Length int64
	RawLen int64
	CRC    uint32
}

// encodeChunk shuffles, compresses, and checksums raw chunk bytes.
func encodeChunk(raw []byte, elemSize int, c Compression) ([]byte, uint32, error) {
	stored, err := compress(shuffle(raw, elemSize), c)
	if err != nil {
		return nil, 0, fmt.Errorf("compressing chunk with %s: %w", c, err)
	}
	return stored, crc32.ChecksumIEEE(stored), nil
}

// decodeChunk reverses encodeChunk after verifying the checksum.
func decodeChunk(stored []byte, ref chunkRef, elemSize int, c Compression) ([]byte, error) {
	if crc := crc32.ChecksumIEEE(stored); crc != ref.CRC {
		return nil, fmt.Errorf("chunk at offset %d has CRC32 %08x, expected %08x: %w", ref.Offset, crc, ref.CRC, ErrCorrupt)
	}
	raw, err := decompress(stored, c, int(ref.RawLen))
	if err != nil {
		return nil, fmt.Errorf("decompressing chunk at offset %d with %s: %v: %w", ref.Offset, c, err, ErrCorrupt)
	}
	if int64(len(raw)) != ref.RawLen {
		return nil, fmt.Errorf("chunk at offset %d decoded to %d bytes, expected %d: %w", ref.Offset, len(raw), ref.RawLen, ErrCorrupt)
	}
	return unshuffle(raw, elemSize), nil
}
