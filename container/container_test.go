package container

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int16Ramp(n int) []int16 {
	v := make([]int16, n)
	for i := range v {
		v[i] = int16(i*37 - 1000)
	}
	return v
}

func writeContainer(t *testing.T, fn func(w *Writer)) []byte {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	fn(w)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestRoundTripCompressions(t *testing.T) {
	for c := Uncompressed; c <= LZ4; c++ {
		t.Run(c.String(), func(t *testing.T) {
			data := int16Ramp(2 * 5 * 7)
			gray := make([]uint8, 9*4)
			for i := range gray {
				gray[i] = uint8(i * 7)
			}
			b := writeContainer(t, func(w *Writer) {
				g, err := w.CreateGroup("0-1-2")
				require.NoError(t, err)
				_, err = g.CreateDataset("channel_0", Int16Array(data, 2, 5, 7), []int{1, 2, 3}, c)
				require.NoError(t, err)
				_, err = g.CreateDataset("gray", Uint8Array(gray, 9, 4), []int{4, 4}, c)
				require.NoError(t, err)
			})
			f, err := OpenBytes(b)
			require.NoError(t, err)
			g, err := f.Group("0-1-2")
			require.NoError(t, err)
			require.Len(t, g.Datasets(), 2)

			d, err := g.Dataset("channel_0")
			require.NoError(t, err)
			assert.Equal(t, []int{2, 5, 7}, d.Shape)
			assert.Equal(t, []int{1, 2, 3}, d.Chunk)
			assert.Equal(t, c, d.Compression)
			assert.Equal(t, 2*3*3, d.NumChunks())
			arr, err := d.Read()
			require.NoError(t, err)
			assert.Equal(t, data, arr.Int16)

			d, err = g.Dataset("gray")
			require.NoError(t, err)
			arr, err = d.Read()
			require.NoError(t, err)
			assert.Equal(t, gray, arr.Uint8)
		})
	}
}

func TestChunkClamp(t *testing.T) {
	shapes := [][]int{{1}, {7}, {3, 4}, {1, 1}, {10, 3, 2}, {0, 5}}
	chunks := [][]int{nil, {1}, {2, 2}, {100, 100, 100}, {0, 3}, {-1, 1, 9}, {5, 5}}
	for _, shape := range shapes {
		for _, chunk := range chunks {
			eff := ClampChunk(shape, chunk)
			require.Len(t, eff, len(shape))
			for i := range shape {
				assert.LessOrEqual(t, eff[i], shape[i], "shape %v chunk %v", shape, chunk)
				if shape[i] > 0 {
					assert.Greater(t, eff[i], 0, "shape %v chunk %v", shape, chunk)
				}
				if i < len(chunk) && chunk[i] > 0 && chunk[i] <= shape[i] {
					assert.Equal(t, chunk[i], eff[i])
				}
			}
		}
	}
}

func TestOversizedChunkAccepted(t *testing.T) {
	data := int16Ramp(6)
	b := writeContainer(t, func(w *Writer) {
		g, err := w.CreateGroup("g")
		require.NoError(t, err)
		d, err := g.CreateDataset("d", Int16Array(data, 2, 3), []int{1024, 1024}, Zstd)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3}, d.Chunk)
		assert.Equal(t, 1, d.NumChunks())
	})
	f, err := OpenBytes(b)
	require.NoError(t, err)
	g, _ := f.Group("g")
	d, _ := g.Dataset("d")
	arr, err := d.Read()
	require.NoError(t, err)
	assert.Equal(t, data, arr.Int16)
}

func TestEmptyDataset(t *testing.T) {
	b := writeContainer(t, func(w *Writer) {
		g, err := w.CreateGroup("g")
		require.NoError(t, err)
		d, err := g.CreateDataset("empty", Uint8Array(nil, 0, 4), []int{8, 8}, Snappy)
		require.NoError(t, err)
		assert.Equal(t, 0, d.NumChunks())
	})
	f, err := OpenBytes(b)
	require.NoError(t, err)
	g, _ := f.Group("g")
	d, err := g.Dataset("empty")
	require.NoError(t, err)
	arr, err := d.Read()
	require.NoError(t, err)
	assert.Equal(t, 0, len(arr.Uint8))
	assert.Equal(t, []int{0, 4}, arr.Shape)
}

func TestAttributes(t *testing.T) {
	blob := []byte{0x00, 0xd3, 0xed, 0xf5, 0xf2, 0x00, 0xff}
	b := writeContainer(t, func(w *Writer) {
		require.NoError(t, w.Attrs.Set("archive_id", "abc"))
		g, err := w.CreateGroup("g")
		require.NoError(t, err)
		require.NoError(t, g.Attrs.Set("SWdate", "03/08/2021"))
		require.NoError(t, g.Attrs.Set("XResolution", uint32(8250)))
		require.NoError(t, g.Attrs.Set("PixelSize", float32(8)))
		require.NoError(t, g.Attrs.Set("restored", true))
		require.NoError(t, g.Attrs.Set("pixel_size", []float64{8, 8, -1}))
		require.NoError(t, g.Attrs.Set("dat_header", blob))
		assert.Error(t, g.Attrs.Set("bad", struct{}{}))
		d, err := g.CreateDataset("d", Uint8Array([]uint8{1, 2}, 2), nil, Uncompressed)
		require.NoError(t, err)
		require.NoError(t, d.Attrs.Set("level", 3))
	})
	f, err := OpenBytes(b)
	require.NoError(t, err)
	assert.Equal(t, Version.String(), f.Version)
	id, err := f.Attrs.String("archive_id")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	g, err := f.Group("g")
	require.NoError(t, err)
	assert.Equal(t, []string{"PixelSize", "SWdate", "XResolution", "dat_header", "pixel_size", "restored"}, g.Attrs.Names())
	s, err := g.Attrs.String("SWdate")
	require.NoError(t, err)
	assert.Equal(t, "03/08/2021", s)
	i, err := g.Attrs.Int("XResolution")
	require.NoError(t, err)
	assert.Equal(t, int64(8250), i)
	x, err := g.Attrs.Float("PixelSize")
	require.NoError(t, err)
	assert.Equal(t, 8.0, x)
	ok, err := g.Attrs.Bool("restored")
	require.NoError(t, err)
	assert.True(t, ok)
	fs, err := g.Attrs.Floats("pixel_size")
	require.NoError(t, err)
	assert.Equal(t, []float64{8, 8, -1}, fs)
	raw, err := g.Attrs.Bytes("dat_header")
	require.NoError(t, err)
	assert.Equal(t, blob, raw)

	_, err = g.Attrs.Int("SWdate")
	assert.Error(t, err)
	_, err = g.Attrs.String("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	d, err := g.Dataset("d")
	require.NoError(t, err)
	level, err := d.Attrs.Int("level")
	require.NoError(t, err)
	assert.Equal(t, int64(3), level)
}

func TestCreateOnce(t *testing.T) {
	w, err := NewWriter(&bytes.Buffer{})
	require.NoError(t, err)
	g, err := w.CreateGroup("0-0-0")
	require.NoError(t, err)
	_, err = w.CreateGroup("0-0-0")
	assert.True(t, errors.Is(err, ErrExists))

	_, err = g.CreateDataset("channel_0", Uint8Array([]uint8{1}, 1), nil, Uncompressed)
	require.NoError(t, err)
	_, err = g.CreateDataset("channel_0", Uint8Array([]uint8{1}, 1), nil, Uncompressed)
	assert.True(t, errors.Is(err, ErrExists))

	_, err = g.CreateDataset("short", Uint8Array([]uint8{1}, 2), nil, Uncompressed)
	assert.Error(t, err)

	require.NoError(t, w.Close())
	_, err = w.CreateGroup("late")
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(w.Close(), ErrClosed))
}

func TestIncomplete(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	g, err := w.CreateGroup("g")
	require.NoError(t, err)
	_, err = g.CreateDataset("d", Int16Array(int16Ramp(4096), 64, 64), []int{16, 16}, Zlib)
	require.NoError(t, err)

	// Writer never closed.
	_, err = OpenBytes(buf.Bytes())
	assert.True(t, errors.Is(err, ErrIncomplete), "got %v", err)

	require.NoError(t, w.Close())
	full := buf.Bytes()
	_, err = OpenBytes(full)
	require.NoError(t, err)

	for _, cut := range []int{1, footerSize / 2, footerSize, len(full) / 2} {
		_, err = OpenBytes(full[:len(full)-cut])
		assert.True(t, errors.Is(err, ErrIncomplete), "cut %d: got %v", cut, err)
	}
	_, err = OpenBytes(full[:4])
	assert.True(t, errors.Is(err, ErrIncomplete))
}

func TestCorruption(t *testing.T) {
	b := writeContainer(t, func(w *Writer) {
		g, err := w.CreateGroup("g")
		require.NoError(t, err)
		_, err = g.CreateDataset("d", Int16Array(int16Ramp(100), 10, 10), []int{5, 5}, Uncompressed)
		require.NoError(t, err)
	})

	chunk := append([]byte(nil), b...)
	chunk[len(Magic)+3] ^= 0xff
	f, err := OpenBytes(chunk)
	require.NoError(t, err)
	g, _ := f.Group("g")
	d, _ := g.Dataset("d")
	_, err = d.Read()
	assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)

	index := append([]byte(nil), b...)
	index[len(index)-footerSize-2] ^= 0xff
	_, err = OpenBytes(index)
	assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)

	magic := append([]byte(nil), b...)
	magic[0] = 'X'
	_, err = OpenBytes(magic)
	assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
}

func TestVersionCheck(t *testing.T) {
	assert.NoError(t, checkVersion("1.0.0"))
	assert.NoError(t, checkVersion("1.4.2"))
	assert.Error(t, checkVersion("2.0.0"))
	assert.Error(t, checkVersion("not a version"))
}

func TestShuffle(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6}
	s := shuffle(data, 2)
	assert.Equal(t, []byte{1, 3, 5, 2, 4, 6}, s)
	assert.Equal(t, data, unshuffle(s, 2))
	assert.Equal(t, data, shuffle(data, 1))
}

func TestParseCompression(t *testing.T) {
	for c := Uncompressed; c <= LZ4; c++ {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	got, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, Uncompressed, got)
	_, err = ParseCompression("bzip2")
	assert.Error(t, err)
}

func TestGroupOrder(t *testing.T) {
	names := []string{"0-1-0", "0-0-0", "0-0-1"}
	b := writeContainer(t, func(w *Writer) {
		for _, name := range names {
			_, err := w.CreateGroup(name)
			require.NoError(t, err)
		}
	})
	f, err := OpenBytes(b)
	require.NoError(t, err)
	var got []string
	for _, g := range f.Groups() {
		got = append(got, g.Name)
	}
	assert.Equal(t, names, got)
	_, err = f.Group("9-9-9")
	assert.True(t, errors.Is(err, ErrNotFound), fmt.Sprint(err))
}
