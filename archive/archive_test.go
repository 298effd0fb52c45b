package archive

import (
	"context"
	"errors"
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janelia-flyem/emtile/container"
	"github.com/janelia-flyem/emtile/datfile"
	"github.com/janelia-flyem/emtile/emtile"
	"github.com/janelia-flyem/emtile/storage"
)

var acquired = time.Date(2021, 5, 20, 12, 54, 16, 0, time.UTC)

func testTile(t *testing.T, row, col, w, h, channels, seed int) (datfile.TilePath, *datfile.Tile) {
	name := datfile.TestTileName("Merlin-6257", acquired, 0, row, col)
	path, err := datfile.ParseTilePath("tiles/" + name)
	require.NoError(t, err)
	tile, err := datfile.TestTile(name, datfile.TestHeader(w, h), channels, seed)
	require.NoError(t, err)
	// Unmodeled header bytes must survive archival.
	tile.Header.Raw[900] = 0xab
	tile.Header.Raw[1023] = 0x5a
	return path, tile
}

func testTile8(t *testing.T, row, col, w, h int) (datfile.TilePath, *datfile.Tile) {
	name := datfile.TestTileName("Merlin-6257", acquired, 0, row, col)
	path, err := datfile.ParseTilePath(name)
	require.NoError(t, err)
	planes := []*emtile.Plane8{emtile.NewPlane8(w, h), emtile.NewPlane8(w, h)}
	for c, p := range planes {
		for i := range p.Pix {
			p.Pix[i] = uint8(i*3 + c*50)
		}
	}
	tile, err := datfile.NewTile8(name, datfile.TestHeader(w, h), planes, []byte{1, 2, 3})
	require.NoError(t, err)
	return path, tile
}

func writeRaw(t *testing.T, store *storage.Store, key string, opts Options, tiles ...LayerTile) {
	ctx := context.Background()
	w, err := Create(ctx, store, key, RawKind, false, opts)
	require.NoError(t, err)
	for _, lt := range tiles {
		require.NoError(t, w.WriteRawTile(lt.Path, lt.Tile))
	}
	require.NoError(t, w.Commit())
}

func TestRawRoundTrip(t *testing.T) {
	ctx := context.Background()
	optsList := []Options{
		{},
		{Chunk: []int{3, 5}, Compression: container.Zstd},
		{Chunk: []int{4096, 4096}, Compression: container.LZ4},
		{Chunk: []int{1, 7}, Compression: container.Zlib},
		{Chunk: []int{8, 8}, Compression: container.Snappy},
	}
	for i, opts := range optsList {
		t.Run(fmt.Sprintf("options %d", i), func(t *testing.T) {
			store := storage.NewMemStore()
			p1, t1 := testTile(t, 0, 0, 13, 7, 2, 1)
			p2, t2 := testTile(t, 0, 1, 13, 7, 1, 2)
			p3, t3 := testTile8(t, 1, 0, 9, 4)
			writeRaw(t, store, "raw/layer.arc", opts, LayerTile{p1, t1}, LayerTile{p2, t2}, LayerTile{p3, t3})

			a, err := Open(ctx, store, "raw/layer.arc")
			require.NoError(t, err)
			assert.Equal(t, RawKind, a.Kind)
			require.Len(t, a.RawGroups(), 3)
			for _, lt := range []LayerTile{{p1, t1}, {p2, t2}, {p3, t3}} {
				g, err := a.Group(lt.Path.GroupName())
				require.NoError(t, err)
				restored, err := Restore(g)
				require.NoError(t, err)
				assert.Equal(t, lt.Tile.Bytes(), restored)
				assert.NoError(t, Validate(g, lt.Tile.Bytes()))

				src, err := g.Attrs.String(SourceAttr)
				require.NoError(t, err)
				assert.Equal(t, lt.Path.FileName(), src)
				id, err := g.Attrs.String(TileIDAttr)
				require.NoError(t, err)
				assert.Equal(t, lt.Path.TileID(), id)
				xres, err := g.Attrs.Int("XResolution")
				require.NoError(t, err)
				assert.Equal(t, int64(lt.Tile.Width()), xres)
			}
		})
	}
}

func TestArchivedChannelsAreHostValues(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	path, tile := testTile(t, 2, 3, 6, 5, 2, 9)
	writeRaw(t, store, "raw.arc", Options{}, LayerTile{path, tile})
	a, err := Open(ctx, store, "raw.arc")
	require.NoError(t, err)
	g, err := a.Group("0-2-3")
	require.NoError(t, err)
	d, err := g.Dataset(ChannelName(1))
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6}, d.Shape)
	arr, err := d.Read()
	require.NoError(t, err)
	want, err := tile.Channel16(1)
	require.NoError(t, err)
	assert.Equal(t, want.Pix, arr.Int16)
}

func TestValidateMismatch(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	path, tile := testTile(t, 0, 0, 8, 8, 1, 3)
	writeRaw(t, store, "raw.arc", Options{}, LayerTile{path, tile})
	a, err := Open(ctx, store, "raw.arc")
	require.NoError(t, err)
	g, err := a.Group(path.GroupName())
	require.NoError(t, err)

	original := tile.Bytes()
	changed := append([]byte(nil), original...)
	offset := datfile.HeaderSize + 21
	changed[offset] ^= 0x01
	err = Validate(g, changed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrByteMismatch))
	var mismatch *ByteMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, int64(offset), mismatch.Offset)
	assert.Equal(t, "payload", mismatch.Region)
	assert.Equal(t, int64(offset-contextBytes), mismatch.ContextStart)
	assert.Len(t, mismatch.Expected, 2*contextBytes)
	assert.Equal(t, changed[offset], mismatch.Expected[contextBytes])
	assert.Equal(t, original[offset], mismatch.Actual[contextBytes])

	longer := append(append([]byte(nil), original...), 0x00)
	err = Validate(g, longer)
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, int64(len(original)), mismatch.Offset)
	assert.Equal(t, "recipe", mismatch.Region)
	assert.Equal(t, int64(len(original)+1), mismatch.ExpectedLen)

	header := append([]byte(nil), original...)
	header[5] ^= 0xff
	err = Validate(g, header)
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, int64(5), mismatch.Offset)
	assert.Equal(t, "header", mismatch.Region)
	assert.Equal(t, int64(0), mismatch.ContextStart)
}

func TestRawTileMagicChecked(t *testing.T) {
	store := storage.NewMemStore()
	path, tile := testTile(t, 0, 0, 4, 4, 1, 1)
	tile.Header.Raw[0] = 0
	w, err := Create(context.Background(), store, "raw.arc", RawKind, false, Options{})
	require.NoError(t, err)
	defer w.Abort()
	err = w.WriteRawTile(path, tile)
	assert.True(t, errors.Is(err, datfile.ErrHeaderInvalid), "got %v", err)
}

func TestCreateOnceAndAbort(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	path, tile := testTile(t, 0, 0, 4, 4, 1, 1)
	writeRaw(t, store, "raw.arc", Options{}, LayerTile{path, tile})

	_, err := Create(ctx, store, "raw.arc", RawKind, false, Options{})
	assert.True(t, errors.Is(err, storage.ErrExists))

	w, err := Create(ctx, store, "raw.arc", RawKind, true, Options{})
	require.NoError(t, err)
	w.Abort()

	w, err = Create(ctx, store, "other.arc", RawKind, false, Options{})
	require.NoError(t, err)
	require.NoError(t, w.WriteRawTile(path, tile))
	w.Abort()
	exists, err := store.Exists(ctx, "other.arc")
	require.NoError(t, err)
	assert.False(t, exists)

	// Duplicate tile in one archive is rejected.
	w, err = Create(ctx, store, "dup.arc", RawKind, false, Options{})
	require.NoError(t, err)
	require.NoError(t, w.WriteRawTile(path, tile))
	assert.True(t, errors.Is(w.WriteRawTile(path, tile), container.ErrExists))
	w.Abort()
}

func TestPartialArchiveRejected(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	path, tile := testTile(t, 0, 0, 16, 16, 1, 1)
	writeRaw(t, store, "raw.arc", Options{}, LayerTile{path, tile})
	full, err := store.ReadAll(ctx, "raw.arc")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "partial.arc", full[:len(full)/2], false))
	_, err = Open(ctx, store, "partial.arc")
	assert.True(t, errors.Is(err, container.ErrIncomplete), "got %v", err)
}

func TestLayerMipmaps(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	p1, t1 := testTile(t, 0, 0, 16, 8, 1, 1)
	p2, t2 := testTile(t, 0, 1, 16, 8, 2, 2)
	p3, t3 := testTile8(t, 1, 0, 8, 8)
	tiles := []LayerTile{{p1, t1}, {p2, t2}, {p3, t3}}

	w, err := Create(ctx, store, "mipmap.arc", MipmapKind, false, Options{Compression: container.Zstd})
	require.NoError(t, err)
	res, err := w.WriteLayerMipmaps(tiles, MipmapOptions{MaxLevel: 2, Exclude: []image.Rectangle{image.Rect(0, 0, 2, 2)}})
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	require.NotNil(t, res)
	assert.Len(t, res.Planes, 3)

	a, err := Open(ctx, store, "mipmap.arc")
	require.NoError(t, err)
	assert.Equal(t, MipmapKind, a.Kind)
	assert.Len(t, a.Groups(), 9)
	assert.Len(t, a.RawGroups(), 0)

	g, err := a.Group(p2.MipmapGroupName(2))
	require.NoError(t, err)
	level, err := g.Attrs.Int(LevelAttr)
	require.NoError(t, err)
	assert.Equal(t, int64(2), level)
	size, err := g.Attrs.Floats(PixelSizeAttr)
	require.NoError(t, err)
	assert.Equal(t, []float64{32, 32, -1}, size)
	require.Len(t, g.Datasets(), 2)
	d, err := g.Dataset(ChannelName(1))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, d.Shape)
	assert.Equal(t, container.Uint8, d.DType)

	g, err = a.Group(p3.MipmapGroupName(0))
	require.NoError(t, err)
	d, err = g.Dataset(ChannelName(1))
	require.NoError(t, err)
	arr, err := d.Read()
	require.NoError(t, err)
	want, err := t3.Channel8(1)
	require.NoError(t, err)
	assert.Equal(t, want.Pix, arr.Uint8)
}

func TestRegenerateMipmaps(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	p1, t1 := testTile(t, 0, 0, 16, 8, 1, 4)
	p2, t2 := testTile(t, 1, 0, 16, 8, 1, 5)
	tiles := []LayerTile{{p1, t1}, {p2, t2}}
	writeRaw(t, store, "raw/layer.arc", Options{}, tiles...)

	w, err := Create(ctx, store, "direct.arc", MipmapKind, false, Options{})
	require.NoError(t, err)
	_, err = w.WriteLayerMipmaps(tiles, MipmapOptions{MaxLevel: 3})
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	require.NoError(t, RegenerateMipmaps(ctx, store, "raw/layer.arc", "mipmap/layer.arc", false, Options{}, MipmapOptions{MaxLevel: 3}))
	err = RegenerateMipmaps(ctx, store, "raw/layer.arc", "mipmap/layer.arc", false, Options{}, MipmapOptions{MaxLevel: 3})
	assert.True(t, errors.Is(err, storage.ErrExists))

	direct, err := Open(ctx, store, "direct.arc")
	require.NoError(t, err)
	regen, err := Open(ctx, store, "mipmap/layer.arc")
	require.NoError(t, err)
	require.Equal(t, len(direct.Groups()), len(regen.Groups()))
	for _, dg := range direct.Groups() {
		rg, err := regen.Group(dg.Name)
		require.NoError(t, err)
		dd, err := dg.Dataset(ChannelName(0))
		require.NoError(t, err)
		rd, err := rg.Dataset(ChannelName(0))
		require.NoError(t, err)
		da, err := dd.Read()
		require.NoError(t, err)
		ra, err := rd.Read()
		require.NoError(t, err)
		assert.Equal(t, da.Uint8, ra.Uint8, dg.Name)
	}

	err = RegenerateMipmaps(ctx, store, "direct.arc", "x.arc", false, Options{}, MipmapOptions{})
	assert.Error(t, err)
}
