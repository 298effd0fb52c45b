/*
Package archive stores dat tiles in container files and restores them.

A raw archive holds one group per tile, named <section>-<row>-<column>, with one
dataset per channel, every retained header field as an attribute, and the verbatim
header and trailer bytes as opaque blobs so the original file can be rebuilt byte
for byte.  A mipmap archive holds one group per tile and level, named
<section>-<row>-<column>.mipmap.<level>, with 8-bit channel datasets.
*/
package archive

import (
	"context"
	"fmt"

	"github.com/twinj/uuid"

	"github.com/janelia-flyem/emtile/container"
	"github.com/janelia-flyem/emtile/datfile"
	"github.com/janelia-flyem/emtile/emtile"
	"github.com/janelia-flyem/emtile/mipmap"
	"github.com/janelia-flyem/emtile/storage"
)

// Attribute names written by the archive writer.
const (
	HeaderBlobAttr = "dat_header"
	RecipeBlobAttr = "dat_recipe"
	SourceAttr     = "source_file"
	TileIDAttr     = "tile_id"
	LevelAttr      = "mipmap_level"
	PixelSizeAttr  = "pixel_size"
	ArchiveIDAttr  = "archive_id"
	KindAttr       = "archive_kind"
)

// Archive kinds.
const (
	RawKind    = "raw"
	MipmapKind = "mipmap"
)

// ChannelName returns the dataset name of channel c.
func ChannelName(c int) string {
	return fmt.Sprintf("channel_%d", c)
}

// DefaultChunk is the per-channel chunk shape, rows x columns.
var DefaultChunk = []int{1024, 1024}

// Options control how datasets are stored.
type Options struct {
	Chunk       []int
	Compression container.Compression
}

func (o Options) chunk() []int {
	if len(o.Chunk) == 0 {
		return DefaultChunk
	}
	return o.Chunk
}

// Writer builds one archive file.  Nothing is visible in the store until Commit.
type Writer struct {
	key  string
	kind string
	opts Options
	aw   *storage.AtomicWriter
	cw   *container.Writer
}

// Create starts an archive of the given kind at key.  Unless overwrite is set, an
// existing archive at key is an error matching storage.ErrExists.
func Create(ctx context.Context, store *storage.Store, key, kind string, overwrite bool, opts Options) (*Writer, error) {
	aw, err := store.NewAtomicWriter(ctx, key, overwrite)
	if err != nil {
		return nil, err
	}
	cw, err := container.NewWriter(aw)
	if err != nil {
		aw.Abort()
		return nil, err
	}
	w := &Writer{key: key, kind: kind, opts: opts, aw: aw, cw: cw}
	if err := cw.Attrs.Set(KindAttr, kind); err != nil {
		aw.Abort()
		return nil, err
	}
	if err := cw.Attrs.Set(ArchiveIDAttr, fmt.Sprintf("%x", uuid.NewV4().Bytes())); err != nil {
		aw.Abort()
		return nil, err
	}
	return w, nil
}

// Key returns the archive's store key.
func (w *Writer) Key() string {
	return w.key
}

// Commit finishes the container and makes the archive visible.
func (w *Writer) Commit() error {
	if err := w.cw.Close(); err != nil {
		w.aw.Abort()
		return fmt.Errorf("closing archive %q: %w", w.key, err)
	}
	if err := w.aw.Commit(); err != nil {
		return err
	}
	emtile.Debugf("Wrote %s archive %q (%s)\n", w.kind, w.key, emtile.ByteSize(w.cw.Offset()))
	return nil
}

// Abort discards the archive.
func (w *Writer) Abort() {
	w.aw.Abort()
}

// setHeaderAttrs attaches every retained header field plus tile identity attributes.
func setHeaderAttrs(g *container.Group, path datfile.TilePath, h *datfile.Header) error {
	for _, a := range h.Attributes() {
		if err := g.Attrs.Set(a.Name, a.Value); err != nil {
			return err
		}
	}
	if err := g.Attrs.Set(SourceAttr, path.FileName()); err != nil {
		return err
	}
	return g.Attrs.Set(TileIDAttr, path.TileID())
}

// WriteRawTile stores a complete tile so that Restore reproduces its file exactly.
// The verbatim header must carry the dat magic number.
func (w *Writer) WriteRawTile(path datfile.TilePath, t *datfile.Tile) error {
	if len(t.Header.Raw) != datfile.HeaderSize {
		return fmt.Errorf("tile %s has %d verbatim header bytes, expected %d", path.TileID(), len(t.Header.Raw), datfile.HeaderSize)
	}
	if err := datfile.CheckMagic(path.Key, t.Header.Raw); err != nil {
		return err
	}
	g, err := w.cw.CreateGroup(path.GroupName())
	if err != nil {
		return err
	}
	if err := setHeaderAttrs(g, path, t.Header); err != nil {
		return err
	}
	if err := g.Attrs.Set(HeaderBlobAttr, t.Header.Raw); err != nil {
		return err
	}
	if err := g.Attrs.Set(RecipeBlobAttr, t.Recipe); err != nil {
		return err
	}
	wd, ht := t.Width(), t.Height()
	for c := 0; c < t.Channels(); c++ {
		var arr container.Array
		if t.Header.BitDepth() == 8 {
			p, err := t.Channel8(c)
			if err != nil {
				return err
			}
			arr = container.Uint8Array(p.Pix, ht, wd)
		} else {
			p, err := t.Channel16(c)
			if err != nil {
				return err
			}
			arr = container.Int16Array(p.Pix, ht, wd)
		}
		if _, err := g.CreateDataset(ChannelName(c), arr, w.opts.chunk(), w.opts.Compression); err != nil {
			return fmt.Errorf("tile %s channel %d: %w", path.TileID(), c, err)
		}
	}
	return nil
}

// WriteMipmaps stores every level of a tile's pyramid as its own group.
func (w *Writer) WriteMipmaps(path datfile.TilePath, h *datfile.Header, levels []mipmap.Level) error {
	for _, l := range levels {
		g, err := w.cw.CreateGroup(path.MipmapGroupName(l.Level))
		if err != nil {
			return err
		}
		if err := setHeaderAttrs(g, path, h); err != nil {
			return err
		}
		if err := g.Attrs.Set(LevelAttr, l.Level); err != nil {
			return err
		}
		if err := g.Attrs.Set(PixelSizeAttr, l.PixelSize[:]); err != nil {
			return err
		}
		for c, p := range l.Planes {
			arr := container.Uint8Array(p.Pix, p.Height, p.Width)
			if _, err := g.CreateDataset(ChannelName(c), arr, w.opts.chunk(), w.opts.Compression); err != nil {
				return fmt.Errorf("tile %s level %d channel %d: %w", path.TileID(), l.Level, c, err)
			}
		}
	}
	return nil
}

// Archive is an opened archive file.
type Archive struct {
	*container.File
	Key  string
	Kind string
}

// Open opens the archive at key.  Partially written archives fail with
// container.ErrIncomplete.
func Open(ctx context.Context, store *storage.Store, key string) (*Archive, error) {
	obj, err := store.Object(ctx, key)
	if err != nil {
		return nil, err
	}
	f, err := container.Open(obj, obj.Size())
	if err != nil {
		return nil, fmt.Errorf("archive %q: %w", key, err)
	}
	kind, err := f.Attrs.String(KindAttr)
	if err != nil {
		return nil, fmt.Errorf("archive %q: %w", key, err)
	}
	return &Archive{File: f, Key: key, Kind: kind}, nil
}

// Tile rebuilds and decodes the tile stored in the named raw group.
func (a *Archive) Tile(name string) (*datfile.Tile, error) {
	g, err := a.Group(name)
	if err != nil {
		return nil, err
	}
	b, err := Restore(g)
	if err != nil {
		return nil, err
	}
	source, err := g.Attrs.String(SourceAttr)
	if err != nil {
		return nil, err
	}
	return datfile.DecodeTile(source, b)
}

// RawGroups returns the raw tile groups in the order they were written.
func (a *Archive) RawGroups() []*container.Group {
	var groups []*container.Group
	for _, g := range a.Groups() {
		if g.Attrs.Has(HeaderBlobAttr) {
			groups = append(groups, g)
		}
	}
	return groups
}
