package archive

import (
	"context"
	"fmt"
	"image"

	"github.com/janelia-flyem/emtile/datfile"
	"github.com/janelia-flyem/emtile/emtile"
	"github.com/janelia-flyem/emtile/intensity"
	"github.com/janelia-flyem/emtile/mipmap"
	"github.com/janelia-flyem/emtile/storage"
)

// LayerTile is one tile of a layer together with its identity.
type LayerTile struct {
	Path datfile.TilePath
	Tile *datfile.Tile
}

// MipmapOptions control derived pyramids.
type MipmapOptions struct {
	MaxLevel int

	// Exclude lists tile-space rectangles left out of the intensity statistics.
	Exclude []image.Rectangle
}

// DefaultMaxMipmapLevel is used when no maximum level is configured.
const DefaultMaxMipmapLevel = 7

// WriteLayerMipmaps compresses the 16-bit tiles of one layer through a single shared
// intensity window and writes every tile's pyramid.  8-bit tiles are used as is.
// The returned result is nil if the layer has no 16-bit tiles.
func (w *Writer) WriteLayerMipmaps(tiles []LayerTile, opts MipmapOptions) (*intensity.Result, error) {
	var planes16 []*emtile.Plane16
	owners := make([][]int, len(tiles))
	for i, lt := range tiles {
		if lt.Tile.Header.BitDepth() != 16 {
			continue
		}
		ps, err := lt.Tile.Channels16()
		if err != nil {
			return nil, fmt.Errorf("tile %s: %w", lt.Path.TileID(), err)
		}
		for _, p := range ps {
			owners[i] = append(owners[i], len(planes16))
			planes16 = append(planes16, p)
		}
	}
	var res *intensity.Result
	if len(planes16) > 0 {
		res = intensity.CompressLayer(planes16, opts.Exclude)
	}
	for i, lt := range tiles {
		var planes []*emtile.Plane8
		if lt.Tile.Header.BitDepth() == 16 {
			for _, j := range owners[i] {
				planes = append(planes, res.Planes[j].Plane)
			}
		} else {
			for c := 0; c < lt.Tile.Channels(); c++ {
				p, err := lt.Tile.Channel8(c)
				if err != nil {
					return nil, fmt.Errorf("tile %s: %w", lt.Path.TileID(), err)
				}
				planes = append(planes, p)
			}
		}
		levels, err := mipmap.Pyramid(planes, float64(lt.Tile.Header.PixelSize), opts.MaxLevel)
		if err != nil {
			return nil, fmt.Errorf("tile %s: %w", lt.Path.TileID(), err)
		}
		if err := w.WriteMipmaps(lt.Path, lt.Tile.Header, levels); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// RegenerateMipmaps rebuilds the mipmap archive at mipKey from the raw archive at
// rawKey.  The tiles are restored from the raw archive, so the source dat files are
// not needed.
func RegenerateMipmaps(ctx context.Context, store *storage.Store, rawKey, mipKey string, overwrite bool,
	opts Options, mopts MipmapOptions) error {

	timedLog := emtile.NewTimeLog()
	raw, err := Open(ctx, store, rawKey)
	if err != nil {
		return err
	}
	if raw.Kind != RawKind {
		return fmt.Errorf("archive %q is a %s archive, not %s", rawKey, raw.Kind, RawKind)
	}
	var tiles []LayerTile
	for _, g := range raw.RawGroups() {
		t, err := raw.Tile(g.Name)
		if err != nil {
			return err
		}
		path, err := datfile.ParseTilePath(t.Name)
		if err != nil {
			return err
		}
		tiles = append(tiles, LayerTile{Path: path, Tile: t})
	}
	w, err := Create(ctx, store, mipKey, MipmapKind, overwrite, opts)
	if err != nil {
		return err
	}
	if _, err := w.WriteLayerMipmaps(tiles, mopts); err != nil {
		w.Abort()
		return err
	}
	if err := w.Commit(); err != nil {
		return err
	}
	timedLog.Infof("Regenerated mipmaps for %d tiles of %q into %q", len(tiles), rawKey, mipKey)
	return nil
}
