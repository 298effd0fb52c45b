/*
Package convert runs batch conversions of dat tiles into archives.

A run lists the tiles in a source store, sorts them by acquisition time, selects a
range, groups them into layers, and then converts each layer independently:

	raw/<layer_id>.arc      lossless archive of every tile in the layer
	mipmap/<layer_id>.arc   8-bit pyramids sharing one intensity window per layer
	masks/mask_<w>x<h>_...  optional PNG mask per distinct tile size

Decoding and grouping errors abort the run.  Failures to write optional artifacts
are collected in an ArtifactContext and reported at the end.
*/
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/DmitriyVTitov/size"
	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/emtile/archive"
	"github.com/janelia-flyem/emtile/datfile"
	"github.com/janelia-flyem/emtile/emtile"
	"github.com/janelia-flyem/emtile/intensity"
	"github.com/janelia-flyem/emtile/layer"
	"github.com/janelia-flyem/emtile/storage"
)

// ErrNoTiles is returned when the source or selected range holds no tiles.
var ErrNoTiles = errors.New("no tiles to convert")

// RawKey is the key of the raw archive of a layer.
func RawKey(layerID string) string {
	return "raw/" + layerID + ".arc"
}

// MipmapKey is the key of the mipmap archive of a layer.
func MipmapKey(layerID string) string {
	return "mipmap/" + layerID + ".arc"
}

// Converter converts tiles from one store into archives in another.
type Converter struct {
	cfg       *Config
	src       *datfile.Source
	dst       *storage.Store
	Artifacts *ArtifactContext
}

// Open opens the stores named in the configuration.
func Open(ctx context.Context, cfg *Config) (*Converter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	src, err := storage.Open(ctx, cfg.Convert.Source)
	if err != nil {
		return nil, err
	}
	dst, err := storage.Open(ctx, cfg.Convert.Dest)
	if err != nil {
		src.Close()
		return nil, err
	}
	return New(cfg, src, dst), nil
}

// New returns a converter over already opened stores.  A nil dst is enough for Plan.
func New(cfg *Config, src, dst *storage.Store) *Converter {
	cacheMB := cfg.Convert.CacheMB
	if cacheMB <= 0 {
		cacheMB = DefaultCacheMB
	}
	return &Converter{
		cfg:       cfg,
		src:       datfile.NewSource(src, cacheMB*emtile.Mega),
		dst:       dst,
		Artifacts: NewArtifactContext(),
	}
}

// Close closes the stores.
func (c *Converter) Close() error {
	err := c.src.Store().Close()
	if c.dst != nil {
		if err2 := c.dst.Close(); err == nil {
			err = err2
		}
	}
	return err
}

// Plan is the grouping of the selected tiles.
type Plan struct {
	Paths  []datfile.TilePath
	Groups []*layer.LayerGroup

	NominalZ    float64
	HasNominalZ bool
}

// Layers returns every layer of the plan in acquisition order.
func (p *Plan) Layers() []*layer.Layer {
	return layer.AllLayers(p.Groups)
}

func (c *Converter) scanner() *layer.Scanner {
	return &layer.Scanner{
		Source:    c.src,
		Options:   layer.Options{FailOnTileCountChange: c.cfg.Convert.FailOnTileCountChange},
		BatchSize: c.cfg.Convert.BatchSize,
		Workers:   c.cfg.Convert.Workers,
	}
}

// Plan lists, sorts, selects and groups the source tiles.
func (c *Converter) Plan(ctx context.Context) (*Plan, error) {
	keys, err := c.src.Store().List(ctx, c.cfg.Convert.Prefix, ".dat")
	if err != nil {
		return nil, err
	}
	paths, err := datfile.ParseTilePaths(keys)
	if err != nil {
		return nil, err
	}
	rng, err := c.cfg.Range()
	if err != nil {
		return nil, err
	}
	if paths, err = rng.Select(paths); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s in %s: %w", rng, c.src.Store(), ErrNoTiles)
	}
	emtile.Infof("Selected %d of %d tiles (%s)\n", len(paths), len(keys), rng)

	groups, err := c.scanner().ScanPartitioned(ctx, paths)
	if err != nil {
		return nil, err
	}
	plan := &Plan{Paths: paths, Groups: groups}
	seen := make(map[string]bool)
	for _, l := range plan.Layers() {
		if seen[l.ID] {
			return nil, fmt.Errorf("layer %s was split during grouping", l.ID)
		}
		seen[l.ID] = true
	}
	plan.NominalZ, plan.HasNominalZ = layer.NominalZResolution(plan.Layers())
	for i, g := range groups {
		emtile.Infof("Group %d: %s\n", i, g)
	}
	emtile.Debugf("Plan holds %s of tile records\n", emtile.ByteSize(int64(size.Of(plan))))
	return plan, nil
}

// LayerResult describes what happened to one layer.
type LayerResult struct {
	LayerID string
	Tiles   int

	WroteRaw    bool
	WroteMipmap bool

	// Intensity is nil unless mipmaps were made from 16-bit tiles in memory.
	Intensity *intensity.Result
}

// Skipped is true if both archives already existed.
func (r LayerResult) Skipped() bool {
	return !r.WroteRaw && !r.WroteMipmap
}

// Summary reports a completed run.
type Summary struct {
	Tiles     int
	Groups    int
	Layers    int
	Converted int
	Skipped   int

	NominalZ    float64
	HasNominalZ bool

	Results []LayerResult

	// ArtifactErr holds every artifact failure.  It never fails the run.
	ArtifactErr error
}

// Run converts every selected layer.
func (c *Converter) Run(ctx context.Context) (*Summary, error) {
	timedLog := emtile.NewTimeLog()
	plan, err := c.Plan(ctx)
	if err != nil {
		return nil, err
	}
	if c.cfg.Convert.Report != "" {
		if err := c.writeReport(ctx, plan); err != nil {
			return nil, err
		}
	}

	layers := plan.Layers()
	results := make([]LayerResult, len(layers))
	workers := c.cfg.Convert.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, l := range layers {
		i, l := i, l
		g.Go(func() error {
			res, err := c.ConvertLayer(gctx, l)
			if err != nil {
				return fmt.Errorf("layer %s: %w", l.ID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &Summary{
		Tiles:       len(plan.Paths),
		Groups:      len(plan.Groups),
		Layers:      len(layers),
		NominalZ:    plan.NominalZ,
		HasNominalZ: plan.HasNominalZ,
		Results:     results,
		ArtifactErr: c.Artifacts.Err(),
	}
	for _, r := range results {
		if r.Skipped() {
			s.Skipped++
		} else {
			s.Converted++
		}
	}
	if s.ArtifactErr != nil {
		emtile.Warningf("Artifact failures: %v\n", s.ArtifactErr)
	}
	if s.HasNominalZ {
		emtile.Infof("Nominal z resolution %.0f nm\n", s.NominalZ)
	}
	timedLog.Infof("Converted %d layers and skipped %d (%d tiles, %d groups)",
		s.Converted, s.Skipped, s.Tiles, s.Groups)
	return s, nil
}

func (c *Converter) writeReport(ctx context.Context, plan *Plan) error {
	var buf bytes.Buffer
	if err := layer.WriteGroupReport(&buf, plan.Groups); err != nil {
		return fmt.Errorf("writing group report: %w", err)
	}
	return c.dst.Put(ctx, c.cfg.Convert.Report, buf.Bytes(), true)
}

// needed returns whether the archive at key has to be written.
func (c *Converter) needed(ctx context.Context, key string) (bool, error) {
	if c.cfg.Convert.Overwrite || !c.cfg.Convert.SkipExisting {
		return true, nil
	}
	found, err := c.dst.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if found {
		emtile.Debugf("Skipping existing archive %q\n", key)
	}
	return !found, nil
}

// ConvertLayer writes whatever archives of the layer are missing.  Without
// skip-existing or overwrite an existing archive is an error.
func (c *Converter) ConvertLayer(ctx context.Context, l *layer.Layer) (LayerResult, error) {
	res := LayerResult{LayerID: l.ID, Tiles: l.Len()}
	rawKey, mipKey := RawKey(l.ID), MipmapKey(l.ID)
	needRaw, err := c.needed(ctx, rawKey)
	if err != nil {
		return res, err
	}
	needMip, err := c.needed(ctx, mipKey)
	if err != nil {
		return res, err
	}
	if !needRaw && !needMip {
		return res, nil
	}
	mopts := c.cfg.MipmapOptions()

	// Only the pyramids are missing, so rebuild them from the raw archive.
	if !needRaw {
		err := archive.RegenerateMipmaps(ctx, c.dst, rawKey, mipKey, c.cfg.Convert.Overwrite, c.cfg.ArchiveOptions(), mopts)
		if err != nil {
			return res, err
		}
		res.WroteMipmap = true
		return res, nil
	}

	timedLog := emtile.NewTimeLog()
	tiles, err := c.readTiles(ctx, l)
	if err != nil {
		return res, err
	}
	if err := c.writeRaw(ctx, rawKey, tiles); err != nil {
		return res, err
	}
	res.WroteRaw = true
	if needMip {
		if res.Intensity, err = c.writeMipmaps(ctx, mipKey, tiles, mopts); err != nil {
			return res, err
		}
		res.WroteMipmap = true
	}
	if c.cfg.Mask.Artifacts {
		c.ensureMasks(ctx, tiles, mopts.Exclude)
	}
	timedLog.Infof("Converted layer %s with %d tiles", l.ID, len(tiles))
	return res, nil
}

func (c *Converter) readTiles(ctx context.Context, l *layer.Layer) ([]archive.LayerTile, error) {
	tiles := make([]archive.LayerTile, len(l.Tiles))
	for i, r := range l.Tiles {
		t, err := c.src.Tile(ctx, r.Path.Key)
		if err != nil {
			return nil, err
		}
		tiles[i] = archive.LayerTile{Path: r.Path, Tile: t}
	}
	emtile.Debugf("Layer %s: %d tiles use %s\n", l.ID, len(tiles), emtile.ByteSize(int64(size.Of(tiles))))
	return tiles, nil
}

func (c *Converter) writeRaw(ctx context.Context, key string, tiles []archive.LayerTile) error {
	w, err := archive.Create(ctx, c.dst, key, archive.RawKind, c.cfg.Convert.Overwrite, c.cfg.ArchiveOptions())
	if err != nil {
		return err
	}
	for _, lt := range tiles {
		if err := w.WriteRawTile(lt.Path, lt.Tile); err != nil {
			w.Abort()
			return err
		}
	}
	if err := w.Commit(); err != nil {
		return err
	}
	if c.cfg.Convert.Verify {
		return c.verify(ctx, key, tiles)
	}
	return nil
}

// verify rebuilds every tile from the stored archive and compares it with the
// source file.
func (c *Converter) verify(ctx context.Context, key string, tiles []archive.LayerTile) error {
	a, err := archive.Open(ctx, c.dst, key)
	if err != nil {
		return err
	}
	for _, lt := range tiles {
		g, err := a.Group(lt.Path.GroupName())
		if err != nil {
			return err
		}
		original, err := c.src.Raw(ctx, lt.Path.Key)
		if err != nil {
			return err
		}
		if err := archive.Validate(g, original); err != nil {
			return fmt.Errorf("verifying %q: %w", key, err)
		}
	}
	return nil
}

func (c *Converter) writeMipmaps(ctx context.Context, key string, tiles []archive.LayerTile,
	mopts archive.MipmapOptions) (*intensity.Result, error) {

	w, err := archive.Create(ctx, c.dst, key, archive.MipmapKind, c.cfg.Convert.Overwrite, c.cfg.ArchiveOptions())
	if err != nil {
		return nil, err
	}
	res, err := w.WriteLayerMipmaps(tiles, mopts)
	if err != nil {
		w.Abort()
		return nil, err
	}
	if err := w.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// ensureMasks writes one mask per distinct tile size.  Failures are recorded in the
// artifact context only.
func (c *Converter) ensureMasks(ctx context.Context, tiles []archive.LayerTile, regions []image.Rectangle) {
	seen := make(map[image.Point]struct{})
	for _, lt := range tiles {
		dims := image.Pt(lt.Tile.Width(), lt.Tile.Height())
		if _, found := seen[dims]; found {
			continue
		}
		seen[dims] = struct{}{}
		key := MaskKey(dims.X, dims.Y, regions)
		c.Artifacts.Ensure(key, func() error {
			return writeMask(ctx, c.dst, key, dims.X, dims.Y, regions)
		})
	}
}
