package layer

import "fmt"

// Extents is the row/column bounding box of a set of tiles plus the tile geometry
// taken from the first tile seen.
type Extents struct {
	TileWidth, TileHeight int

	MinRow, MaxRow       int
	MinColumn, MaxColumn int

	Tiles int
}

// Add folds a tile into the extents.  The first tile sets the geometry and both
// extrema; later tiles only widen the extrema.
func (e *Extents) Add(r TileRecord) {
	row, col := r.Path.Row, r.Path.Column
	if e.Tiles == 0 {
		e.TileWidth = int(r.Header.XResolution)
		e.TileHeight = int(r.Header.YResolution)
		e.MinRow, e.MaxRow = row, row
		e.MinColumn, e.MaxColumn = col, col
		e.Tiles = 1
		return
	}
	e.Tiles++
	if row < e.MinRow {
		e.MinRow = row
	}
	if row > e.MaxRow {
		e.MaxRow = row
	}
	if col < e.MinColumn {
		e.MinColumn = col
	}
	if col > e.MaxColumn {
		e.MaxColumn = col
	}
}

// Rows returns the number of tile rows spanned.
func (e Extents) Rows() int {
	if e.Tiles == 0 {
		return 0
	}
	return e.MaxRow - e.MinRow + 1
}

// Columns returns the number of tile columns spanned.
func (e Extents) Columns() int {
	if e.Tiles == 0 {
		return 0
	}
	return e.MaxColumn - e.MinColumn + 1
}

func (e Extents) String() string {
	return fmt.Sprintf("%d tiles of %dx%d in rows %d-%d, columns %d-%d",
		e.Tiles, e.TileWidth, e.TileHeight, e.MinRow, e.MaxRow, e.MinColumn, e.MaxColumn)
}

// LayerExtents returns the extents of the tiles in l.
func LayerExtents(l *Layer) Extents {
	var e Extents
	for _, t := range l.Tiles {
		e.Add(t)
	}
	return e
}

// GroupExtents returns the extents over every tile in the groups.
func GroupExtents(groups []*LayerGroup) Extents {
	var e Extents
	for _, l := range AllLayers(groups) {
		for _, t := range l.Tiles {
			e.Add(t)
		}
	}
	return e
}
