/*
Package layer regroups a time-sorted stream of dat tile headers into acquisition
layers and layer groups, flagging the acquisition discontinuities ("restarts")
that end a group.

A layer is the set of tiles sharing one layer id (scope + acquisition second).  A
layer group is a maximal run of layers with consistent header fields and tile count.
Groups end at a restart: an acquisition delay of more than 15 minutes, drift in a
common header field, or a change in tiles per layer.
*/
package layer

import (
	"fmt"
	"strings"
	"time"

	"github.com/janelia-flyem/emtile/datfile"
)

// TileRecord pairs a tile's identity with the header fields used for grouping.
// Index is the tile's position in the sorted input.
type TileRecord struct {
	Index  int
	Path   datfile.TilePath
	Header *datfile.Header
}

func (r TileRecord) String() string {
	return fmt.Sprintf("%s (#%d)", r.Path.TileID(), r.Index)
}

// Layer is a non-empty, ordered set of tiles acquired at one instant.
type Layer struct {
	ID    string
	Tiles []TileRecord
}

func newLayer(r TileRecord) *Layer {
	return &Layer{ID: r.Path.LayerID(), Tiles: []TileRecord{r}}
}

// Append adds a tile.  Appending a tile from another layer is a programming error.
func (l *Layer) Append(r TileRecord) {
	if id := r.Path.LayerID(); id != l.ID {
		panic(fmt.Sprintf("tile %s with layer id %q appended to layer %q", r, id, l.ID))
	}
	l.Tiles = append(l.Tiles, r)
}

// Len returns the number of tiles in the layer.
func (l *Layer) Len() int {
	return len(l.Tiles)
}

// First returns the first tile appended to the layer.
func (l *Layer) First() TileRecord {
	return l.Tiles[0]
}

// Last returns the most recently appended tile.
func (l *Layer) Last() TileRecord {
	return l.Tiles[len(l.Tiles)-1]
}

// Acquired returns the acquisition time shared by the layer's tiles.
func (l *Layer) Acquired() time.Time {
	return l.Tiles[0].Path.Acquired
}

func (l *Layer) String() string {
	return fmt.Sprintf("layer %s (%d tiles)", l.ID, len(l.Tiles))
}

// RestartKind classifies a restart.
type RestartKind string

const (
	AcquisitionDelay RestartKind = "acquisition-delay"
	HeaderFieldDrift RestartKind = "header-field-drift"
	TileCountChange  RestartKind = "tile-count-change"
)

// RestartEvent records why a layer group ended.  Before is the last layer of the
// ending group and After is the first layer of the group that follows.
type RestartEvent struct {
	Kind   RestartKind
	Detail string

	// Field names the drifting header field for HeaderFieldDrift restarts.
	Field string

	// Delta is the acquisition gap for AcquisitionDelay restarts.
	Delta time.Duration

	Before *Layer
	After  *Layer

	// DistanceZ is the working-distance derived z step across the restart,
	// valid when HasDistanceZ is true.
	DistanceZ    float64
	HasDistanceZ bool
}

func (e *RestartEvent) String() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Detail
}

// LayerGroup is a run of consecutive layers sharing common header fields and tile count.
type LayerGroup struct {
	Layers []*Layer

	// Header is the first tile's header and the reference for drift checks.
	Header *datfile.Header

	// TilesPerLayer is the tile count of every layer except a short layer carried
	// in from the preceding group, which may open the group.
	TilesPerLayer int
	Restart       *RestartEvent

	// StartIndex is the input index of the group's first tile.  TriggerIndex is the
	// input index of the tile whose processing opened the group, or -1 if the group
	// opened at the start of input.
	StartIndex   int
	TriggerIndex int

	first *Layer
}

func newGroup(first *Layer, trigger int) *LayerGroup {
	return &LayerGroup{
		Header:       first.First().Header,
		StartIndex:   first.First().Index,
		TriggerIndex: trigger,
		first:        first,
	}
}

// RestartCondition describes why grouping stopped, or "" at end of input.
func (g *LayerGroup) RestartCondition() string {
	return g.Restart.String()
}

// FirstLayer returns the layer the group was opened with.
func (g *LayerGroup) FirstLayer() *Layer {
	return g.first
}

// LastLayer returns the final layer of a closed group.
func (g *LayerGroup) LastLayer() *Layer {
	if len(g.Layers) == 0 {
		return nil
	}
	return g.Layers[len(g.Layers)-1]
}

// NumTiles returns the total number of tiles in the group's layers.
func (g *LayerGroup) NumTiles() int {
	var n int
	for _, l := range g.Layers {
		n += l.Len()
	}
	return n
}

func (g *LayerGroup) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d layers x %d tiles starting at #%d", len(g.Layers), g.TilesPerLayer, g.StartIndex)
	if len(g.Layers) > 0 {
		fmt.Fprintf(&b, " (%s .. %s)", g.Layers[0].ID, g.LastLayer().ID)
	}
	if g.Restart != nil {
		fmt.Fprintf(&b, ", ended by %s", g.Restart)
	}
	return b.String()
}

// AllLayers flattens groups into their layers in order.
func AllLayers(groups []*LayerGroup) []*Layer {
	var layers []*Layer
	for _, g := range groups {
		layers = append(layers, g.Layers...)
	}
	return layers
}
