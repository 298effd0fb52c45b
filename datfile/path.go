package datfile

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// ErrBadTileName is returned for file names that don't follow the tile naming convention.
var ErrBadTileName = errors.New("file name does not match tile naming convention")

// StampLayout is the Go time layout of the acquisition stamp in tile file names.
const StampLayout = "06-01-02_150405"

var tileNameRE = regexp.MustCompile(`^(.+)_(\d{2}-\d{2}-\d{2}_\d{6})_(\d+)-(\d+)-(\d+)\.dat$`)

// TileIdentity is the part of a tile path used for equality and ordering.
type TileIdentity struct {
	Scope    string
	Stamp    string
	Acquired time.Time
	Section  int
	Row      int
	Column   int
}

// TilePath locates a tile file and carries its identity.  Key is where the file
// lives in its store and takes no part in comparisons.
type TilePath struct {
	Key string
	TileIdentity
}

// ParseTilePath derives tile identity from the base name of key.
func ParseTilePath(key string) (TilePath, error) {
	base := path.Base(key)
	m := tileNameRE.FindStringSubmatch(base)
	if m == nil {
		return TilePath{}, fmt.Errorf("%q: %w", key, ErrBadTileName)
	}
	acquired, err := time.ParseInLocation(StampLayout, m[2], time.UTC)
	if err != nil {
		return TilePath{}, fmt.Errorf("%q has bad acquisition stamp %q: %w", key, m[2], ErrBadTileName)
	}
	var idx [3]int
	for i := range idx {
		if idx[i], err = strconv.Atoi(m[3+i]); err != nil {
			return TilePath{}, fmt.Errorf("%q: %w", key, ErrBadTileName)
		}
	}
	return TilePath{
		Key: key,
		TileIdentity: TileIdentity{
			Scope:    m[1],
			Stamp:    m[2],
			Acquired: acquired,
			Section:  idx[0],
			Row:      idx[1],
			Column:   idx[2],
		},
	}, nil
}

// LayerID identifies all tiles acquired at the same instant by one scope.
func (id TileIdentity) LayerID() string {
	return id.Scope + "_" + id.Stamp
}

// GroupName is the archive group name of the tile, "<section>-<row>-<column>".
func (id TileIdentity) GroupName() string {
	return fmt.Sprintf("%d-%d-%d", id.Section, id.Row, id.Column)
}

// MipmapGroupName is the archive group name of one mipmap level of the tile.
func (id TileIdentity) MipmapGroupName(level int) string {
	return fmt.Sprintf("%s.mipmap.%d", id.GroupName(), level)
}

// TileID is the canonical external key "<layer_id>.<section>-<row>-<column>".
func (id TileIdentity) TileID() string {
	return id.LayerID() + "." + id.GroupName()
}

// FileName reproduces the conventional tile file name.
func (id TileIdentity) FileName() string {
	return fmt.Sprintf("%s_%s_%d-%d-%d.dat", id.Scope, id.Stamp, id.Section, id.Row, id.Column)
}

// Equal compares identity only.
func (id TileIdentity) Equal(other TileIdentity) bool {
	return id.Scope == other.Scope && id.Acquired.Equal(other.Acquired) &&
		id.Section == other.Section && id.Row == other.Row && id.Column == other.Column
}

// Less orders by acquisition time, then scope, section, row and column.
func (id TileIdentity) Less(other TileIdentity) bool {
	if !id.Acquired.Equal(other.Acquired) {
		return id.Acquired.Before(other.Acquired)
	}
	if id.Scope != other.Scope {
		return id.Scope < other.Scope
	}
	if id.Section != other.Section {
		return id.Section < other.Section
	}
	if id.Row != other.Row {
		return id.Row < other.Row
	}
	return id.Column < other.Column
}

func (id TileIdentity) String() string {
	return id.TileID()
}

// ParseTilePaths parses and time-sorts keys.  The first malformed name aborts parsing.
func ParseTilePaths(keys []string) ([]TilePath, error) {
	paths := make([]TilePath, len(keys))
	for i, key := range keys {
		p, err := ParseTilePath(key)
		if err != nil {
			return nil, err
		}
		paths[i] = p
	}
	SortTilePaths(paths)
	return paths, nil
}

// SortTilePaths sorts in place by identity.
func SortTilePaths(paths []TilePath) {
	sort.SliceStable(paths, func(i, j int) bool {
		return paths[i].Less(paths[j].TileIdentity)
	})
}
