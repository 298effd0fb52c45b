package convert

import (
	"fmt"
	"path"

	"github.com/janelia-flyem/emtile/datfile"
)

// Range selects a contiguous run of time-sorted tiles, either by index or by file
// name.  The zero Range selects everything.
type Range struct {
	Start int // first index
	Stop  int // one past the last index; <= 0 means no limit

	First string // first file name, inclusive
	Last  string // last file name, inclusive
}

func (r Range) String() string {
	switch {
	case r.First != "" || r.Last != "":
		return fmt.Sprintf("names [%q, %q]", r.First, r.Last)
	case r.Stop > 0:
		return fmt.Sprintf("indices [%d, %d)", r.Start, r.Stop)
	default:
		return fmt.Sprintf("indices [%d, end)", r.Start)
	}
}

// Select returns the sub-slice of sorted paths within the range.  A Stop beyond the
// end of paths is clipped; names that match no tile are an error.
func (r Range) Select(paths []datfile.TilePath) ([]datfile.TilePath, error) {
	start, stop := r.Start, len(paths)
	if r.Stop > 0 && r.Stop < stop {
		stop = r.Stop
	}
	if r.First != "" {
		i := findName(paths, r.First)
		if i < 0 {
			return nil, fmt.Errorf("first tile %q not found among %d tiles", r.First, len(paths))
		}
		start = i
	}
	if r.Last != "" {
		i := findName(paths, r.Last)
		if i < 0 {
			return nil, fmt.Errorf("last tile %q not found among %d tiles", r.Last, len(paths))
		}
		stop = i + 1
	}
	if start > len(paths) {
		return nil, fmt.Errorf("start index %d past the %d tiles found", start, len(paths))
	}
	if stop < start {
		return nil, fmt.Errorf("range %s is empty", r)
	}
	return paths[start:stop], nil
}

// findName matches either the full key or the base name of each path.
func findName(paths []datfile.TilePath, name string) int {
	for i, p := range paths {
		if p.Key == name || path.Base(p.Key) == name {
			return i
		}
	}
	return -1
}
