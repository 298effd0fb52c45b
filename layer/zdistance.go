package layer

import "math"

// wdScale converts a working distance difference to the z step unit.
const wdScale = 1_000_000

// ZDistance returns the working-distance derived z step from layer a to layer b,
// using the first tile of b whose row and column also occur in a.  It returns false
// if the layers share no row/column position.
func ZDistance(a, b *Layer) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	type rc struct{ row, col int }
	wd := make(map[rc]float32, a.Len())
	for _, t := range a.Tiles {
		k := rc{t.Path.Row, t.Path.Column}
		if _, found := wd[k]; !found {
			wd[k] = t.Header.WD
		}
	}
	for _, t := range b.Tiles {
		if wdA, found := wd[rc{t.Path.Row, t.Path.Column}]; found {
			return (float64(t.Header.WD) - float64(wdA)) * wdScale, true
		}
	}
	return 0, false
}

// ZDistances returns the z step between each pair of adjacent layers that share a
// row/column position.
func ZDistances(layers []*Layer) []float64 {
	var dists []float64
	for i := 1; i < len(layers); i++ {
		if d, ok := ZDistance(layers[i-1], layers[i]); ok {
			dists = append(dists, d)
		}
	}
	return dists
}

// NominalZResolution returns the rounded mean of the z steps between adjacent
// layers, or false if no adjacent pair shares a position.
func NominalZResolution(layers []*Layer) (float64, bool) {
	dists := ZDistances(layers)
	if len(dists) == 0 {
		return 0, false
	}
	var sum float64
	for _, d := range dists {
		sum += d
	}
	return math.Round(sum / float64(len(dists))), true
}

// AnnotateRestarts sets the z distance across every restart whose adjacent layers
// share a position.
func AnnotateRestarts(groups []*LayerGroup) {
	for _, g := range groups {
		ev := g.Restart
		if ev == nil {
			continue
		}
		ev.DistanceZ, ev.HasDistanceZ = ZDistance(ev.Before, ev.After)
	}
}
